package llm

import "context"

// StreamEvent is one unit of an incremental reply. Text arrives as it is
// generated; tool_use blocks arrive once their arguments are complete; the
// final "done" event carries usage when the backend reports it.
type StreamEvent struct {
	Type    string        // "text", "tool_use", "done", "error"
	Content string        // Text delta for "text" events.
	ToolUse *ContentBlock // Completed block for "tool_use" events.
	Usage   *Usage        // Set on "done" when the backend reports usage.
	Error   error         // Set on "error" events.
}

// StreamingProvider is a Provider that can also deliver the reply
// incrementally. The event channel is always closed when the stream ends,
// whether it completed or failed.
type StreamingProvider interface {
	Provider
	StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error
}

// NonStreamingAdapter gives a buffered Provider the streaming interface: the
// full reply is fetched first, then replayed as one text event, the tool_use
// blocks, and a final done event.
type NonStreamingAdapter struct {
	Provider
}

func (a *NonStreamingAdapter) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	resp, err := a.SendMessage(ctx, req)
	if err != nil {
		events <- StreamEvent{Type: "error", Error: err}
		return err
	}

	if resp.Content != "" {
		events <- StreamEvent{Type: "text", Content: resp.Content}
	}

	for _, block := range resp.ToolUseBlocks() {
		b := block
		events <- StreamEvent{Type: "tool_use", ToolUse: &b}
	}

	usage := resp.Usage
	events <- StreamEvent{Type: "done", Usage: &usage}
	return nil
}
