package proxy

import (
	"log/slog"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/fenceio/fence/internal/llm"
)

// streamResponse forwards the request upstream and relays the reply as an
// Anthropic-framed SSE stream: message_start, content_block_start,
// content_block_delta*, content_block_stop, message_delta, message_stop.
// Tool calls surface as additional tool_use content blocks after the text
// block, since the upstream only yields them once their arguments are
// complete.
func (s *Server) streamResponse(c *okapi.Context, req *llm.Request) error {
	events := make(chan llm.StreamEvent, 32)
	go func() {
		// Channel close and error delivery are the provider's contract.
		_ = s.provider.StreamMessage(c.Context(), req, events)
	}()

	start := time.Now()
	msgID := newMessageID()

	c.SSEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            msgID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         s.modelName(),
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	})
	c.SSEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]string{"type": "text", "text": ""},
	})

	// Output token count falls back to a delta count when the upstream does
	// not report usage, matching the non-streaming response's field.
	deltaCount := 0
	var usage *llm.Usage
	var toolBlocks []*llm.ContentBlock
	var streamErr error

	for ev := range events {
		switch ev.Type {
		case "text":
			deltaCount++
			c.SSEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]string{"type": "text_delta", "text": ev.Content},
			})
		case "tool_use":
			toolBlocks = append(toolBlocks, ev.ToolUse)
		case "done":
			usage = ev.Usage
		case "error":
			streamErr = ev.Error
		}
	}

	c.SSEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": 0,
	})

	s.recordUpstreamStream(streamErr, usage, time.Since(start))

	if streamErr != nil {
		s.logger.Error("upstream stream failed", slog.String("error", streamErr.Error()))
		c.SSEvent("error", map[string]any{
			"type":  "error",
			"error": ErrorBody{Kind: "upstream_error", Message: "upstream request failed"},
		})
		return nil
	}

	for i, b := range toolBlocks {
		index := i + 1
		c.SSEvent("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         index,
			"content_block": b,
		})
		c.SSEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": index,
		})
	}

	stopReason := "end_turn"
	if len(toolBlocks) > 0 {
		stopReason = "tool_use"
	}
	outputTokens := deltaCount
	if usage != nil {
		outputTokens = usage.OutputTokens
	}

	c.SSEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]int{"output_tokens": outputTokens},
	})
	c.SSEvent("message_stop", map[string]any{"type": "message_stop"})
	return nil
}

// recordUpstreamStream updates LLM metrics for a streamed exchange.
func (s *Server) recordUpstreamStream(err error, usage *llm.Usage, elapsed time.Duration) {
	metrics := s.obs.MetricsOrNil()
	if metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	model := s.upstream.Model
	metrics.LLMRequestsTotal.WithLabelValues(model, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	if usage != nil {
		metrics.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
		metrics.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	}
}
