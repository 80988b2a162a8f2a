// Package llm models conversations exchanged with an upstream model backend:
// messages built from content blocks, tool definitions, and token usage. The
// types carry no wire format of their own; the proxy decodes Anthropic JSON
// into them and the upstream client encodes them back out as chat
// completions.
package llm

import "context"

// Provider is one upstream backend capable of answering a conversation.
type Provider interface {
	// SendMessage forwards the conversation and blocks for the full reply.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name identifies the backend in logs and response model names.
	Name() string
}

// Request is one complete conversation turn set handed to the upstream.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64 // 0 = provider default
	Tools        []ToolDefinition
	ToolChoice   string // "auto", "none", or "". Empty means provider default.
}

// ToolDefinition advertises one callable tool to the model, schema included.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is a single conversation turn. Exactly one of Content (plain text)
// and ContentBlocks (structured) is populated.
type Message struct {
	Role          Role
	Content       string         // Plain text. Empty when ContentBlocks is used.
	ContentBlocks []ContentBlock // Structured content. Nil when Content is used.
}

// TextContent flattens the turn to plain text: the Content field when the
// message is unstructured, otherwise the text blocks joined in order.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var s string
	for _, b := range m.ContentBlocks {
		if b.Type == "text" {
			s += b.Text
		}
	}
	return s
}

// ContentBlock is one piece of structured message content. Type selects
// which field group is meaningful; the JSON tags follow the Anthropic block
// shapes so response content can be marshaled directly.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// text block fields
	Text string `json:"text,omitempty"`

	// tool_use block fields
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result block fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Role names the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is the upstream's reply, already normalized: finish reasons are
// mapped to the stop-reason vocabulary and tool calls appear as tool_use
// blocks.
type Response struct {
	Content       string         // Concatenated text content.
	ContentBlocks []ContentBlock // Full structured reply including tool_use blocks.
	Usage         Usage
	StopReason    string // "end_turn", "tool_use", "max_tokens"
}

// HasToolUse reports whether the model stopped to request tool execution.
func (r *Response) HasToolUse() bool {
	return r.StopReason == "tool_use"
}

// ToolUseBlocks filters the reply down to its tool_use blocks.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == "tool_use" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Usage counts tokens consumed on each side of one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
