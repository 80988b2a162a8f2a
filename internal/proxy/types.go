package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/fenceio/fence/internal/llm"
)

// --- Anthropic Messages API wire types ---

// MessagesRequest is the JSON body for POST /v1/messages.
type MessagesRequest struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"` // string or array of text blocks
	Messages    []MessageParam  `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []ToolParam     `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"` // string or {"type": ...}
}

// MessageParam is one conversation turn. Content is either a plain string or
// an array of content blocks.
type MessageParam struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ToolParam describes a tool offered to the model.
type ToolParam struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// contentBlockParam is one element of a structured content array.
type contentBlockParam struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // tool_result payload: string or blocks
	IsError   bool            `json:"is_error,omitempty"`
}

// MessagesResponse is the non-streaming JSON response.
type MessagesResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"` // always "message"
	Role         string             `json:"role"` // always "assistant"
	Model        string             `json:"model"`
	Content      []llm.ContentBlock `json:"content"`
	StopReason   string             `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        UsagePayload       `json:"usage"`
}

// UsagePayload reports token consumption in Anthropic field names.
type UsagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorBody is the structured error response. Message text is sanitized
// before it gets here; upstream and OS detail never leaks through.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// --- Request conversion ---

// toLLMRequest converts an Anthropic Messages request into the
// provider-neutral form, clamping max_tokens to the upstream cap.
func toLLMRequest(req *MessagesRequest, maxOutputTokens int) (*llm.Request, error) {
	out := &llm.Request{
		Temperature: req.Temperature,
	}

	system, err := parseSystem(req.System)
	if err != nil {
		return nil, err
	}
	out.SystemPrompt = system

	for i, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return nil, fmt.Errorf("messages[%d]: role must be user or assistant", i)
		}
		msg, err := parseMessage(m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out.Messages = append(out.Messages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > maxOutputTokens {
		maxTokens = maxOutputTokens
	}
	out.MaxTokens = maxTokens

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	out.ToolChoice = parseToolChoice(req.ToolChoice)

	return out, nil
}

// parseSystem accepts the system prompt as a plain string or an array of
// text blocks.
func parseSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []contentBlockParam
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("system must be a string or an array of text blocks")
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out, nil
}

// parseMessage accepts content as a plain string or an array of content
// blocks (text, tool_use, tool_result).
func parseMessage(m MessageParam) (llm.Message, error) {
	role := llm.Role(m.Role)

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return llm.Message{Role: role, Content: s}, nil
	}

	var params []contentBlockParam
	if err := json.Unmarshal(m.Content, &params); err != nil {
		return llm.Message{}, fmt.Errorf("content must be a string or an array of content blocks")
	}

	var blocks []llm.ContentBlock
	for _, p := range params {
		switch p.Type {
		case "text":
			blocks = append(blocks, llm.TextBlock(p.Text))
		case "tool_use":
			blocks = append(blocks, llm.ToolUseBlock(p.ID, p.Name, p.Input))
		case "tool_result":
			blocks = append(blocks, llm.ToolResultBlock(p.ToolUseID, flattenToolResult(p.Content), p.IsError))
		default:
			return llm.Message{}, fmt.Errorf("unsupported content block type %q", p.Type)
		}
	}
	return llm.Message{Role: role, ContentBlocks: blocks}, nil
}

// flattenToolResult renders a tool_result payload as plain text. The payload
// may be a string, an array of text blocks, or arbitrary JSON; anything
// non-textual is forwarded as compact JSON.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlockParam
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		if out != "" {
			return out
		}
	}
	return string(raw)
}

func parseToolChoice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Type == "auto" || obj.Type == "none") {
		return obj.Type
	}
	return ""
}
