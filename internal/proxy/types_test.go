package proxy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fenceio/fence/internal/llm"
)

func TestToLLMRequest_PlainText(t *testing.T) {
	req := &MessagesRequest{
		Model:     "claude-sonnet",
		System:    json.RawMessage(`"You are helpful."`),
		MaxTokens: 512,
		Messages: []MessageParam{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
			{Role: "assistant", Content: json.RawMessage(`"hi"`)},
		},
	}

	out, err := toLLMRequest(req, 16384)
	if err != nil {
		t.Fatalf("toLLMRequest: %v", err)
	}
	if out.SystemPrompt != "You are helpful." {
		t.Errorf("system = %q", out.SystemPrompt)
	}
	if out.MaxTokens != 512 {
		t.Errorf("max tokens = %d", out.MaxTokens)
	}
	if len(out.Messages) != 2 || out.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", out.Messages)
	}
}

func TestToLLMRequest_ClampsMaxTokens(t *testing.T) {
	tests := []struct {
		requested, cap, want int
	}{
		{512, 16384, 512},
		{100000, 16384, 16384},
		{0, 16384, 16384},
	}
	for _, tt := range tests {
		req := &MessagesRequest{
			MaxTokens: tt.requested,
			Messages:  []MessageParam{{Role: "user", Content: json.RawMessage(`"x"`)}},
		}
		out, err := toLLMRequest(req, tt.cap)
		if err != nil {
			t.Fatal(err)
		}
		if out.MaxTokens != tt.want {
			t.Errorf("max_tokens %d with cap %d = %d, want %d", tt.requested, tt.cap, out.MaxTokens, tt.want)
		}
	}
}

func TestToLLMRequest_ContentBlocks(t *testing.T) {
	content := `[
		{"type": "text", "text": "ran the command"},
		{"type": "tool_use", "id": "toolu_1", "name": "Bash", "input": {"command": "pwd"}}
	]`
	req := &MessagesRequest{
		Messages: []MessageParam{
			{Role: "assistant", Content: json.RawMessage(content)},
		},
	}

	out, err := toLLMRequest(req, 16384)
	if err != nil {
		t.Fatalf("toLLMRequest: %v", err)
	}
	blocks := out.Messages[0].ContentBlocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].Type != "text" || blocks[0].Text != "ran the command" {
		t.Errorf("text block = %+v", blocks[0])
	}
	if blocks[1].Type != "tool_use" || blocks[1].ID != "toolu_1" || blocks[1].Input["command"] != "pwd" {
		t.Errorf("tool_use block = %+v", blocks[1])
	}
}

func TestToLLMRequest_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  *MessagesRequest
	}{
		{"bad role", &MessagesRequest{Messages: []MessageParam{{Role: "system", Content: json.RawMessage(`"x"`)}}}},
		{"bad content", &MessagesRequest{Messages: []MessageParam{{Role: "user", Content: json.RawMessage(`42`)}}}},
		{"unknown block type", &MessagesRequest{Messages: []MessageParam{{Role: "user", Content: json.RawMessage(`[{"type": "image"}]`)}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := toLLMRequest(tc.req, 16384); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToLLMRequest_Tools(t *testing.T) {
	req := &MessagesRequest{
		Messages:   []MessageParam{{Role: "user", Content: json.RawMessage(`"x"`)}},
		ToolChoice: json.RawMessage(`{"type": "auto"}`),
		Tools: []ToolParam{{
			Name:        "Bash",
			Description: "Run a command",
			InputSchema: map[string]any{"type": "object"},
		}},
	}
	out, err := toLLMRequest(req, 16384)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "Bash" {
		t.Errorf("tools = %+v", out.Tools)
	}
	if out.ToolChoice != "auto" {
		t.Errorf("tool choice = %q", out.ToolChoice)
	}
}

func TestParseSystem(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"string", `"be brief"`, "be brief"},
		{"blocks", `[{"type": "text", "text": "be "}, {"type": "text", "text": "brief"}]`, "be brief"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSystem(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("parseSystem = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := parseSystem(json.RawMessage(`42`)); err == nil {
		t.Error("expected error for numeric system")
	}
}

func TestFlattenToolResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"file1.txt  file2.txt"`, "file1.txt  file2.txt"},
		{"text blocks", `[{"type": "text", "text": "/sub"}]`, "/sub"},
		{"opaque json", `{"ok": true}`, `{"ok": true}`},
		{"empty", ``, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := flattenToolResult(json.RawMessage(tc.raw)); got != tc.want {
				t.Errorf("flattenToolResult = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseMessage_ToolResult(t *testing.T) {
	m := MessageParam{
		Role:    "user",
		Content: json.RawMessage(`[{"type": "tool_result", "tool_use_id": "toolu_1", "content": "done", "is_error": false}]`),
	}
	msg, err := parseMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != llm.RoleUser {
		t.Errorf("role = %q", msg.Role)
	}
	b := msg.ContentBlocks[0]
	if b.Type != "tool_result" || b.ToolUseID != "toolu_1" || b.Text != "done" {
		t.Errorf("block = %+v", b)
	}
}

func TestNewMessageID(t *testing.T) {
	id := newMessageID()
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("id = %q, want msg_ prefix", id)
	}
	if len(id) != len("msg_")+12 {
		t.Errorf("id length = %d", len(id))
	}
	if id == newMessageID() {
		t.Error("ids are not unique")
	}
}
