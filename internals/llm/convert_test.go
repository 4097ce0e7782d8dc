package llm

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestToBetaMessagesToolResult(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	conv := Conversation{
		NewUserText("take a screenshot"),
		{Role: RoleAssistant, Content: []ContentBlock{
			NewToolUseBlock("tu_1", "computer", json.RawMessage(`{"action":"screenshot"}`)),
		}},
		{Role: RoleUser, Content: []ContentBlock{
			&ToolResultBlock{ToolUseID: "tu_1", Content: []ContentBlock{
				NewTextBlock("done"),
				NewImageBlock("image/png", png),
			}},
		}},
		{Role: RoleUser, Content: []ContentBlock{
			&ToolResultBlock{ToolUseID: "tu_2", IsError: true, Content: []ContentBlock{NewTextBlock("boom")}},
		}},
	}

	params, err := toBetaMessages(conv)
	if err != nil {
		t.Fatalf("toBetaMessages: %v", err)
	}
	if len(params) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params))
	}

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"tool_use_id":"tu_1"`,
		`"data":"` + base64.StdEncoding.EncodeToString(png) + `"`,
		`"media_type":"image/png"`,
		`"is_error":true`,
		`"action":"screenshot"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded messages missing %s\n%s", want, s)
		}
	}
}

func TestToBetaMessagesRejects(t *testing.T) {
	tests := []struct {
		name string
		conv Conversation
	}{
		{"empty", nil},
		{"bad role", Conversation{{Role: "tool", Content: []ContentBlock{NewTextBlock("x")}}}},
		{"unknown block", Conversation{{Role: RoleUser, Content: []ContentBlock{&UnknownBlock{Type: "mystery"}}}}},
		{"bad media type", Conversation{{Role: RoleUser, Content: []ContentBlock{NewImageBlock("image/tiff", nil)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := toBetaMessages(tt.conv); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToBetaToolsComputerDeclaration(t *testing.T) {
	decls := []ToolDeclaration{
		{Name: "computer", Display: &DisplayConfig{WidthPx: 1024, HeightPx: 768, Number: 1}},
		{Name: "bash", Description: "shell", InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)},
	}

	tools, err := toBetaTools(decls)
	if err != nil {
		t.Fatalf("toBetaTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].OfComputerUseTool20250124 == nil {
		t.Fatal("first tool should be the native computer tool")
	}
	if tools[1].OfTool == nil {
		t.Fatal("second tool should be a custom tool")
	}

	raw, _ := json.Marshal(tools)
	s := string(raw)
	for _, want := range []string{`"display_width_px":1024`, `"display_height_px":768`, `"name":"bash"`, `"description":"shell"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded tools missing %s\n%s", want, s)
		}
	}
}

func TestToBetaToolsBadSchema(t *testing.T) {
	_, err := toBetaTools([]ToolDeclaration{{Name: "x", InputSchema: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestConversationClone(t *testing.T) {
	conv := Conversation{{Role: RoleUser, Content: []ContentBlock{
		&ToolResultBlock{ToolUseID: "a", Content: []ContentBlock{NewImageBlock("image/png", []byte{1})}},
	}}}
	cp := conv.Clone()
	cp[0].Content[0].(*ToolResultBlock).Content = nil

	if n := len(conv[0].Content[0].(*ToolResultBlock).Content); n != 1 {
		t.Errorf("original modified: %d blocks", n)
	}
}

func TestConversationCompactDropsEmptyAssistant(t *testing.T) {
	conv := Conversation{
		NewUserText("first"),
		{Role: RoleAssistant},
		NewUserText("second"),
		{Role: RoleAssistant, Content: []ContentBlock{NewTextBlock("ok")}},
	}
	got := conv.Compact()
	if len(got) != 3 || got[1].Text() != "second" {
		t.Fatalf("Compact = %+v", got)
	}
	if len(conv) != 4 {
		t.Error("Compact modified its receiver")
	}

	msgs, err := toBetaMessages(append(got, NewUserText("third")))
	if err != nil {
		t.Fatalf("toBetaMessages: %v", err)
	}
	for i, m := range msgs {
		if len(m.Content) == 0 {
			t.Errorf("message[%d] has no content", i)
		}
	}
}
