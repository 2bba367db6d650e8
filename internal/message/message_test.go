package message

import "testing"

func TestTextContentJoinsTextPartsOnly(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartText, Text: "hello"},
			{Type: PartThinking, Text: "internal reasoning"},
			{Type: PartText, Text: "world"},
		},
	}
	if got, want := m.TextContent(), "hello\nworld"; got != want {
		t.Fatalf("TextContent() = %q, want %q", got, want)
	}
}

func TestToolUsesReturnsOnlyToolUseParts(t *testing.T) {
	m := AssistantToolUse("call1", "bash", []byte(`{"command":"ls"}`))
	m.Parts = append(m.Parts, Part{Type: PartText, Text: "narration"})

	uses := m.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("ToolUses() returned %d entries, want 1", len(uses))
	}
	if uses[0].ID != "call1" || uses[0].Name != "bash" {
		t.Fatalf("unexpected tool use: %+v", uses[0])
	}
}

func TestFindToolResultLocatesPairedResult(t *testing.T) {
	messages := []Message{
		UserText("run ls"),
		AssistantToolUse("call1", "bash", nil),
		ToolResultMessage("call1", "file1\nfile2", false),
	}

	result, ok := FindToolResult(messages, 0, "call1")
	if !ok {
		t.Fatal("expected to find a tool result")
	}
	if result.Content != "file1\nfile2" || result.IsError {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, ok := FindToolResult(messages, 3, "call1"); ok {
		t.Fatal("expected no result when searching past the message that holds it")
	}
}

func TestFindToolResultMissing(t *testing.T) {
	messages := []Message{UserText("hi")}
	if _, ok := FindToolResult(messages, 0, "nonexistent"); ok {
		t.Fatal("expected no match for an unknown tool use id")
	}
}
