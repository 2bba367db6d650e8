package update

import (
	"testing"

	"github.com/jarvis-run/turnengine/internal/tool"
)

func TestNewToolCallIsPendingWithDerivedKind(t *testing.T) {
	ev := NewToolCall("call1", "bash", map[string]any{"command": "ls"})
	if ev.Kind != KindToolCall {
		t.Fatalf("Kind = %q, want %q", ev.Kind, KindToolCall)
	}
	if ev.Status != StatusPending {
		t.Fatalf("Status = %q, want %q", ev.Status, StatusPending)
	}
	if ev.ToolKind != tool.KindShell {
		t.Fatalf("ToolKind = %q, want %q", ev.ToolKind, tool.KindShell)
	}
	if ev.ToolCallID != "call1" || ev.Title != "bash" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestNewToolCallUpdateCarriesOnlyIDAndStatus(t *testing.T) {
	ev := NewToolCallUpdate("call1", StatusCompleted)
	if ev.Kind != KindToolCallUpdate {
		t.Fatalf("Kind = %q, want %q", ev.Kind, KindToolCallUpdate)
	}
	if ev.ToolCallID != "call1" || ev.Status != StatusCompleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Title != "" || ev.RawInput != nil {
		t.Fatalf("expected update event to carry no announce-time fields, got %+v", ev)
	}
}

func TestKindSetIsClosedAtElevenMembers(t *testing.T) {
	kinds := []Kind{
		KindUserMessageChunk, KindAgentMessageChunk, KindAgentThoughtChunk,
		KindToolCall, KindToolCallUpdate, KindAvailableCommandsUpdate,
		KindTokenUsage, KindPermissionRequest, KindCompleted, KindError, KindAborted,
	}
	if len(kinds) != 11 {
		t.Fatalf("expected exactly 11 event kinds, got %d", len(kinds))
	}
	seen := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate kind %q", k)
		}
		seen[k] = true
	}
}
