package command

import (
	"context"
	"testing"

	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/update"
)

func TestIsSlashCommand(t *testing.T) {
	if !IsSlashCommand("/clear") {
		t.Error("expected /clear to be recognized as a slash command")
	}
	if IsSlashCommand("  /help") {
		// leading whitespace before the slash is still a slash command
	} else {
		t.Error("expected leading-whitespace slash command to be recognized")
	}
	if IsSlashCommand("hello") {
		t.Error("did not expect a plain prompt to be a slash command")
	}
}

func TestDispatchUnknown(t *testing.T) {
	result := Dispatch(context.Background(), "/frobnicate", nil, Dependencies{})
	if len(result.Events) != 1 || result.Events[0].Kind != update.KindAgentMessageChunk {
		t.Fatalf("expected one AgentMessageChunk event, got %+v", result.Events)
	}
	if result.Events[0].Content != "Unknown command: /frobnicate" {
		t.Errorf("unexpected content: %q", result.Events[0].Content)
	}
}

func TestDispatchClearPreservesSystemMessage(t *testing.T) {
	messages := []message.Message{
		message.SystemText("be helpful"),
		message.UserText("hi"),
		message.AssistantText("hello"),
	}
	result := Dispatch(context.Background(), "/clear", messages, Dependencies{})
	if len(result.Messages) != 1 || result.Messages[0].Role != message.RoleSystem {
		t.Fatalf("expected only the system message to survive /clear, got %+v", result.Messages)
	}
}

func TestDispatchClearNoSystemMessage(t *testing.T) {
	messages := []message.Message{message.UserText("hi"), message.AssistantText("hello")}
	result := Dispatch(context.Background(), "/clear", messages, Dependencies{})
	if len(result.Messages) != 0 {
		t.Fatalf("expected an empty log, got %+v", result.Messages)
	}
}

func TestDispatchForwardsClientCommands(t *testing.T) {
	for _, name := range []string{"help", "model", "sandbox", "mcp"} {
		result := Dispatch(context.Background(), "/"+name+" extra args", nil, Dependencies{})
		if result.Forward == nil || result.Forward.Name != name {
			t.Fatalf("expected /%s to forward to the client, got %+v", name, result.Forward)
		}
		if result.Forward.Args != "extra args" {
			t.Errorf("expected args to be preserved, got %q", result.Forward.Args)
		}
	}
}

func TestDispatchCompactNotNeeded(t *testing.T) {
	result := Dispatch(context.Background(), "/compact", []message.Message{message.UserText("hi")}, Dependencies{
		CompactionConfig: compaction.DefaultCompactionConfig(),
		InputLimit:       200_000,
	})
	if len(result.Events) != 1 {
		t.Fatalf("expected one event, got %+v", result.Events)
	}
	if result.Messages != nil {
		t.Errorf("expected no message-log replacement when compaction is not needed, got %+v", result.Messages)
	}
}
