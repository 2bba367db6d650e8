package compaction

import (
	"strings"
	"testing"

	"github.com/jarvis-run/turnengine/internal/message"
)

func TestIsOverflow(t *testing.T) {
	tokens := Usage{Input: 90_000, Output: 5_000}

	if !IsOverflow(tokens, 100_000, 16_000) {
		t.Error("expected overflow at 95k used / 100k limit / 16k reserve")
	}
	if IsOverflow(tokens, 200_000, 16_000) {
		t.Error("did not expect overflow at 95k used / 200k limit")
	}
}

func TestProtectedTools(t *testing.T) {
	if !ProtectedTools["skill"] {
		t.Error("expected skill to be protected")
	}
	if ProtectedTools["bash"] {
		t.Error("did not expect bash to be protected")
	}
}

func TestNeedsCompaction(t *testing.T) {
	cfg := DefaultCompactionConfig()

	if NeedsCompaction(nil, 100_000, cfg) {
		t.Error("empty messages should not need compaction")
	}

	few := []message.Message{
		message.UserText("test"),
		message.UserText("test"),
		message.UserText("test"),
	}
	if NeedsCompaction(few, 100_000, cfg) {
		t.Error("few messages should not need compaction")
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	msg := message.UserText("Hello, this is a test message.")
	tokens := EstimateMessageTokens(msg)
	if tokens <= 5 || tokens >= 20 {
		t.Errorf("expected tokens in (5, 20), got %d", tokens)
	}
}

func TestIsCompactionMessage(t *testing.T) {
	normal := message.AssistantText("Hello")
	if isCompactionMessage(normal) {
		t.Error("normal message flagged as compaction summary")
	}

	compacted := message.AssistantText("[Previous conversation summary (5 messages)]\n\nSummary here")
	if !isCompactionMessage(compacted) {
		t.Error("compaction summary message not recognized")
	}
}

func TestPruneSkipsProtectedTools(t *testing.T) {
	messages := []message.Message{
		message.UserText("test"),
		message.UserText("test2"),
		message.UserText("test3"),
		message.AssistantToolUse("tool1", "skill", []byte(`{}`)),
		message.ToolResultMessage("tool1", strings.Repeat("x", 100_000), false),
	}

	cfg := DefaultCompactionConfig()
	pruned := pruneToolOutputs(messages, cfg)

	if pruned != 0 {
		t.Errorf("expected protected skill output to stay unpruned, freed %d tokens", pruned)
	}
}

func TestPruneFreesOldUnprotectedOutput(t *testing.T) {
	var messages []message.Message
	for i := 0; i < 10; i++ {
		messages = append(messages,
			message.UserText("go look at this file"),
			message.AssistantToolUse("tool"+string(rune('a'+i)), "bash", []byte(`{}`)),
			message.ToolResultMessage("tool"+string(rune('a'+i)), strings.Repeat("y", 30_000), false),
		)
	}

	cfg := DefaultCompactionConfig()
	pruned := pruneToolOutputs(messages, cfg)

	if pruned == 0 {
		t.Error("expected old large tool outputs to be pruned")
	}

	foundCompacted := false
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type == message.PartToolResult && p.ToolResult.Content == "[compacted]" {
				foundCompacted = true
			}
		}
	}
	if !foundCompacted {
		t.Error("expected at least one tool result replaced with [compacted]")
	}
}

func TestInputLimitForProviderModel(t *testing.T) {
	if limit := InputLimitForProviderModel("anthropic", "claude-sonnet-4-5"); limit != 200_000 {
		t.Errorf("unexpected limit for known model: %d", limit)
	}
	if limit := InputLimitForProviderModel("unknown", "unknown-model"); limit != 0 {
		t.Errorf("expected 0 for unrecognized provider/model, got %d", limit)
	}
}
