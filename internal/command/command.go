// Package command implements slash-command dispatch (C10): the small set
// of prompts that never touch the model because they begin with "/".
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/update"
)

// ClientCommand names a recognized command whose UX the core does not
// own (help/model/sandbox/mcp); the caller (TUI, serve handler, ...)
// decides how to present it.
type ClientCommand struct {
	Name string
	Args string
}

// Result is the outcome of dispatching one slash command.
type Result struct {
	// Events are appended to the session's update bus in order.
	Events []update.Event

	// Messages replaces the session's message log when non-nil. A
	// non-nil empty slice means "truncate to empty".
	Messages []message.Message

	// Forward is set for commands the core recognizes but whose UX
	// belongs to the caller (help/model/sandbox/mcp).
	Forward *ClientCommand
}

// Dependencies are the collaborators /compact needs to invoke the
// compaction engine on the caller's behalf.
type Dependencies struct {
	Provider         stream.Provider
	Model            string
	System           string
	CompactionConfig compaction.CompactionConfig
	InputLimit       int
}

// IsSlashCommand reports whether text is a slash command rather than a
// prompt to forward to the model.
func IsSlashCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// clientCommands are recognized by name but owned by the caller: the
// core only forwards them, per spec.md 4.7.
var clientCommands = map[string]bool{
	"help":    true,
	"model":   true,
	"sandbox": true,
	"mcp":     true,
}

// Dispatch executes a recognized slash command, or reports it unknown.
// messages is the session's current message log; for commands that do
// not mutate it, Result.Messages is nil.
func Dispatch(ctx context.Context, text string, messages []message.Message, deps Dependencies) Result {
	trimmed := strings.TrimSpace(text)
	name, args, _ := strings.Cut(strings.TrimPrefix(trimmed, "/"), " ")
	name = strings.ToLower(strings.TrimSpace(name))
	args = strings.TrimSpace(args)

	switch {
	case name == "compact":
		return dispatchCompact(ctx, messages, deps)
	case name == "clear":
		return dispatchClear(messages)
	case clientCommands[name]:
		return Result{Forward: &ClientCommand{Name: name, Args: args}}
	default:
		return Result{Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: fmt.Sprintf("Unknown command: /%s", name)},
		}}
	}
}

func dispatchClear(messages []message.Message) Result {
	var preserved []message.Message
	if len(messages) > 0 && messages[0].Role == message.RoleSystem {
		preserved = []message.Message{messages[0]}
	} else {
		preserved = []message.Message{}
	}
	return Result{
		Messages: preserved,
		Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: "Conversation cleared."},
		},
	}
}

func dispatchCompact(ctx context.Context, messages []message.Message, deps Dependencies) Result {
	before := len(messages)
	beforeTokens := compaction.EstimateMessagesTokens(messages)

	tokens := compaction.Usage{Input: beforeTokens}
	result, err := compaction.Compact(ctx, deps.Provider, deps.Model, deps.System, messages, deps.CompactionConfig, tokens, deps.InputLimit, false)
	if err != nil {
		return Result{Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: fmt.Sprintf("Compaction failed: %v", err)},
		}}
	}

	switch result.Kind {
	case compaction.ResultNotNeeded:
		return Result{Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: "Nothing to compact: conversation is already small."},
		}}
	case compaction.ResultInsufficientMessages:
		return Result{Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: "Not enough messages to compact yet."},
		}}
	case compaction.ResultFailed:
		return Result{Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: fmt.Sprintf("Compaction failed: %s", result.Err)},
		}}
	}

	after := len(result.Messages)
	afterTokens := compaction.EstimateMessagesTokens(result.Messages)
	saved := beforeTokens - afterTokens
	if saved < 0 {
		saved = 0
	}

	summary := fmt.Sprintf("Compacted %d→%d messages, summarized %d, saved ~%d tokens.", before, after, result.MessagesSummarized, saved)
	return Result{
		Messages: result.Messages,
		Events: []update.Event{
			{Kind: update.KindAgentMessageChunk, Content: summary},
		},
	}
}
