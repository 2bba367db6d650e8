package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/tool"
	"github.com/jarvis-run/turnengine/internal/update"
)

// truncateToolResult truncates content to at most maxChars runes,
// appending a marker noting how much was cut.
func truncateToolResult(content string, maxChars int) string {
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	return string(runes[:maxChars]) + fmt.Sprintf("\n[Truncated: showing first %d of %d chars]", maxChars, len(runes))
}

// pendingCall is one model-issued tool invocation awaiting execution.
type pendingCall struct {
	ID    string
	Name  string
	Input []byte
}

// executeToolCalls runs calls against the registry, in parallel when
// there is more than one, and returns the paired tool-role messages in
// call order.
func (e *Engine) executeToolCalls(ctx context.Context, calls []pendingCall, tc *tool.Context, events chan<- update.Event) []message.Message {
	if len(calls) == 1 {
		return []message.Message{e.executeSingleToolCall(ctx, calls[0], tc, events)}
	}

	results := make([]message.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c pendingCall) {
			defer wg.Done()
			results[idx] = e.executeOneSafely(ctx, c, tc, events)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) executeOneSafely(ctx context.Context, call pendingCall, tc *tool.Context, events chan<- update.Event) (msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			events <- update.NewToolCallUpdate(call.ID, update.StatusFailed)
			msg = message.ToolResultMessage(call.ID, fmt.Sprintf("tool panicked: %v", r), true)
		}
	}()
	return e.executeSingleToolCall(ctx, call, tc, events)
}

func (e *Engine) executeSingleToolCall(ctx context.Context, call pendingCall, tc *tool.Context, events chan<- update.Event) message.Message {
	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		events <- update.NewToolCallUpdate(call.ID, update.StatusFailed)
		return message.ToolResultMessage(call.ID, fmt.Sprintf("tool not registered: %s", call.Name), true)
	}

	if !e.IsToolAllowed(call.Name) {
		events <- update.NewToolCallUpdate(call.ID, update.StatusFailed)
		return message.ToolResultMessage(call.ID, fmt.Sprintf("tool %q is not allowed in this mode", call.Name), true)
	}

	events <- update.NewToolCallUpdate(call.ID, update.StatusInProgress)

	out, err := t.Execute(ctx, tc, call.Input)
	if err != nil {
		events <- update.Event{Kind: update.KindToolCallUpdate, ToolCallID: call.ID, Status: update.StatusFailed, ToolOutput: err.Error()}
		return message.ToolResultMessage(call.ID, err.Error(), true)
	}

	content := e.applyToolOutputTruncation(out.Output)
	events <- update.Event{Kind: update.KindToolCallUpdate, ToolCallID: call.ID, Status: update.StatusCompleted, ToolOutput: content}
	return message.ToolResultMessage(call.ID, content, false)
}
