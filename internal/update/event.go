// Package update defines the typed, ordered event union a turn emits on
// its update bus: the user-visible projection of a turn's progress,
// decoupled from any particular transport (stdio, HTTP, SSE).
package update

import "github.com/jarvis-run/turnengine/internal/tool"

// Kind discriminates the closed set of update-bus events.
type Kind string

const (
	KindUserMessageChunk        Kind = "user_message_chunk"
	KindAgentMessageChunk       Kind = "agent_message_chunk"
	KindAgentThoughtChunk       Kind = "agent_thought_chunk"
	KindToolCall                Kind = "tool_call"
	KindToolCallUpdate          Kind = "tool_call_update"
	KindAvailableCommandsUpdate Kind = "available_commands_update"
	KindTokenUsage              Kind = "token_usage"
	KindPermissionRequest       Kind = "permission_request"
	KindCompleted               Kind = "completed"
	KindError                   Kind = "error"
	KindAborted                 Kind = "aborted"
)

// ToolCallStatus is ToolCall/ToolCallUpdate's lifecycle field.
type ToolCallStatus string

const (
	StatusPending    ToolCallStatus = "pending"
	StatusInProgress ToolCallStatus = "in_progress"
	StatusCompleted  ToolCallStatus = "completed"
	StatusFailed     ToolCallStatus = "failed"
)

// Command describes one slash command surfaced to clients via
// AvailableCommandsUpdate.
type Command struct {
	Name        string
	Description string
}

// Event is one entry in a session's ordered, total-order update-bus
// stream. Exactly one of the payload fields is meaningful, selected by
// Kind; the rest are zero.
type Event struct {
	Kind Kind

	// KindUserMessageChunk, KindAgentMessageChunk, KindAgentThoughtChunk
	Content string

	// KindToolCall, KindToolCallUpdate
	ToolCallID string
	Title      string
	ToolKind   tool.Kind
	Status     ToolCallStatus
	Locations  []tool.Location
	RawInput   map[string]any
	RawOutput  map[string]any
	ToolOutput string

	// KindAvailableCommandsUpdate
	Commands []Command

	// KindTokenUsage
	InputTokens  int
	OutputTokens int
	Cost         float64

	// KindPermissionRequest
	PermissionID string
	ToolID       string
	Summary      string

	// KindCompleted
	MessageID string
	Text      string

	// KindError
	Err error
}

// NewToolCall builds the first ToolCall event for a call, status
// Pending, before the tool has actually run.
func NewToolCall(id, name string, rawInput map[string]any) Event {
	return Event{
		Kind:       KindToolCall,
		ToolCallID: id,
		Title:      name,
		ToolKind:   tool.KindForName(name),
		Status:     StatusPending,
		RawInput:   rawInput,
	}
}

// NewToolCallUpdate builds a status transition for an already-announced
// tool call.
func NewToolCallUpdate(id string, status ToolCallStatus) Event {
	return Event{Kind: KindToolCallUpdate, ToolCallID: id, Status: status}
}
