package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// TodoItem is one entry of a session's working list.
type TodoItem struct {
	Content    string `json:"content"`
	Completed  bool   `json:"completed"`
	InProgress bool   `json:"inProgress"`
}

// TodoStore backs todo_write/todo_read with an in-memory per-session
// list: surfaced to the client via events but consumed by the model as
// plain text.
type TodoStore struct {
	mu    sync.Mutex
	lists map[string][]TodoItem
}

func NewTodoStore() *TodoStore {
	return &TodoStore{lists: make(map[string][]TodoItem)}
}

func (s *TodoStore) Set(sessionID string, items []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[sessionID] = items
}

func (s *TodoStore) Get(sessionID string) []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TodoItem(nil), s.lists[sessionID]...)
}

// TodoWriteTool implements todo_write(todos[]).
type TodoWriteTool struct {
	Store *TodoStore
}

func NewTodoWriteTool(store *TodoStore) *TodoWriteTool { return &TodoWriteTool{Store: store} }

type todoWriteArgs struct {
	Todos []TodoItem `json:"todos"`
}

func (t *TodoWriteTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "todo_write",
		Description: "Replace the session's working todo list with the given items.",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"todos"},
			"properties": map[string]any{
				"todos": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"content"},
						"properties": map[string]any{
							"content":    map[string]any{"type": "string"},
							"completed":  map[string]any{"type": "boolean"},
							"inProgress": map[string]any{"type": "boolean"},
						},
					},
				},
			},
		},
	}
}

func (t *TodoWriteTool) Preview(args json.RawMessage) string {
	var a todoWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return fmt.Sprintf("%d item(s)", len(a.Todos))
}

func (t *TodoWriteTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a todoWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	sessionID := ""
	if tc != nil {
		sessionID = tc.SessionID
	}
	t.Store.Set(sessionID, a.Todos)
	if tc != nil && tc.EventTx != nil {
		tc.EventTx.Emit("todo_updated", map[string]any{"todos": a.Todos})
	}
	return tool.Output{Output: renderTodos(a.Todos)}, nil
}

// TodoReadTool implements todo_read().
type TodoReadTool struct {
	Store *TodoStore
}

func NewTodoReadTool(store *TodoStore) *TodoReadTool { return &TodoReadTool{Store: store} }

func (t *TodoReadTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "todo_read",
		Description: "Read the session's current working todo list.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *TodoReadTool) Preview(args json.RawMessage) string { return "" }

func (t *TodoReadTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	sessionID := ""
	if tc != nil {
		sessionID = tc.SessionID
	}
	items := t.Store.Get(sessionID)
	return tool.Output{Output: renderTodos(items)}, nil
}

func renderTodos(items []TodoItem) string {
	if len(items) == 0 {
		return "(no todos)"
	}
	var sb strings.Builder
	for _, item := range items {
		mark := "[ ]"
		if item.Completed {
			mark = "[x]"
		} else if item.InProgress {
			mark = "[~]"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", mark, item.Content))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
