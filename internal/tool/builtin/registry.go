package builtin

import (
	"time"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// defaultToolNames is the full builtin set, registered when Config.Enabled
// is empty.
var defaultToolNames = []string{
	"read", "write", "edit", "multiedit", "patch",
	"bash", "grep", "glob", "webfetch",
	"todo_write", "todo_read",
}

// Config drives which built-in tools a Registry exposes, grounded in the
// teacher's internal/tools.ToolConfig/registerEnabledTools pattern.
type Config struct {
	Enabled        []string
	BashTimeout    time.Duration
	BashMaxTimeout time.Duration
	OutputLimits   OutputLimits
}

func DefaultConfig() Config {
	return Config{
		Enabled:        defaultToolNames,
		BashTimeout:    30 * time.Second,
		BashMaxTimeout: 300 * time.Second,
		OutputLimits:   DefaultOutputLimits(),
	}
}

// Registry is the concrete tool.Registry implementation wiring every
// built-in tool.
type Registry struct {
	tools map[string]tool.Tool
	order []string
}

// NewRegistry constructs a Registry from cfg, instantiating one
// implementation per enabled name.
func NewRegistry(cfg Config) (*Registry, error) {
	enabled := cfg.Enabled
	if len(enabled) == 0 {
		enabled = defaultToolNames
	}

	todoStore := NewTodoStore()

	r := &Registry{tools: make(map[string]tool.Tool, len(enabled))}
	for _, name := range enabled {
		t, err := r.build(name, cfg, todoStore)
		if err != nil {
			return nil, err
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

func (r *Registry) build(name string, cfg Config, todoStore *TodoStore) (tool.Tool, error) {
	switch name {
	case "read":
		return NewReadTool(cfg.OutputLimits), nil
	case "write":
		return NewWriteTool(), nil
	case "edit":
		return NewEditTool(), nil
	case "multiedit":
		return NewMultiEditTool(), nil
	case "patch":
		return NewPatchTool(), nil
	case "bash":
		return NewBashTool(cfg.BashTimeout, cfg.BashMaxTimeout, cfg.OutputLimits), nil
	case "grep":
		return NewGrepTool(), nil
	case "glob":
		return NewGlobTool(), nil
	case "webfetch":
		return NewWebFetchTool(), nil
	case "todo_write":
		return NewTodoWriteTool(todoStore), nil
	case "todo_read":
		return NewTodoReadTool(todoStore), nil
	default:
		return nil, tool.Errorf(tool.ErrValidation, "unknown tool: %s", name)
	}
}

func (r *Registry) Lookup(name string) (tool.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Specs() []tool.Spec {
	specs := make([]tool.Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

func (r *Registry) Definitions() []tool.ToolDefinitioner {
	return r.Specs()
}
