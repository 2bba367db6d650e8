package mcpbridge

import (
	"context"
	"encoding/json"

	"github.com/jarvis-run/turnengine/internal/tool"
)

// bridgeTool adapts one MCP server tool to the tool.Tool contract.
type bridgeTool struct {
	manager *Manager
	spec    ToolSpec
}

func (t *bridgeTool) Spec() tool.Spec {
	return tool.Spec{Name: t.spec.Name, Description: t.spec.Description, Schema: t.spec.Schema}
}

func (t *bridgeTool) Preview(args json.RawMessage) string {
	if len(args) == 0 || string(args) == "{}" || string(args) == "null" {
		return t.spec.Name
	}
	if len(args) > 60 {
		return string(args[:57]) + "..."
	}
	return string(args)
}

func (t *bridgeTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	if tc != nil && tc.Approve != nil {
		outcome, err := tc.Approve("mcp", t.spec.Name)
		if err != nil {
			return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "%v", err)
		}
		if outcome == tool.Deny || outcome == tool.Cancel {
			return tool.Output{}, tool.Errorf(tool.ErrPermissionDenied, "mcp tool not allowed: %s", t.spec.Name)
		}
	}

	output, err := t.manager.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "%v", err)
	}
	return tool.Output{Title: t.spec.Name, Output: output}, nil
}

// Registry wraps a base tool.Registry, overlaying the live tool set of a
// Manager's connected MCP servers. Lookups check the base registry
// first, then the MCP tools; names never collide across the two sources
// because base tool names carry no "__" separator and bridged names
// always do.
type Registry struct {
	base    tool.Registry
	manager *Manager
}

// NewRegistry composes base (typically a builtin.Registry) with manager's
// live MCP tool set.
func NewRegistry(base tool.Registry, manager *Manager) *Registry {
	return &Registry{base: base, manager: manager}
}

func (r *Registry) Lookup(name string) (tool.Tool, bool) {
	if t, ok := r.base.Lookup(name); ok {
		return t, true
	}
	for _, spec := range r.manager.AllTools() {
		if spec.Name == name {
			return &bridgeTool{manager: r.manager, spec: spec}, true
		}
	}
	return nil, false
}

func (r *Registry) Specs() []tool.Spec {
	specs := r.base.Specs()
	for _, spec := range r.manager.AllTools() {
		specs = append(specs, tool.Spec{Name: spec.Name, Description: spec.Description, Schema: spec.Schema})
	}
	return specs
}

func (r *Registry) Definitions() []tool.ToolDefinitioner {
	return r.Specs()
}
