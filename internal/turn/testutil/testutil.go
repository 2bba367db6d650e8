// Package testutil provides lightweight fakes for driving internal/turn
// tests without a real model provider or tool registry.
package testutil

import (
	"context"
	"encoding/json"
	"io"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/tool"
)

// ScriptedProvider replays a fixed sequence of chunk lists, one per
// Generate call, regardless of the messages it's given.
type ScriptedProvider struct {
	ID    string
	Turns [][]stream.Chunk
	Cost  stream.Cost
	calls int
}

func (p *ScriptedProvider) ProviderID() string { return p.ID }

func (p *ScriptedProvider) ModelInfo(model string) (stream.ModelInfo, error) {
	return stream.ModelInfo{ID: model, ProviderID: p.ID, Cost: p.Cost, Limit: stream.Limit{Context: 200_000, Output: 8_000}}, nil
}

func (p *ScriptedProvider) Generate(ctx context.Context, messages []message.Message, opts stream.Options) (stream.Stream, error) {
	idx := p.calls
	p.calls++
	var chunks []stream.Chunk
	if idx < len(p.Turns) {
		chunks = p.Turns[idx]
	}
	return &chunkStream{chunks: chunks}, nil
}

type chunkStream struct {
	chunks []stream.Chunk
	pos    int
}

func (s *chunkStream) Recv() (stream.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return stream.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *chunkStream) Close() error { return nil }

// EchoTool returns its single "text" argument as output, for tool-call
// round-trip tests.
type EchoTool struct{ Name_ string }

func (t *EchoTool) Spec() tool.Spec {
	return tool.Spec{Name: t.Name_, Description: "echoes its text argument", Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}}
}

func (t *EchoTool) Preview(args json.RawMessage) string { return "echo" }

func (t *EchoTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &a)
	return tool.Output{Output: a.Text}, nil
}

// Registry is a minimal tool.Registry backed by a fixed map.
type Registry struct {
	Tools map[string]tool.Tool
}

func NewRegistry(tools ...tool.Tool) *Registry {
	r := &Registry{Tools: make(map[string]tool.Tool, len(tools))}
	for _, t := range tools {
		r.Tools[t.Spec().Name] = t
	}
	return r
}

func (r *Registry) Lookup(name string) (tool.Tool, bool) {
	t, ok := r.Tools[name]
	return t, ok
}

func (r *Registry) Specs() []tool.Spec {
	specs := make([]tool.Spec, 0, len(r.Tools))
	for _, t := range r.Tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

func (r *Registry) Definitions() []tool.ToolDefinitioner {
	return nil
}
