package mcpbridge

import (
	"context"
	"encoding/json"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jarvis-run/turnengine/internal/tool"
)

func TestServerConfigTransportType(t *testing.T) {
	stdio := ServerConfig{Command: "npx"}
	if stdio.TransportType() != "stdio" {
		t.Errorf("expected stdio, got %s", stdio.TransportType())
	}

	http := ServerConfig{URL: "https://example.com/mcp"}
	if http.TransportType() != "http" {
		t.Errorf("expected http, got %s", http.TransportType())
	}

	explicit := ServerConfig{Type: "http", URL: "https://example.com/mcp"}
	if explicit.TransportType() != "http" {
		t.Errorf("expected http, got %s", explicit.TransportType())
	}
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Command: "npx", Args: []string{"pkg"}}, false},
		{"stdio missing command", ServerConfig{}, true},
		{"valid http", ServerConfig{URL: "https://example.com"}, false},
		{"http missing url", ServerConfig{Type: "http"}, true},
		{"both command and url", ServerConfig{Command: "npx", URL: "https://example.com"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestParseToolName(t *testing.T) {
	cases := []struct {
		full       string
		wantServer string
		wantTool   string
	}{
		{"filesystem__read_file", "filesystem", "read_file"},
		{"git__log", "git", "log"},
		{"noseparator", "", "noseparator"},
	}
	for _, c := range cases {
		server, name := parseToolName(c.full)
		if server != c.wantServer || name != c.wantTool {
			t.Errorf("parseToolName(%q) = (%q, %q), want (%q, %q)", c.full, server, name, c.wantServer, c.wantTool)
		}
	}
}

func TestFormatContentRendersText(t *testing.T) {
	content := []sdkmcp.Content{
		&sdkmcp.TextContent{Text: "hello "},
		&sdkmcp.TextContent{Text: "world"},
	}
	got := formatContent(content)
	if got != "hello world" {
		t.Errorf("formatContent() = %q, want %q", got, "hello world")
	}
}

func TestClientStartRejectsUnsupportedTransport(t *testing.T) {
	c := NewClient("remote", ServerConfig{URL: "https://example.com/mcp"})
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an http-transport server")
	}
}

func TestManagerStartUnknownServer(t *testing.T) {
	m := NewManager(&Config{Servers: map[string]ServerConfig{}})
	if err := m.Start(context.Background(), "missing"); err == nil {
		t.Fatal("expected error starting an unconfigured server")
	}
}

func TestManagerCallToolRoutesByPrefix(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CallTool(context.Background(), "unknown__tool", nil); err == nil {
		t.Fatal("expected error calling a tool on a server that was never started")
	}
}

// fakeBaseRegistry is a minimal tool.Registry stand-in so Registry's
// fallback-to-base behavior can be tested without constructing the full
// builtin registry.
type fakeBaseRegistry struct {
	tools map[string]tool.Tool
}

func (f *fakeBaseRegistry) Lookup(name string) (tool.Tool, bool) {
	t, ok := f.tools[name]
	return t, ok
}

func (f *fakeBaseRegistry) Specs() []tool.Spec {
	specs := make([]tool.Spec, 0, len(f.tools))
	for _, t := range f.tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

func (f *fakeBaseRegistry) Definitions() []tool.ToolDefinitioner {
	return f.Specs()
}

type fakeTool struct{ spec tool.Spec }

func (f *fakeTool) Spec() tool.Spec                   { return f.spec }
func (f *fakeTool) Preview(json.RawMessage) string    { return f.spec.Name }
func (f *fakeTool) Execute(context.Context, *tool.Context, json.RawMessage) (tool.Output, error) {
	return tool.Output{}, nil
}

func TestRegistryFallsBackToBase(t *testing.T) {
	base := &fakeBaseRegistry{tools: map[string]tool.Tool{
		"bash": &fakeTool{spec: tool.Spec{Name: "bash"}},
	}}
	reg := NewRegistry(base, NewManager(nil))

	if _, ok := reg.Lookup("bash"); !ok {
		t.Fatal("expected base tool bash to be found")
	}
	if _, ok := reg.Lookup("filesystem__read_file"); ok {
		t.Fatal("expected no mcp tool to be found when no server is running")
	}

	specs := reg.Specs()
	if len(specs) != 1 || specs[0].Name != "bash" {
		t.Errorf("expected exactly the base spec, got %+v", specs)
	}
}

func TestBridgeToolPreviewTruncates(t *testing.T) {
	bt := &bridgeTool{spec: ToolSpec{Name: "filesystem__read_file"}}
	if got := bt.Preview(json.RawMessage(`{}`)); got != "filesystem__read_file" {
		t.Errorf("Preview() = %q, want tool name for empty args", got)
	}

	long := json.RawMessage(`{"path":"` + string(make([]byte, 100)) + `"}`)
	if got := bt.Preview(long); len(got) > 60 {
		t.Errorf("Preview() returned %d bytes, want truncated to <= 60", len(got))
	}
}

func TestBridgeToolExecuteDeniedByApproval(t *testing.T) {
	bt := &bridgeTool{manager: NewManager(nil), spec: ToolSpec{Name: "filesystem__read_file"}}
	tc := &tool.Context{
		Approve: func(toolName, pattern string) (tool.Outcome, error) {
			return tool.Deny, nil
		},
	}
	_, err := bt.Execute(context.Background(), tc, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected execution to fail when approval denies the call")
	}
}
