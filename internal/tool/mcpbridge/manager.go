package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ServerStatus is the lifecycle state of one configured MCP server.
type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusReady   ServerStatus = "ready"
	StatusFailed  ServerStatus = "failed"
)

type serverState struct {
	status ServerStatus
	err    error
	client *Client
}

// Manager owns the set of configured MCP servers, starts them, and
// exposes their tools as a flat, name-prefixed list.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	statuses map[string]*serverState
}

func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{Servers: make(map[string]ServerConfig)}
	}
	return &Manager{config: cfg, statuses: make(map[string]*serverState)}
}

// StartAll connects every configured server. A server that fails to
// start is recorded as StatusFailed rather than aborting the others,
// since one misconfigured MCP server should not disable the rest.
func (m *Manager) StartAll(ctx context.Context) []error {
	m.mu.RLock()
	names := m.config.ServerNames()
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.Start(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

// Start connects a single named server.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown mcp server: %s", name)
	}
	client := NewClient(name, serverCfg)
	m.statuses[name] = &serverState{status: StatusReady, client: client}
	m.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		m.mu.Lock()
		m.statuses[name] = &serverState{status: StatusFailed, err: err}
		m.mu.Unlock()
		return err
	}
	return nil
}

// StopAll disconnects every running server.
func (m *Manager) StopAll() {
	m.mu.Lock()
	states := m.statuses
	m.statuses = make(map[string]*serverState)
	m.mu.Unlock()

	for _, st := range states {
		if st.client != nil {
			st.client.Stop()
		}
	}
}

// Status returns the named server's current state.
func (m *Manager) Status(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return st.status, st.err
}

// AllTools returns every tool from every ready server, with names
// prefixed "servername__toolname" to keep them unique across servers.
func (m *Manager) AllTools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolSpec
	for name, st := range m.statuses {
		if st.status != StatusReady || st.client == nil {
			continue
		}
		for _, t := range st.client.Tools() {
			out = append(out, ToolSpec{
				Name:        fmt.Sprintf("%s__%s", name, t.Name),
				Description: fmt.Sprintf("[%s] %s", name, t.Description),
				Schema:      t.Schema,
			})
		}
	}
	return out
}

// CallTool routes a "servername__toolname" call to its owning server.
func (m *Manager) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid mcp tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	st, ok := m.statuses[serverName]
	m.mu.RUnlock()
	if !ok || st.status != StatusReady || st.client == nil {
		return "", fmt.Errorf("mcp server %s is not running", serverName)
	}

	return st.client.CallTool(ctx, toolName, args)
}

func parseToolName(fullName string) (serverName, toolName string) {
	for i := 0; i < len(fullName)-1; i++ {
		if fullName[i] == '_' && fullName[i+1] == '_' {
			return fullName[:i], fullName[i+2:]
		}
	}
	return "", fullName
}
