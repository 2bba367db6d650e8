// Package mcpbridge exposes tools from external Model Context Protocol
// servers as tool.Tool implementations, so the turn engine can call them
// through the same registry it calls built-in tools through.
package mcpbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jarvis-run/turnengine/internal/config"
)

// ServerConfig describes one configured MCP server: stdio transport
// (Command/Args) or HTTP transport (URL). Both validate, but
// Client.Start connects only stdio servers and returns an error for HTTP
// ones.
type ServerConfig struct {
	Type string `json:"type,omitempty"`

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Env map[string]string `json:"env,omitempty"`
}

// TransportType returns "http" or "stdio".
func (c *ServerConfig) TransportType() string {
	if c.Type == "http" || c.URL != "" {
		return "http"
	}
	return "stdio"
}

// Validate reports whether the server configuration names exactly one
// transport with its required fields.
func (c *ServerConfig) Validate() error {
	if c.TransportType() == "http" {
		if c.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		if c.Command != "" {
			return fmt.Errorf("cannot specify both url and command")
		}
		return nil
	}
	if c.Command == "" {
		return fmt.Errorf("stdio transport requires command")
	}
	if c.URL != "" {
		return fmt.Errorf("cannot specify both url and command")
	}
	return nil
}

// Config is the on-disk mcp.json shape: a map of server name to its
// configuration.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/turnengine/mcp.json (or
// ~/.config/turnengine/mcp.json), matching the directory internal/config
// resolves for the main config file.
func DefaultConfigPath() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}

// LoadConfig reads mcp.json from the default path. A missing file is not
// an error; it yields an empty Config.
func LoadConfig() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFromPath(path)
}

func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	return &cfg, nil
}

// ServerNames returns the configured server names.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	return names
}
