// Package config loads the CLI's on-disk configuration: provider
// credentials plus the compaction, sandbox, approval, and session knobs
// the turn engine's collaborators are constructed from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jarvis-run/turnengine/internal/approval"
	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/session"
	"github.com/jarvis-run/turnengine/internal/tool"
)

// ProviderType names a concrete internal/stream/provider implementation.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeGemini    ProviderType = "gemini"
	ProviderTypeBedrock   ProviderType = "bedrock"
)

var builtInProviderTypes = map[string]ProviderType{
	"anthropic": ProviderTypeAnthropic,
	"openai":    ProviderTypeOpenAI,
	"gemini":    ProviderTypeGemini,
	"bedrock":   ProviderTypeBedrock,
}

// InferProviderType returns explicit if set, else the built-in type
// inferred from name, else "" for an unrecognized provider name.
func InferProviderType(name string, explicit ProviderType) ProviderType {
	if explicit != "" {
		return explicit
	}
	return builtInProviderTypes[name]
}

// ProviderConfig configures one named model provider.
type ProviderConfig struct {
	Type   ProviderType `mapstructure:"type"`
	APIKey string       `mapstructure:"api_key"`
	Model  string       `mapstructure:"model"`

	// Bedrock-specific; ignored by other provider types.
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// ResolvedAPIKey is APIKey after environment-variable fallback.
	ResolvedAPIKey string `mapstructure:"-"`
}

// SandboxConfig selects and configures the Runtime the engine's tools
// execute against.
type SandboxConfig struct {
	// Mode is "none", "container", or "vm".
	Mode string `mapstructure:"mode"`

	ProjectPath string `mapstructure:"project_path"` // container mode
	Image       string `mapstructure:"image"`        // container mode

	Instance string `mapstructure:"instance"` // vm mode
	HostRoot string `mapstructure:"host_root"`
	VMRoot   string `mapstructure:"vm_root"`
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{Mode: "none"}
}

// ApprovalConfig configures the permission gate's default rule matrix.
type ApprovalConfig struct {
	Mode string `mapstructure:"mode"` // "interactive", "auto-edit", "full-auto"

	// Rules is "mode:tool:pattern=outcome", e.g. "full-auto:bash:git=allow".
	Rules []string `mapstructure:"rules"`
}

func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{Mode: "interactive"}
}

// ParseRules turns each "mode:tool:pattern=outcome" entry into an
// approval.Rule. A malformed entry is skipped rather than failing the
// whole load.
func (a ApprovalConfig) ParseRules() []approval.Rule {
	rules := make([]approval.Rule, 0, len(a.Rules))
	for _, entry := range a.Rules {
		lhs, outcomeStr, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		parts := strings.SplitN(lhs, ":", 3)
		if len(parts) != 3 {
			continue
		}
		outcome := tool.Outcome(strings.TrimSpace(outcomeStr))
		rules = append(rules, approval.Rule{
			Mode:    strings.TrimSpace(parts[0]),
			Tool:    strings.TrimSpace(parts[1]),
			Pattern: strings.TrimSpace(parts[2]),
			Outcome: outcome,
		})
	}
	return rules
}

// Config is the fully loaded, effective configuration.
type Config struct {
	DefaultProvider string                      `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig   `mapstructure:"providers"`
	Compaction      compaction.CompactionConfig `mapstructure:"compaction"`
	Sandbox         SandboxConfig               `mapstructure:"sandbox"`
	Approval        ApprovalConfig              `mapstructure:"approval"`
	Sessions        session.Config              `mapstructure:"sessions"`
	MaxTurns        int                         `mapstructure:"max_turns"`
}

// Load reads the effective config from the config file (optional),
// falling back to GetDefaults(), and resolves provider credentials
// against environment variables.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	for key, value := range GetDefaults() {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, providerCfg := range cfg.Providers {
		resolveProviderCredentials(name, &providerCfg)
		cfg.Providers[name] = providerCfg
	}

	return &cfg, nil
}

func resolveProviderCredentials(name string, cfg *ProviderConfig) {
	providerType := InferProviderType(name, cfg.Type)

	cfg.ResolvedAPIKey = expandEnv(cfg.APIKey)
	if cfg.ResolvedAPIKey != "" {
		return
	}

	switch providerType {
	case ProviderTypeAnthropic:
		cfg.ResolvedAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	case ProviderTypeOpenAI:
		cfg.ResolvedAPIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderTypeGemini:
		cfg.ResolvedAPIKey = os.Getenv("GEMINI_API_KEY")
	case ProviderTypeBedrock:
		// Bedrock credentials come from the AWS SDK's own chain; no
		// single API key env var to fall back to.
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetProviderConfig returns the named provider's config, or nil.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if cfg, ok := c.Providers[name]; ok {
		return &cfg
	}
	return nil
}

// GetActiveProviderConfig returns the default provider's config, or nil.
func (c *Config) GetActiveProviderConfig() *ProviderConfig {
	return c.GetProviderConfig(c.DefaultProvider)
}

// GetDefaults returns the single source of truth for default values,
// applied as viper defaults before the config file is read.
func GetDefaults() map[string]any {
	return map[string]any{
		"default_provider":           "anthropic",
		"providers.anthropic.model":  "claude-sonnet-4-6",
		"providers.openai.model":     "gpt-5.2",
		"providers.gemini.model":     "gemini-3-flash-preview",
		"providers.bedrock.model":    "anthropic.claude-sonnet-4-5-20250929-v1:0",
		"providers.bedrock.region":   "us-east-1",
		"compaction.auto":            true,
		"compaction.prune":           true,
		"compaction.preserve_turns":  2,
		"compaction.output_reserve":  compaction.OutputTokenMax,
		"compaction.threshold_ratio": 0.85,
		"sandbox.mode":               "none",
		"approval.mode":              "interactive",
		"sessions.enabled":           true,
		"sessions.max_age_days":      0,
		"sessions.max_count":         0,
		"max_turns":                  200,
	}
}

// GetConfigDir returns the XDG config directory for turnengine. Uses
// $XDG_CONFIG_HOME if set, otherwise ~/.config.
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "turnengine"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "turnengine"), nil
}

// GetConfigPath returns the path where the config file should live.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists reports whether a config file is present.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// NeedsSetup reports whether no config file exists yet.
func NeedsSetup() bool {
	return !Exists()
}
