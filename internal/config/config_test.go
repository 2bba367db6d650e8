package config

import "testing"

func TestInferProviderType(t *testing.T) {
	if got := InferProviderType("anthropic", ""); got != ProviderTypeAnthropic {
		t.Fatalf("InferProviderType(anthropic, \"\") = %q, want %q", got, ProviderTypeAnthropic)
	}
	if got := InferProviderType("my-claude", ProviderTypeAnthropic); got != ProviderTypeAnthropic {
		t.Fatalf("explicit type not honored: %q", got)
	}
	if got := InferProviderType("unknown-name", ""); got != "" {
		t.Fatalf("InferProviderType(unknown-name, \"\") = %q, want empty", got)
	}
}

func TestApprovalConfigParseRules(t *testing.T) {
	cfg := ApprovalConfig{Rules: []string{
		"full-auto:bash:git=allow",
		"interactive:bash:rm=ask",
		"not-a-rule",
		"too:few",
	}}

	rules := cfg.ParseRules()
	if len(rules) != 2 {
		t.Fatalf("ParseRules() returned %d rules, want 2 (malformed entries skipped): %+v", len(rules), rules)
	}
	if rules[0].Mode != "full-auto" || rules[0].Tool != "bash" || rules[0].Pattern != "git" || rules[0].Outcome != "allow" {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
}

func TestResolveProviderCredentialsPrefersExplicitKey(t *testing.T) {
	cfg := ProviderConfig{Type: ProviderTypeAnthropic, APIKey: "sk-explicit"}
	resolveProviderCredentials("anthropic", &cfg)
	if cfg.ResolvedAPIKey != "sk-explicit" {
		t.Fatalf("ResolvedAPIKey = %q, want the explicit key to win over env", cfg.ResolvedAPIKey)
	}
}

func TestResolveProviderCredentialsFallsBackToEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	cfg := ProviderConfig{Type: ProviderTypeOpenAI}
	resolveProviderCredentials("openai", &cfg)
	if cfg.ResolvedAPIKey != "sk-from-env" {
		t.Fatalf("ResolvedAPIKey = %q, want env fallback", cfg.ResolvedAPIKey)
	}
}

func TestGetConfigDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error: %v", err)
	}
	want := "/tmp/xdg-test/turnengine"
	if dir != want {
		t.Fatalf("GetConfigDir() = %q, want %q", dir, want)
	}
}

func TestGetDefaultsCoversEveryProvider(t *testing.T) {
	defaults := GetDefaults()
	for _, key := range []string{
		"providers.anthropic.model",
		"providers.openai.model",
		"providers.gemini.model",
		"providers.bedrock.model",
		"providers.bedrock.region",
	} {
		if _, ok := defaults[key]; !ok {
			t.Errorf("GetDefaults() missing key %q", key)
		}
	}
}
