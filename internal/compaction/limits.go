package compaction

import "strings"

// defaultThresholdRatio is the fraction of a model's input limit at which
// the turn engine either triggers auto-compaction or, if compaction is
// disabled, emits a one-time context-fullness warning.
const defaultThresholdRatio = 0.85

// knownInputLimits is a curated table of context-window sizes for models
// the turn engine commonly drives, keyed by "provider:model". Values are
// the provider's documented input/context-window size; output tokens are
// reserved separately via CompactionConfig.OutputReserve.
var knownInputLimits = map[string]int{
	"anthropic:claude-sonnet-4-5":          200_000,
	"anthropic:claude-sonnet-4-5-thinking": 200_000,
	"anthropic:claude-opus-4-5":            200_000,
	"anthropic:claude-opus-4-5-thinking":   200_000,
	"anthropic:claude-haiku-4-5":           200_000,
	"anthropic:claude-haiku-4-5-thinking":  200_000,
	"openai:gpt-5.2":                       400_000,
	"openai:gpt-5.2-high":                  400_000,
	"openai:gpt-5.2-codex":                 400_000,
	"openai:gpt-5.2-codex-medium":          400_000,
	"openai:gpt-5.2-codex-high":            400_000,
	"openai:gpt-5.2-codex-xhigh":           400_000,
	"openai:gpt-4.1":                       1_000_000,
	"gemini:gemini-3-pro-preview":          1_000_000,
	"gemini:gemini-3-pro-preview-thinking": 1_000_000,
	"gemini:gemini-3-flash-preview":        1_000_000,
	"gemini:gemini-2.5-flash":              1_000_000,
	"gemini:gemini-2.5-flash-lite":         1_000_000,
}

// InputLimitForProviderModel returns the known input token limit for a
// provider/model pair, or 0 if the pair is unrecognized. A 0 return tells
// callers to skip context tracking and compaction entirely rather than
// guess at a limit, matching the original's "only enable for models with
// known input limits" rule.
func InputLimitForProviderModel(providerName, modelName string) int {
	key := strings.ToLower(providerName) + ":" + strings.ToLower(modelName)
	return knownInputLimits[key]
}
