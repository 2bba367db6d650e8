package provider

import (
	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// modelInfo builds a stream.ModelInfo from a provider ID, model name,
// and per-token costs, filling Limit.Context from the shared known-model
// table so compaction sees the same ceiling regardless of which
// provider package resolved it.
func modelInfo(providerID, model string, caps stream.Capabilities, cost stream.Cost, output int) stream.ModelInfo {
	return stream.ModelInfo{
		ID:           model,
		ProviderID:   providerID,
		Name:         model,
		Capabilities: caps,
		Cost:         cost,
		Limit: stream.Limit{
			Context: compaction.InputLimitForProviderModel(providerID, model),
			Output:  output,
		},
	}
}

func anthropicModelInfo(model string) stream.ModelInfo {
	base, _ := parseModelThinking(model)
	cost := stream.Cost{InputPerToken: 3e-6, OutputPerToken: 15e-6, CacheReadPerToken: 0.3e-6, CacheWritePerToken: 3.75e-6}
	switch {
	case contains(base, "haiku"):
		cost = stream.Cost{InputPerToken: 0.8e-6, OutputPerToken: 4e-6, CacheReadPerToken: 0.08e-6, CacheWritePerToken: 1e-6}
	case contains(base, "opus"):
		cost = stream.Cost{InputPerToken: 15e-6, OutputPerToken: 75e-6, CacheReadPerToken: 1.5e-6, CacheWritePerToken: 18.75e-6}
	}
	return modelInfo("anthropic", model, stream.Capabilities{StreamsToolDeltas: true}, cost, 8192)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
