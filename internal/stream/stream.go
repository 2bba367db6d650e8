// Package stream defines the provider capability the turn engine consumes:
// a lazy, non-restartable sequence of chunks describing one model turn.
package stream

import (
	"context"

	"github.com/jarvis-run/turnengine/internal/message"
)

// ChunkType tags the closed union of events a provider stream yields.
type ChunkType string

const (
	ChunkTextStart          ChunkType = "text_start"
	ChunkTextDelta          ChunkType = "text_delta"
	ChunkTextEnd            ChunkType = "text_end"
	ChunkReasoningStart     ChunkType = "reasoning_start"
	ChunkReasoningDelta     ChunkType = "reasoning_delta"
	ChunkReasoningEnd       ChunkType = "reasoning_end"
	ChunkToolCallStart      ChunkType = "tool_call_start"
	ChunkToolCallDelta      ChunkType = "tool_call_delta"
	ChunkToolCall           ChunkType = "tool_call"
	ChunkToolObserved       ChunkType = "tool_observed"
	ChunkToolResultObserved ChunkType = "tool_result_observed"
	ChunkFinishStep         ChunkType = "finish_step"
	ChunkError              ChunkType = "error"
)

// FinishReason is the terminal condition a FinishStep chunk reports.
type FinishReason string

const (
	FinishEndTurn       FinishReason = "end_turn"
	FinishToolUse       FinishReason = "tool_use"
	FinishMaxTokens     FinishReason = "max_tokens"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage is token accounting reported with a FinishStep chunk.
type Usage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
}

// Chunk is one element of the provider stream. The populated fields
// depend on Type; callers switch on Type before reading others.
type Chunk struct {
	Type ChunkType

	Text string // TextDelta, ReasoningDelta

	ToolCallID   string // ToolCallStart, ToolCallDelta, ToolCall, ToolObserved
	ToolName     string // ToolCallStart, ToolCall, ToolObserved
	ToolDelta    string // ToolCallDelta: incremental JSON-argument fragment
	ToolArgsJSON []byte // ToolCall: complete JSON arguments
	ToolInput    []byte // ToolObserved: already-materialized input (non-streaming provider)

	ToolResultSuccess bool   // ToolResultObserved
	ToolResultOutput  string // ToolResultObserved

	Usage        Usage
	FinishReason FinishReason // FinishStep

	Err error // Error
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// ToolDefinition is a tool's shape as presented to a provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema
}

// ToolChoiceMode controls which tool, if any, the model must call.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceName     ToolChoiceMode = "name"
)

type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Options configures one call to Provider.Generate.
type Options struct {
	System          string
	MaxTokens       int
	Temperature     float32
	TopP            float32
	Tools           []ToolDefinition
	ToolChoice      ToolChoice
	ReasoningEffort string
}

// Capabilities describe optional provider features.
type Capabilities struct {
	NativeSearch       bool
	StreamsToolDeltas  bool // false: each tool call arrives whole (ChunkToolCall or ChunkToolObserved), never as deltas
}

// Cost describes a model's per-token pricing, in USD per token.
type Cost struct {
	InputPerToken      float64
	OutputPerToken     float64
	CacheReadPerToken  float64
	CacheWritePerToken float64
}

// Limit describes a model's context and output token ceilings.
type Limit struct {
	Context int
	Output  int
}

// ModelInfo describes a specific model a provider serves.
type ModelInfo struct {
	ID           string
	ProviderID   string
	Name         string
	Capabilities Capabilities
	Cost         Cost
	Limit        Limit
}

// Provider streams model output for a request. Implementations live
// outside the core (see internal/stream/provider/*) as reference
// collaborators; the turn engine depends only on this interface.
type Provider interface {
	ProviderID() string
	ModelInfo(model string) (ModelInfo, error)
	Generate(ctx context.Context, messages []message.Message, opts Options) (Stream, error)
}
