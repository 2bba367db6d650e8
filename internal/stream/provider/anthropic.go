// Package provider holds the vendor-specific stream.Provider
// implementations the core depends on only through that interface.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// Anthropic credential mode constants, mirroring the config-level
// "credentials" field. "auto" tries api_key then the ANTHROPIC_API_KEY
// environment variable.
const (
	AnthropicCredAuto   = "auto"
	AnthropicCredAPIKey = "api_key"
	AnthropicCredEnv    = "env"
)

// AnthropicProvider streams Claude model output.
type AnthropicProvider struct {
	client         anthropic.Client
	defaultModel   string
	thinkingBudget int64
}

// NewAnthropicProvider builds a provider against the given API key (or,
// if empty, the ANTHROPIC_API_KEY environment variable). A "-thinking"
// model suffix enables extended thinking with a fixed token budget.
func NewAnthropicProvider(apiKey, model, credentialMode string) (*AnthropicProvider, error) {
	actualModel, budget := parseModelThinking(model)

	if credentialMode == "" {
		credentialMode = AnthropicCredAuto
	}

	switch credentialMode {
	case AnthropicCredAPIKey:
		if apiKey == "" {
			return nil, fmt.Errorf("credentials mode %q requires an explicit api key", credentialMode)
		}
		return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey)), defaultModel: actualModel, thinkingBudget: budget}, nil
	case AnthropicCredEnv:
		envKey := os.Getenv("ANTHROPIC_API_KEY")
		if envKey == "" {
			return nil, fmt.Errorf("credentials mode %q requires ANTHROPIC_API_KEY", credentialMode)
		}
		return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(envKey)), defaultModel: actualModel, thinkingBudget: budget}, nil
	default:
		if apiKey != "" {
			return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey)), defaultModel: actualModel, thinkingBudget: budget}, nil
		}
		if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
			return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(envKey)), defaultModel: actualModel, thinkingBudget: budget}, nil
		}
		return nil, fmt.Errorf("no Anthropic credentials available (set api_key or ANTHROPIC_API_KEY)")
	}
}

// parseModelThinking extracts a "-thinking" suffix into a fixed token
// budget: "claude-sonnet-4-6-thinking" -> ("claude-sonnet-4-6", 10000).
func parseModelThinking(model string) (string, int64) {
	if strings.HasSuffix(model, "-thinking") {
		return strings.TrimSuffix(model, "-thinking"), 10000
	}
	return model, 0
}

func (p *AnthropicProvider) ProviderID() string { return "anthropic" }

func (p *AnthropicProvider) ModelInfo(model string) (stream.ModelInfo, error) {
	return anthropicModelInfo(model), nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []message.Message, opts stream.Options) (stream.Stream, error) {
	model := p.defaultModel
	system, params := buildAnthropicMessages(messages)
	if opts.System != "" {
		system = opts.System
	}

	maxTokens := int64(4096)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(opts.Tools) > 0 {
		req.Tools = buildAnthropicTools(opts.Tools)
		if p.thinkingBudget == 0 {
			req.ToolChoice = buildAnthropicToolChoice(opts.ToolChoice)
		}
	}
	if p.thinkingBudget > 0 {
		req.MaxTokens = maxTokens
		if req.MaxTokens < p.thinkingBudget+1024 {
			req.MaxTokens = p.thinkingBudget + 1024
		}
		req.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: p.thinkingBudget},
		}
	}

	return newAnthropicStream(ctx, p.client, req), nil
}

func newAnthropicStream(ctx context.Context, client anthropic.Client, req anthropic.MessageNewParams) stream.Stream {
	chunks := make(chan stream.Chunk, 16)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		accumulator := newToolCallAccumulator()

		sdkStream := client.Messages.NewStreaming(ctx, req)
		for sdkStream.Next() {
			event := sdkStream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.ToolUseBlock:
					accumulator.Start(variant.Index, block.ID, block.Name)
					chunks <- stream.Chunk{Type: stream.ChunkToolCallStart, ToolCallID: block.ID, ToolName: block.Name}
				case anthropic.TextBlock:
					chunks <- stream.Chunk{Type: stream.ChunkTextStart}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						chunks <- stream.Chunk{Type: stream.ChunkTextDelta, Text: delta.Text}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						accumulator.Append(variant.Index, delta.PartialJSON)
						if id, ok := accumulator.ID(variant.Index); ok {
							chunks <- stream.Chunk{Type: stream.ChunkToolCallDelta, ToolCallID: id, ToolDelta: delta.PartialJSON}
						}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						chunks <- stream.Chunk{Type: stream.ChunkReasoningDelta, Text: delta.Thinking}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := accumulator.Finish(variant.Index); ok {
					chunks <- stream.Chunk{Type: stream.ChunkToolCall, ToolCallID: call.id, ToolName: call.name, ToolArgsJSON: call.args}
				} else {
					chunks <- stream.Chunk{Type: stream.ChunkTextEnd}
				}
			case anthropic.MessageDeltaEvent:
				finish := anthropicFinishReason(string(variant.Delta.StopReason))
				chunks <- stream.Chunk{
					Type:         stream.ChunkFinishStep,
					FinishReason: finish,
					Usage: stream.Usage{
						Output: int(variant.Usage.OutputTokens),
					},
				}
			}
		}
		if err := sdkStream.Err(); err != nil {
			chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("anthropic streaming error: %w", err)}
		}
	}()

	return &chunkStream{chunks: chunks, cancel: cancel}
}

func anthropicFinishReason(stopReason string) stream.FinishReason {
	switch stopReason {
	case "tool_use":
		return stream.FinishToolUse
	case "max_tokens":
		return stream.FinishMaxTokens
	case "":
		return stream.FinishEndTurn
	default:
		return stream.FinishEndTurn
	}
}

func buildAnthropicMessages(messages []message.Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, msg.TextContent())
		case message.RoleAssistant:
			blocks := anthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default: // user, tool
			blocks := anthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func anthropicBlocks(parts []message.Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case message.PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case message.PartToolUse:
			if allowToolUse && part.ToolUse != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolUse.ID, json.RawMessage(part.ToolUse.Input), part.ToolUse.Name))
			}
		case message.PartToolResult:
			if part.ToolResult != nil {
				block := anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolResult.ToolUseID,
					IsError:   anthropic.Bool(part.ToolResult.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: part.ToolResult.Content}},
					},
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
			}
		}
	}
	return blocks
}

func buildAnthropicTools(defs []stream.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: def.Parameters["properties"],
			Required:   schemaRequired(def.Parameters),
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func buildAnthropicToolChoice(choice stream.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice.Mode {
	case stream.ToolChoiceNone:
		none := anthropic.NewToolChoiceNoneParam()
		return anthropic.ToolChoiceUnionParam{OfNone: &none}
	case stream.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case stream.ToolChoiceName:
		return anthropic.ToolChoiceParamOfTool(choice.Name)
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// toolCall is the accumulator's materialized result: a tool-use ID,
// name, and concatenated JSON-argument fragments.
type toolCall struct {
	id   string
	name string
	args json.RawMessage
}

type toolCallAccumulator struct {
	ids   map[int64]string
	names map[int64]string
	parts map[int64]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		ids:   make(map[int64]string),
		names: make(map[int64]string),
		parts: make(map[int64]*strings.Builder),
	}
}

func (a *toolCallAccumulator) Start(index int64, id, name string) {
	a.ids[index] = id
	a.names[index] = name
	a.parts[index] = &strings.Builder{}
}

func (a *toolCallAccumulator) ID(index int64) (string, bool) {
	id, ok := a.ids[index]
	return id, ok
}

func (a *toolCallAccumulator) Append(index int64, partial string) {
	if b, ok := a.parts[index]; ok {
		b.WriteString(partial)
	}
}

func (a *toolCallAccumulator) Finish(index int64) (toolCall, bool) {
	id, ok := a.ids[index]
	if !ok {
		return toolCall{}, false
	}
	args := a.parts[index].String()
	if args == "" {
		args = "{}"
	}
	name := a.names[index]
	delete(a.ids, index)
	delete(a.names, index)
	delete(a.parts, index)
	return toolCall{id: id, name: name, args: json.RawMessage(args)}, true
}

// chunkStream adapts a channel of already-decoded chunks into stream.Stream.
type chunkStream struct {
	chunks <-chan stream.Chunk
	cancel context.CancelFunc
}

func (s *chunkStream) Recv() (stream.Chunk, error) {
	c, ok := <-s.chunks
	if !ok {
		return stream.Chunk{}, io.EOF
	}
	return c, nil
}

func (s *chunkStream) Close() error {
	s.cancel()
	return nil
}
