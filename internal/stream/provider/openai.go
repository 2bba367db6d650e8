package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// OpenAIProvider streams GPT model output over the Responses API.
type OpenAIProvider struct {
	client openai.Client
	model  string
	effort string // "low", "medium", "high", "xhigh", or ""
}

// parseModelEffort extracts a reasoning-effort suffix from a model name:
// "gpt-5.2-high" -> ("gpt-5.2", "high").
func parseModelEffort(model string) (string, string) {
	for _, effort := range []string{"xhigh", "medium", "high", "low"} {
		if suffix := "-" + effort; strings.HasSuffix(model, suffix) {
			return strings.TrimSuffix(model, suffix), effort
		}
	}
	return model, ""
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	actualModel, effort := parseModelEffort(model)
	return &OpenAIProvider{client: openai.NewClient(option.WithAPIKey(apiKey)), model: actualModel, effort: effort}
}

func (p *OpenAIProvider) ProviderID() string { return "openai" }

func (p *OpenAIProvider) ModelInfo(model string) (stream.ModelInfo, error) {
	base, _ := parseModelEffort(model)
	cost := stream.Cost{InputPerToken: 2e-6, OutputPerToken: 8e-6, CacheReadPerToken: 0.2e-6}
	if contains(base, "4.1") {
		cost = stream.Cost{InputPerToken: 2e-6, OutputPerToken: 8e-6, CacheReadPerToken: 0.5e-6}
	}
	return modelInfo("openai", model, stream.Capabilities{NativeSearch: true, StreamsToolDeltas: true}, cost, 16384), nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []message.Message, opts stream.Options) (stream.Stream, error) {
	system, input := buildOpenAIInput(messages)
	if opts.System != "" {
		system = opts.System
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(p.model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if p.effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(p.effort)}
	}
	if len(opts.Tools) > 0 {
		tools := make([]responses.ToolUnionParam, 0, len(opts.Tools))
		for _, def := range opts.Tools {
			t := responses.ToolParamOfFunction(def.Name, def.Parameters, true)
			if def.Description != "" {
				t.OfFunction.Description = openai.String(def.Description)
			}
			tools = append(tools, t)
		}
		params.Tools = tools
	}

	sdkStream := p.client.Responses.NewStreaming(ctx, params)
	return newOpenAIStream(sdkStream), nil
}

func buildOpenAIInput(messages []message.Message) (string, responses.ResponseInputParam) {
	var systemParts []string
	var items responses.ResponseInputParam

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, msg.TextContent())
		case message.RoleAssistant:
			for _, part := range msg.Parts {
				switch part.Type {
				case message.PartText:
					if part.Text != "" {
						items = append(items, responses.ResponseInputItemParamOfMessage(part.Text, responses.EasyInputMessageRoleAssistant))
					}
				case message.PartToolUse:
					if part.ToolUse != nil {
						items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(part.ToolUse.Input), part.ToolUse.ID, part.ToolUse.Name))
					}
				}
			}
		case message.RoleTool:
			for _, part := range msg.Parts {
				if part.ToolResult != nil {
					items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(part.ToolResult.ToolUseID, part.ToolResult.Content))
				}
			}
		default: // user
			if text := msg.TextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), items
}

func newOpenAIStream(sdkStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
}) stream.Stream {
	chunks := make(chan stream.Chunk, 16)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer close(chunks)
		callNames := map[int64]string{}
		callIDs := map[int64]string{}

		for sdkStream.Next() {
			event := sdkStream.Current()
			switch event.Type {
			case "response.output_text.delta":
				if event.Delta != "" {
					chunks <- stream.Chunk{Type: stream.ChunkTextDelta, Text: event.Delta}
				}
			case "response.output_item.added":
				if event.Item.Type == "function_call" {
					callNames[event.OutputIndex] = event.Item.Name
					callIDs[event.OutputIndex] = event.Item.CallID
					chunks <- stream.Chunk{Type: stream.ChunkToolCallStart, ToolCallID: event.Item.CallID, ToolName: event.Item.Name}
				}
			case "response.function_call_arguments.delta":
				if id, ok := callIDs[event.OutputIndex]; ok && event.Delta != "" {
					chunks <- stream.Chunk{Type: stream.ChunkToolCallDelta, ToolCallID: id, ToolDelta: event.Delta}
				}
			case "response.output_item.done":
				if event.Item.Type == "function_call" {
					id := event.Item.CallID
					if id == "" {
						id = callIDs[event.OutputIndex]
					}
					chunks <- stream.Chunk{
						Type:         stream.ChunkToolCall,
						ToolCallID:   id,
						ToolName:     callNames[event.OutputIndex],
						ToolArgsJSON: json.RawMessage(event.Item.Arguments),
					}
				}
			case "response.completed":
				chunks <- stream.Chunk{
					Type:         stream.ChunkFinishStep,
					FinishReason: stream.FinishEndTurn,
					Usage: stream.Usage{
						Input:  int(event.Response.Usage.InputTokens),
						Output: int(event.Response.Usage.OutputTokens),
					},
				}
			case "response.failed", "error":
				chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("openai responses error: %s", event.Response.Error.Message)}
			}
		}
		if err := sdkStream.Err(); err != nil {
			chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("openai streaming error: %w", err)}
		}
	}()

	return &chunkStream{chunks: chunks, cancel: cancel}
}
