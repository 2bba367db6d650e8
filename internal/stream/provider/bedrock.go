package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// BedrockProvider streams foundation-model output through the Bedrock
// Converse/ConverseStream API, authenticating via the standard AWS
// credential chain (env, shared config, IAM role).
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures NewBedrockProvider. Region defaults to
// us-east-1; leaving AccessKeyID/SecretAccessKey empty uses the default
// AWS credential chain.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-sonnet-4-5-20250929-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: cfg.DefaultModel}, nil
}

// NewBedrockProviderFromEnv builds a provider from AWS_REGION/
// AWS_BEDROCK_MODEL environment variables, deferring everything else to
// the default credential chain.
func NewBedrockProviderFromEnv() (*BedrockProvider, error) {
	return NewBedrockProvider(BedrockConfig{
		Region:       os.Getenv("AWS_REGION"),
		DefaultModel: os.Getenv("AWS_BEDROCK_MODEL"),
	})
}

func (p *BedrockProvider) ProviderID() string { return "bedrock" }

func (p *BedrockProvider) ModelInfo(model string) (stream.ModelInfo, error) {
	cost := stream.Cost{InputPerToken: 3e-6, OutputPerToken: 15e-6}
	return modelInfo("bedrock", model, stream.Capabilities{StreamsToolDeltas: true}, cost, 8192), nil
}

func (p *BedrockProvider) Generate(ctx context.Context, messages []message.Message, opts stream.Options) (stream.Stream, error) {
	model := p.defaultModel
	system, bedrockMessages := buildBedrockMessages(messages)
	if opts.System != "" {
		system = opts.System
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: bedrockMessages,
	}
	if system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if opts.MaxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(opts.MaxTokens))}
	}
	if len(opts.Tools) > 0 {
		req.ToolConfig = buildBedrockTools(opts.Tools)
	}

	out, err := p.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream failed: %w", err)
	}

	return newBedrockStream(ctx, out), nil
}

func newBedrockStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) stream.Stream {
	chunks := make(chan stream.Chunk, 16)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		eventStream := out.GetStream()
		defer eventStream.Close()

		var toolID, toolName string
		var toolInput strings.Builder

		for {
			select {
			case <-ctx.Done():
				chunks <- stream.Chunk{Type: stream.ChunkError, Err: ctx.Err()}
				return
			case event, ok := <-eventStream.Events():
				if !ok {
					if toolID != "" {
						chunks <- stream.Chunk{Type: stream.ChunkToolCall, ToolCallID: toolID, ToolName: toolName, ToolArgsJSON: json.RawMessage(toolInput.String())}
					}
					if err := eventStream.Err(); err != nil {
						chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("bedrock stream error: %w", err)}
					}
					return
				}

				switch ev := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockStart:
					if start, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
						toolID = aws.ToString(start.Value.ToolUseId)
						toolName = aws.ToString(start.Value.Name)
						toolInput.Reset()
						chunks <- stream.Chunk{Type: stream.ChunkToolCallStart, ToolCallID: toolID, ToolName: toolName}
					}
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					switch delta := ev.Value.Delta.(type) {
					case *types.ContentBlockDeltaMemberText:
						if delta.Value != "" {
							chunks <- stream.Chunk{Type: stream.ChunkTextDelta, Text: delta.Value}
						}
					case *types.ContentBlockDeltaMemberToolUse:
						if delta.Value.Input != nil {
							toolInput.WriteString(*delta.Value.Input)
							chunks <- stream.Chunk{Type: stream.ChunkToolCallDelta, ToolCallID: toolID, ToolDelta: *delta.Value.Input}
						}
					}
				case *types.ConverseStreamOutputMemberContentBlockStop:
					if toolID != "" {
						chunks <- stream.Chunk{Type: stream.ChunkToolCall, ToolCallID: toolID, ToolName: toolName, ToolArgsJSON: json.RawMessage(toolInput.String())}
						toolID, toolName = "", ""
						toolInput.Reset()
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					chunks <- stream.Chunk{Type: stream.ChunkFinishStep, FinishReason: bedrockFinishReason(ev.Value.StopReason)}
					return
				}
			}
		}
	}()

	return &chunkStream{chunks: chunks, cancel: cancel}
}

func bedrockFinishReason(reason types.StopReason) stream.FinishReason {
	switch reason {
	case types.StopReasonToolUse:
		return stream.FinishToolUse
	case types.StopReasonMaxTokens:
		return stream.FinishMaxTokens
	default:
		return stream.FinishEndTurn
	}
}

func buildBedrockMessages(messages []message.Message) (string, []types.Message) {
	var systemParts []string
	out := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == message.RoleSystem {
			systemParts = append(systemParts, msg.TextContent())
			continue
		}

		var content []types.ContentBlock
		for _, part := range msg.Parts {
			switch part.Type {
			case message.PartText:
				if part.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: part.Text})
				}
			case message.PartToolUse:
				if part.ToolUse == nil {
					continue
				}
				var input any
				if err := json.Unmarshal(part.ToolUse.Input, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.ToolUse.ID),
						Name:      aws.String(part.ToolUse.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			case message.PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(part.ToolResult.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: part.ToolResult.Content}},
					},
				})
			}
		}

		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == message.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}

	return strings.Join(systemParts, "\n\n"), out
}

func buildBedrockTools(defs []stream.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		schema := map[string]any(def.Parameters)
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}
