package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// GeminiProvider streams Gemini model output. Tool-call turns use a
// single non-streaming call (genai's function-calling response arrives
// whole, not incrementally); tool-free turns stream text deltas.
type GeminiProvider struct {
	apiKey        string
	model         string
	thinkingLevel genai.ThinkingLevel
}

// parseGeminiModelThinking extracts a "-thinking" suffix: Gemini 3
// models raise their thinking level when present.
func parseGeminiModelThinking(model string) (string, genai.ThinkingLevel) {
	base := strings.TrimSuffix(model, "-thinking")
	hasThinking := base != model
	switch {
	case strings.HasPrefix(base, "gemini-3-pro"):
		if hasThinking {
			return base, genai.ThinkingLevelHigh
		}
		return base, genai.ThinkingLevelLow
	case strings.HasPrefix(base, "gemini-3-flash"):
		if hasThinking {
			return base, genai.ThinkingLevelHigh
		}
		return base, genai.ThinkingLevelMinimal
	default:
		return model, ""
	}
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	base, level := parseGeminiModelThinking(model)
	return &GeminiProvider{apiKey: apiKey, model: base, thinkingLevel: level}
}

func (p *GeminiProvider) ProviderID() string { return "gemini" }

func (p *GeminiProvider) ModelInfo(model string) (stream.ModelInfo, error) {
	cost := stream.Cost{InputPerToken: 1.25e-6, OutputPerToken: 5e-6}
	if contains(model, "flash") {
		cost = stream.Cost{InputPerToken: 0.3e-6, OutputPerToken: 2.5e-6}
	}
	return modelInfo("gemini", model, stream.Capabilities{NativeSearch: true}, cost, 8192), nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []message.Message, opts stream.Options) (stream.Stream, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	system, contents := buildGeminiContents(messages)
	if opts.System != "" {
		system = opts.System
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(opts.Tools) == 0 && p.thinkingLevel != "" {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: p.thinkingLevel}
	}
	if len(opts.Tools) > 0 {
		config.Tools = buildGeminiTools(opts.Tools)
		config.ToolConfig = buildGeminiToolConfig(opts.ToolChoice)
	}

	model := p.model

	if len(opts.Tools) > 0 {
		return newGeminiOneShotStream(ctx, client, model, contents, config), nil
	}
	return newGeminiTextStream(ctx, client, model, contents, config), nil
}

func newGeminiOneShotStream(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, config *genai.GenerateContentConfig) stream.Stream {
	chunks := make(chan stream.Chunk, 16)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("gemini API error: %w", err)}
			return
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					chunks <- stream.Chunk{Type: stream.ChunkTextDelta, Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					chunks <- stream.Chunk{
						Type:         stream.ChunkToolObserved,
						ToolCallID:   part.FunctionCall.ID,
						ToolName:     part.FunctionCall.Name,
						ToolInput:    argsJSON,
					}
				}
			}
		}
		chunks <- stream.Chunk{Type: stream.ChunkFinishStep, FinishReason: geminiFinishReason(resp), Usage: geminiUsage(resp)}
	}()

	return &chunkStream{chunks: chunks, cancel: cancel}
}

func newGeminiTextStream(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, config *genai.GenerateContentConfig) stream.Stream {
	chunks := make(chan stream.Chunk, 16)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(chunks)
		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				chunks <- stream.Chunk{Type: stream.ChunkError, Err: fmt.Errorf("gemini streaming error: %w", err)}
				return
			}
			lastResp = resp
			if text := resp.Text(); text != "" {
				chunks <- stream.Chunk{Type: stream.ChunkTextDelta, Text: text}
			}
		}
		chunks <- stream.Chunk{Type: stream.ChunkFinishStep, FinishReason: stream.FinishEndTurn, Usage: geminiUsage(lastResp)}
	}()

	return &chunkStream{chunks: chunks, cancel: cancel}
}

func geminiFinishReason(resp *genai.GenerateContentResponse) stream.FinishReason {
	if resp == nil || len(resp.Candidates) == 0 {
		return stream.FinishEndTurn
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			return stream.FinishToolUse
		}
	}
	return stream.FinishEndTurn
}

func geminiUsage(resp *genai.GenerateContentResponse) stream.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return stream.Usage{}
	}
	return stream.Usage{
		Input:  int(resp.UsageMetadata.PromptTokenCount),
		Output: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func buildGeminiContents(messages []message.Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			if text := msg.TextContent(); text != "" {
				systemParts = append(systemParts, text)
			}
		case message.RoleAssistant:
			if content := buildGeminiContent(genai.RoleModel, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case message.RoleTool:
			if content := buildGeminiToolResultContent(msg.Parts); content != nil {
				contents = append(contents, content)
			}
		default: // user
			if content := buildGeminiContent(genai.RoleUser, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []message.Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case message.PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case message.PartToolUse:
			if part.ToolUse == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolUse.ID,
					Name: part.ToolUse.Name,
					Args: toolArgsToMap(part.ToolUse.Input),
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []message.Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		if part.ToolResult == nil {
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       part.ToolResult.ToolUseID,
				Response: map[string]any{"output": part.ToolResult.Content},
			},
		})
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func toolArgsToMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func buildGeminiTools(defs []stream.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]*genai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaToGenai(def.Parameters),
			}},
		})
	}
	return tools
}

func schemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{Type: genai.TypeObject, Required: schemaRequired(schema)}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				out.Properties[name] = schemaToGenaiProperty(propMap)
			}
		}
	}
	return out
}

func schemaToGenaiProperty(schema map[string]any) *genai.Schema {
	t := genai.TypeString
	if s, ok := schema["type"].(string); ok {
		switch s {
		case "object":
			t = genai.TypeObject
		case "array":
			t = genai.TypeArray
		case "integer":
			t = genai.TypeInteger
		case "number":
			t = genai.TypeNumber
		case "boolean":
			t = genai.TypeBoolean
		}
	}
	desc, _ := schema["description"].(string)
	return &genai.Schema{Type: t, Description: desc}
}

func buildGeminiToolConfig(choice stream.ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string
	switch choice.Mode {
	case stream.ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case stream.ToolChoiceRequired:
		mode = genai.FunctionCallingConfigModeAny
	case stream.ToolChoiceName:
		if strings.TrimSpace(choice.Name) != "" {
			mode = genai.FunctionCallingConfigModeAny
			allowed = []string{choice.Name}
		}
	}
	return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode, AllowedFunctionNames: allowed}}
}
