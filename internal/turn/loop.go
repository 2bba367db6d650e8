package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/tool"
	"github.com/jarvis-run/turnengine/internal/update"
)

// overflowMarkers are substrings providers are known to use in a context-
// window-exceeded error message.
var overflowMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"too many tokens",
	"prompt is too long",
	"context overflow",
}

func isContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range overflowMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (e *Engine) buildToolDefinitions() []stream.ToolDefinition {
	specs := e.registry.Specs()
	defs := make([]stream.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		if !e.IsToolAllowed(s.Name) {
			continue
		}
		defs = append(defs, stream.ToolDefinition{Name: s.Name, Description: s.Description, Parameters: s.Schema})
	}
	return defs
}

// run drives req to completion, writing update-bus events to events in
// the order they are produced.
func (e *Engine) run(ctx context.Context, req Request, events chan<- update.Event) error {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	originalToolChoice := req.ToolChoice
	restoredToolChoice := false

	turnCallback := e.getTurnCallback()
	responseCallback := e.getResponseCallback()

	e.callbackMu.RLock()
	compactionConfig := e.compactionConfig
	inputLimit := e.inputLimit
	e.callbackMu.RUnlock()

	toolDefs := e.buildToolDefinitions()

	var reactiveCompactionDone bool
	for attempt := 0; attempt < maxTurns; attempt++ {
		if compactionConfig != nil && attempt > 0 {
			threshold := int(float64(inputLimit) * compactionConfig.ThresholdRatio)
			if e.estimatedTokens(req.Messages) >= threshold {
				if err := e.compactNow(ctx, req.Model, req.System, &req, *compactionConfig, inputLimit); err != nil {
					return err
				}
			}
		} else if compactionConfig == nil && inputLimit > 0 && attempt > 0 && !e.contextNoticeEmitted.Load() {
			threshold := int(float64(inputLimit) * compaction.DefaultCompactionConfig().ThresholdRatio)
			if e.estimatedTokens(req.Messages) >= threshold {
				e.contextNoticeEmitted.Store(true)
			}
		}

		if attempt == maxTurns-1 && req.LastTurnToolChoice != nil {
			req.ToolChoice = *req.LastTurnToolChoice
		} else if attempt > 0 {
			req.ToolChoice = stream.ToolChoice{Mode: stream.ToolChoiceAuto}
		}

		opts := stream.Options{
			System:          req.System,
			MaxTokens:       req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			Tools:           toolDefs,
			ToolChoice:      req.ToolChoice,
			ReasoningEffort: req.ReasoningEffort,
		}

		st, err := e.provider.Generate(ctx, req.Messages, opts)
		if err != nil {
			if compactionConfig != nil && isContextOverflowError(err) && !reactiveCompactionDone {
				reactiveCompactionDone = true
				if cErr := e.compactNow(ctx, req.Model, req.System, &req, *compactionConfig, inputLimit); cErr == nil {
					attempt--
					continue
				}
			}
			events <- update.Event{Kind: update.KindError, Err: err}
			return err
		}

		turnResult, err := e.consumeStream(ctx, st, events)
		st.Close()
		if err != nil {
			events <- update.Event{Kind: update.KindError, Err: err}
			return err
		}

		if inputLimit > 0 && turnResult.usage.Total() > 0 {
			e.callbackMu.Lock()
			e.lastTotalTokens = turnResult.usage.Input + turnResult.usage.CacheRead + turnResult.usage.Output
			e.lastMessageCount = len(req.Messages)
			e.callbackMu.Unlock()
		}
		if turnResult.usage.Total() > 0 {
			usageEvent := update.Event{Kind: update.KindTokenUsage, InputTokens: turnResult.usage.Input, OutputTokens: turnResult.usage.Output}
			if logger, sessionID := e.getUsageLogger(); logger != nil {
				if info, infoErr := e.provider.ModelInfo(req.Model); infoErr == nil {
					recorded := logger.RecordUsage(sessionID, info, stream.Usage{
						Input: turnResult.usage.Input, Output: turnResult.usage.Output,
						CacheRead: turnResult.usage.CacheRead, CacheWrite: turnResult.usage.CacheWrite,
					}, time.Now())
					usageEvent.Cost = recorded.CostUSD
				}
			}
			events <- usageEvent
		}

		if err := ctx.Err(); err != nil {
			events <- update.Event{Kind: update.KindAborted}
			return err
		}

		assistantMsg := buildAssistantMessage(turnResult.text, turnResult.reasoning, turnResult.calls)

		if len(turnResult.calls) == 0 {
			if originalToolChoice.Mode == stream.ToolChoiceName && !restoredToolChoice {
				req.ToolChoice = originalToolChoice
				restoredToolChoice = true
				continue
			}
			if turnCallback != nil && len(assistantMsg.Parts) > 0 {
				cbCtx, cancel := callbackContext(ctx)
				_ = turnCallback(cbCtx, attempt, []message.Message{assistantMsg}, Metrics{
					InputTokens: turnResult.usage.Input, OutputTokens: turnResult.usage.Output, CachedInputTokens: turnResult.usage.CacheRead,
				})
				cancel()
			}
			events <- update.Event{Kind: update.KindCompleted, Text: turnResult.text}
			return nil
		}

		if attempt == maxTurns-1 {
			return errors.New("turn exceeded max turns")
		}

		if responseCallback != nil {
			cbCtx, cancel := callbackContext(ctx)
			_ = responseCallback(cbCtx, attempt, assistantMsg, Metrics{ToolCalls: len(turnResult.calls)})
			cancel()
		}

		toolResults := e.resolveToolResults(ctx, turnResult.calls, turnResult.observed, req.ToolContext, events)

		req.Messages = append(req.Messages, assistantMsg)
		req.Messages = append(req.Messages, toolResults...)

		if turnCallback != nil {
			combined := append([]message.Message{assistantMsg}, toolResults...)
			cbCtx, cancel := callbackContext(ctx)
			_ = turnCallback(cbCtx, attempt, combined, Metrics{ToolCalls: len(turnResult.calls)})
			cancel()
		}

		if err := ctx.Err(); err != nil {
			events <- update.Event{Kind: update.KindAborted}
			return err
		}

		if text := e.drainInterjection(); text != "" {
			interjectionMsg := message.UserText(text)
			req.Messages = append(req.Messages, interjectionMsg)
			if turnCallback != nil {
				cbCtx, cancel := callbackContext(ctx)
				_ = turnCallback(cbCtx, attempt, []message.Message{interjectionMsg}, Metrics{})
				cancel()
			}
			events <- update.Event{Kind: update.KindUserMessageChunk, Content: text}
		}
	}

	return errors.New("turn loop ended unexpectedly")
}

func (e *Engine) compactNow(ctx context.Context, model, systemPrompt string, req *Request, cfg compaction.CompactionConfig, inputLimit int) error {
	tokens := compaction.Usage{Input: e.estimatedTokens(req.Messages)}
	result, err := compaction.Compact(ctx, e.provider, model, systemPrompt, nonSystemMessages(req.Messages), cfg, tokens, inputLimit, false)
	if err != nil {
		return nil // best effort: continue with full context
	}
	if result.Kind != compaction.ResultCompacted {
		return nil
	}
	req.Messages = result.Messages
	e.callbackMu.Lock()
	e.lastTotalTokens = 0
	e.lastMessageCount = 0
	e.callbackMu.Unlock()
	if cb := e.getCompactionCallback(); cb != nil {
		cbCtx, cancel := callbackContext(ctx)
		_ = cb(cbCtx, result)
		cancel()
	}
	return nil
}

// turnResult accumulates one model response's content before the
// assistant message and tool calls are materialized.
type turnResult struct {
	text      string
	reasoning string
	usage     compaction.Usage
	calls     []pendingCall
	observed  map[string]message.ToolResult
}

func (e *Engine) consumeStream(ctx context.Context, st stream.Stream, events chan<- update.Event) (turnResult, error) {
	var tr turnResult
	tr.observed = make(map[string]message.ToolResult)

	var textBuilder, reasoningBuilder strings.Builder
	toolNames := map[string]string{}
	toolArgs := map[string]*strings.Builder{}
	var startOrder []string
	finalized := map[string]bool{}

	for {
		chunk, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tr, err
		}

		switch chunk.Type {
		case stream.ChunkTextDelta:
			if chunk.Text != "" {
				textBuilder.WriteString(chunk.Text)
				events <- update.Event{Kind: update.KindAgentMessageChunk, Content: chunk.Text}
			}
		case stream.ChunkReasoningDelta:
			if chunk.Text != "" {
				reasoningBuilder.WriteString(chunk.Text)
				events <- update.Event{Kind: update.KindAgentThoughtChunk, Content: chunk.Text}
			}
		case stream.ChunkToolCallStart:
			toolNames[chunk.ToolCallID] = chunk.ToolName
			toolArgs[chunk.ToolCallID] = &strings.Builder{}
			startOrder = append(startOrder, chunk.ToolCallID)
		case stream.ChunkToolCallDelta:
			if b, ok := toolArgs[chunk.ToolCallID]; ok {
				b.WriteString(chunk.ToolDelta)
			}
		case stream.ChunkToolCall:
			input := chunk.ToolArgsJSON
			if len(input) == 0 {
				if b, ok := toolArgs[chunk.ToolCallID]; ok {
					input = []byte(b.String())
				}
			}
			name := chunk.ToolName
			if name == "" {
				name = toolNames[chunk.ToolCallID]
			}
			toolNames[chunk.ToolCallID] = name
			finalized[chunk.ToolCallID] = true
			call := pendingCall{ID: chunk.ToolCallID, Name: name, Input: input}
			tr.calls = append(tr.calls, call)
			events <- update.NewToolCall(call.ID, call.Name, rawInputOf(input))
		case stream.ChunkToolObserved:
			call := pendingCall{ID: chunk.ToolCallID, Name: chunk.ToolName, Input: chunk.ToolInput}
			tr.calls = append(tr.calls, call)
			events <- update.NewToolCall(call.ID, call.Name, rawInputOf(chunk.ToolInput))
		case stream.ChunkToolResultObserved:
			tr.observed[chunk.ToolCallID] = message.ToolResult{
				ToolUseID: chunk.ToolCallID,
				Content:   chunk.ToolResultOutput,
				IsError:   !chunk.ToolResultSuccess,
			}
			status := update.StatusCompleted
			if !chunk.ToolResultSuccess {
				status = update.StatusFailed
			}
			events <- update.Event{Kind: update.KindToolCallUpdate, ToolCallID: chunk.ToolCallID, Status: status, ToolOutput: chunk.ToolResultOutput}
		case stream.ChunkFinishStep:
			tr.usage = compaction.UsageFromStream(chunk.Usage)
			// A call that was started but never completed by a ToolCall
			// chunk is finalized here from its buffered name and deltas.
			for _, id := range startOrder {
				if finalized[id] {
					continue
				}
				finalized[id] = true
				input := []byte(toolArgs[id].String())
				call := pendingCall{ID: id, Name: toolNames[id], Input: input}
				tr.calls = append(tr.calls, call)
				events <- update.NewToolCall(call.ID, call.Name, rawInputOf(input))
			}
		case stream.ChunkError:
			return tr, chunk.Err
		}
	}

	tr.text = textBuilder.String()
	tr.reasoning = reasoningBuilder.String()
	return tr, nil
}

func rawInputOf(input []byte) map[string]any {
	if len(input) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil
	}
	return m
}

func buildAssistantMessage(text, reasoning string, calls []pendingCall) message.Message {
	var parts []message.Part
	if reasoning != "" {
		parts = append(parts, message.Part{Type: message.PartThinking, Text: reasoning})
	}
	if text != "" {
		parts = append(parts, message.Part{Type: message.PartText, Text: text})
	}
	for _, c := range calls {
		parts = append(parts, message.Part{Type: message.PartToolUse, ToolUse: &message.ToolUse{ID: c.ID, Name: c.Name, Input: c.Input}})
	}
	return message.Message{Role: message.RoleAssistant, Parts: parts}
}

// resolveToolResults executes each call against the registry, except
// calls whose result a provider already reported via ChunkToolResultObserved
// (native tool execution); those are taken verbatim.
func (e *Engine) resolveToolResults(ctx context.Context, calls []pendingCall, observed map[string]message.ToolResult, tc *tool.Context, events chan<- update.Event) []message.Message {
	var toExecute []pendingCall
	results := make(map[string]message.Message, len(calls))

	for _, c := range calls {
		if r, ok := observed[c.ID]; ok {
			results[c.ID] = message.Message{Role: message.RoleTool, Parts: []message.Part{{Type: message.PartToolResult, ToolResult: &r}}}
			continue
		}
		toExecute = append(toExecute, c)
	}

	if len(toExecute) > 0 {
		executed := e.executeToolCalls(ctx, toExecute, tc, events)
		for i, c := range toExecute {
			results[c.ID] = executed[i]
		}
	}

	ordered := make([]message.Message, 0, len(calls))
	for _, c := range calls {
		ordered = append(ordered, results[c.ID])
	}
	return ordered
}
