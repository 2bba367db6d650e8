// Package compaction implements smart session compaction: a prune
// phase that marks old tool outputs as compacted, followed by an
// AI-summarization phase when pruning alone is not enough.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
)

// PruneMinimum is the minimum tokens of tool outputs worth pruning.
const PruneMinimum = 20_000

// PruneProtect is the token threshold protecting recent tool outputs
// from pruning; outputs within this many tokens of the end are kept.
const PruneProtect = 40_000

// OutputTokenMax is the default output token reserve.
const OutputTokenMax = 16_000

// ProtectedTools never has its outputs pruned.
var ProtectedTools = map[string]bool{"skill": true}

const WarningPhasePrefix = "[Previous conversation summary"

// CompactionConfig controls compaction behavior.
type CompactionConfig struct {
	Auto          bool `mapstructure:"auto"`
	Prune         bool `mapstructure:"prune"`
	PreserveTurns int  `mapstructure:"preserve_turns"`
	OutputReserve int  `mapstructure:"output_reserve"`

	// ThresholdRatio is the fraction of the provider/model input limit at
	// which the turn loop triggers a pre-turn compaction pass.
	ThresholdRatio float64 `mapstructure:"threshold_ratio"`
}

func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Auto:           true,
		Prune:          true,
		PreserveTurns:  2,
		OutputReserve:  OutputTokenMax,
		ThresholdRatio: defaultThresholdRatio,
	}
}

// Usage mirrors stream.Usage so compaction stays decoupled from a live
// stream's lifecycle.
type Usage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
}

func (u Usage) Total() int { return u.Input + u.CacheRead + u.Output }

func UsageFromStream(u stream.Usage) Usage {
	return Usage{Input: u.Input, Output: u.Output, CacheRead: u.CacheRead, CacheWrite: u.CacheWrite}
}

// IsOverflow reports whether tokens exceeds the usable context window
// after reserving output_reserve (capped at OutputTokenMax) tokens.
func IsOverflow(tokens Usage, contextLimit, outputReserve int) bool {
	if contextLimit == 0 {
		return false
	}
	reserve := outputReserve
	if reserve > OutputTokenMax {
		reserve = OutputTokenMax
	}
	usable := contextLimit - reserve
	if usable < 0 {
		usable = 0
	}
	return tokens.Total() > usable
}

// ResultKind discriminates CompactionResult's outcome.
type ResultKind int

const (
	ResultNotNeeded ResultKind = iota
	ResultInsufficientMessages
	ResultCompacted
	ResultFailed
)

// CompactionResult is the outcome of a Compact call.
type CompactionResult struct {
	Kind               ResultKind
	Messages           []message.Message
	Summary            string
	MessagesSummarized int
	Err                string
}

// estimateTokens approximates a token count as one token per four
// characters, matching the original's estimate_tokens.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessageTokens approximates one message's token footprint.
func EstimateMessageTokens(msg message.Message) int {
	chars := 0
	for _, part := range msg.Parts {
		switch part.Type {
		case message.PartText, message.PartThinking:
			chars += len(part.Text)
		case message.PartToolUse:
			chars += len(part.ToolUse.Name) + len(part.ToolUse.Input)
		case message.PartToolResult:
			chars += len(part.ToolResult.Content)
		case message.PartImage:
			chars += 1000
		}
	}
	chars += 20
	return chars / 4
}

// EstimateMessagesTokens sums the estimated token footprint of messages,
// used by the turn loop's pre-turn overflow check.
func EstimateMessagesTokens(messages []message.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}
	return total
}

// isCompactionMessage reports whether msg is itself a prior compaction
// summary, used as a backstop against pruning through already-compacted
// history.
func isCompactionMessage(msg message.Message) bool {
	if msg.Role != message.RoleAssistant {
		return false
	}
	for _, part := range msg.Parts {
		if part.Type == message.PartText &&
			(strings.Contains(part.Text, WarningPhasePrefix) || strings.Contains(part.Text, "[compacted]")) {
			return true
		}
	}
	return false
}

func findToolName(messages []message.Message, toolUseID string) (string, bool) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.Type == message.PartToolUse && part.ToolUse.ID == toolUseID {
				return part.ToolUse.Name, true
			}
		}
	}
	return "", false
}

type prunableLoc struct {
	msgIdx  int
	partIdx int
}

// pruneToolOutputs walks messages backwards, protecting the most recent
// PruneProtect tokens of tool-result content, and replaces older,
// unprotected results with "[compacted]" if doing so would free at least
// PruneMinimum tokens. Returns the number of tokens freed.
func pruneToolOutputs(messages []message.Message, cfg CompactionConfig) int {
	if !cfg.Prune {
		return 0
	}

	totalTokens := 0
	prunableTokens := 0
	var locs []prunableLoc
	turnsSeen := 0

	// Clamp PreserveTurns to one less than the number of user messages.
	preserveTurns := cfg.PreserveTurns
	userMessages := 0
	for _, msg := range messages {
		if msg.Role == message.RoleUser {
			userMessages++
		}
	}
	if preserveTurns > userMessages-1 {
		preserveTurns = userMessages - 1
	}

	for msgIdx := len(messages) - 1; msgIdx >= 0; msgIdx-- {
		msg := messages[msgIdx]

		if msg.Role == message.RoleUser {
			turnsSeen++
		}
		if turnsSeen < preserveTurns {
			continue
		}
		if isCompactionMessage(msg) {
			break
		}

		for partIdx := len(msg.Parts) - 1; partIdx >= 0; partIdx-- {
			part := msg.Parts[partIdx]
			if part.Type != message.PartToolResult {
				continue
			}
			tr := part.ToolResult

			if name, ok := findToolName(messages, tr.ToolUseID); ok && ProtectedTools[name] {
				continue
			}
			if tr.Content == "" || strings.HasPrefix(tr.Content, "[compacted]") {
				continue
			}

			estimate := estimateTokens(tr.Content)
			totalTokens += estimate
			if totalTokens > PruneProtect {
				prunableTokens += estimate
				locs = append(locs, prunableLoc{msgIdx, partIdx})
			}
		}
	}

	if prunableTokens < PruneMinimum {
		return 0
	}

	for _, loc := range locs {
		part := &messages[loc.msgIdx].Parts[loc.partIdx]
		part.ToolResult = &message.ToolResult{ToolUseID: part.ToolResult.ToolUseID, Content: "[compacted]"}
	}

	return prunableTokens
}

const compactionSystemPrompt = `You are a helpful AI assistant tasked with summarizing conversations.

When asked to summarize, provide a detailed but concise summary of the conversation.
Focus on information that would be helpful for continuing the conversation, including:
- What was done
- What is currently being worked on
- Which files are being modified
- What needs to be done next
- Key user requests, constraints, or preferences that should persist
- Important technical decisions and why they were made

Your summary should be comprehensive enough to provide context but concise enough to be quickly understood.

Format your response as a clear, structured summary. Do not include any preamble like "Here's a summary" - just provide the summary directly.`

const compactionUserPrompt = `Provide a detailed prompt for continuing our conversation above. Focus on information that would be helpful for continuing the conversation, including what we did, what we're doing, which files we're working on, and what we're going to do next considering new session will not have access to our conversation.`

// Compact runs the two-phase algorithm: prune, then (if still over
// budget) AI-summarize. autoContinue appends a synthetic "Continue if
// you have next steps" user message to a successful summarization, for
// callers driving an unattended agent loop.
func Compact(ctx context.Context, provider stream.Provider, model, systemPrompt string, messages []message.Message, cfg CompactionConfig, tokens Usage, contextLimit int, autoContinue bool) (*CompactionResult, error) {
	prunedTokens := pruneToolOutputs(messages, cfg)

	adjusted := tokens
	adjusted.Input -= prunedTokens
	if adjusted.Input < 0 {
		adjusted.Input = 0
	}

	if !IsOverflow(adjusted, contextLimit, cfg.OutputReserve) {
		if prunedTokens > 0 {
			return &CompactionResult{Kind: ResultCompacted, Messages: messages}, nil
		}
		return &CompactionResult{Kind: ResultNotNeeded}, nil
	}

	result, err := compactWithSummary(ctx, provider, model, messages)
	if err != nil {
		return nil, err
	}

	if autoContinue && result.Kind == ResultCompacted {
		result.Messages = append(result.Messages, message.UserText("Continue if you have next steps"))
	}

	return result, nil
}

// compactWithSummary keeps the first message and the most recent 4
// messages verbatim, replacing everything between with one AI-generated
// summary message.
func compactWithSummary(ctx context.Context, provider stream.Provider, model string, messages []message.Message) (*CompactionResult, error) {
	if len(messages) < 4 {
		return &CompactionResult{Kind: ResultInsufficientMessages}, nil
	}

	preserveRecent := 4
	if preserveRecent > len(messages)-1 {
		preserveRecent = len(messages) - 1
	}
	middleEnd := len(messages) - preserveRecent
	if middleEnd <= 1 {
		return &CompactionResult{Kind: ResultInsufficientMessages}, nil
	}

	first := messages[0]
	toSummarize := messages[1:middleEnd]
	recent := messages[middleEnd:]
	if len(toSummarize) == 0 {
		return &CompactionResult{Kind: ResultInsufficientMessages}, nil
	}

	conversationText := formatMessagesForSummary(toSummarize)
	summaryMessages := []message.Message{
		message.UserText(fmt.Sprintf("Here is a conversation to summarize:\n\n%s\n\n%s", conversationText, compactionUserPrompt)),
	}

	temp := float32(0.3)
	opts := stream.Options{
		System:      compactionSystemPrompt,
		MaxTokens:   2000,
		Temperature: temp,
	}

	summary, err := generateSummary(ctx, provider, summaryMessages, opts)
	if err != nil {
		return &CompactionResult{Kind: ResultFailed, Err: err.Error()}, nil
	}
	if summary == "" {
		return &CompactionResult{Kind: ResultFailed, Err: "Empty summary generated"}, nil
	}

	newMessages := make([]message.Message, 0, preserveRecent+2)
	newMessages = append(newMessages, first)
	newMessages = append(newMessages, message.AssistantText(fmt.Sprintf(
		"%s (%d messages)]\n\n%s", WarningPhasePrefix, len(toSummarize), summary)))
	newMessages = append(newMessages, recent...)

	return &CompactionResult{
		Kind:               ResultCompacted,
		Messages:           newMessages,
		Summary:            summary,
		MessagesSummarized: len(toSummarize),
	}, nil
}

func generateSummary(ctx context.Context, provider stream.Provider, messages []message.Message, opts stream.Options) (string, error) {
	st, err := provider.Generate(ctx, messages, opts)
	if err != nil {
		return "", fmt.Errorf("failed to start summary generation: %w", err)
	}
	defer st.Close()

	var sb strings.Builder
	for {
		chunk, err := st.Recv()
		if err != nil {
			break
		}
		if chunk.Type == stream.ChunkTextDelta {
			sb.WriteString(chunk.Text)
		}
		if chunk.Type == stream.ChunkError {
			return "", fmt.Errorf("summary generation error: %w", chunk.Err)
		}
		if chunk.Type == stream.ChunkFinishStep {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func formatMessagesForSummary(messages []message.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		label := "User"
		switch msg.Role {
		case message.RoleAssistant:
			label = "Assistant"
		case message.RoleSystem:
			label = "System"
		case message.RoleTool:
			label = "Tool"
		}
		sb.WriteString(fmt.Sprintf("--- %s ---\n", label))

		for _, part := range msg.Parts {
			switch part.Type {
			case message.PartText:
				text := part.Text
				if len(text) > 2000 {
					sb.WriteString(text[:2000])
					sb.WriteString("... [truncated]\n")
				} else {
					sb.WriteString(text)
					sb.WriteString("\n")
				}
			case message.PartToolUse:
				sb.WriteString(fmt.Sprintf("[Tool: %s with input: %s]\n", part.ToolUse.Name, string(part.ToolUse.Input)))
			case message.PartToolResult:
				content := part.ToolResult.Content
				if content == "[compacted]" {
					sb.WriteString("[Tool result: compacted]\n")
				} else if len(content) > 500 {
					sb.WriteString(fmt.Sprintf("[Tool result: %s... [truncated]]\n", content[:500]))
				} else {
					sb.WriteString(fmt.Sprintf("[Tool result: %s]\n", content))
				}
			case message.PartImage:
				sb.WriteString("[Image]\n")
			case message.PartThinking:
				text := part.Text
				if len(text) > 500 {
					sb.WriteString(fmt.Sprintf("[Thinking: %s... [truncated]]\n", text[:500]))
				} else {
					sb.WriteString(fmt.Sprintf("[Thinking: %s]\n", text))
				}
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// NeedsCompaction is the pre-turn estimate-based check (legacy entry
// point per the original's needs_compaction, used before real usage
// numbers are available from a provider response).
func NeedsCompaction(messages []message.Message, contextLimit int, cfg CompactionConfig) bool {
	if !cfg.Auto {
		return false
	}
	if len(messages) < 6 {
		return false
	}
	estimated := EstimateMessagesTokens(messages)
	threshold := contextLimit - cfg.OutputReserve
	if threshold < 0 {
		threshold = 0
	}
	return estimated > threshold
}
