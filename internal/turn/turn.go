// Package turn implements the turn engine (C7): it drives one user
// prompt to completion over a provider stream, executing tool calls
// against a registry and consulting the compaction engine when context
// grows too large, emitting its progress as update-bus events.
package turn

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jarvis-run/turnengine/internal/compaction"
	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/tool"
	"github.com/jarvis-run/turnengine/internal/update"
	"github.com/jarvis-run/turnengine/internal/usagelog"
)

const (
	defaultMaxTurns = 20
	callbackTimeout = 5 * time.Second
)

// Metrics summarizes one turn's token and tool-call accounting.
type Metrics struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ToolCalls         int
}

// TurnCompletedCallback fires after each loop iteration with the
// messages appended during it (assistant message plus any tool
// results), for incremental persistence.
type TurnCompletedCallback func(ctx context.Context, turnIndex int, messages []message.Message, metrics Metrics) error

// ResponseCompletedCallback fires as soon as the model's response is
// fully received, before tool execution, so the assistant message is
// persisted even if a tool call crashes the process.
type ResponseCompletedCallback func(ctx context.Context, turnIndex int, assistantMsg message.Message, metrics Metrics) error

// CompactionCallback fires after a successful compaction pass so the
// caller can swap in the rewritten message log.
type CompactionCallback func(ctx context.Context, result *compaction.CompactionResult) error

// Request describes one prompt-to-completion run.
type Request struct {
	Messages []message.Message
	System   string

	Model           string
	MaxTokens       int
	Temperature     float32
	TopP            float32
	ReasoningEffort string

	ToolChoice         stream.ToolChoice
	LastTurnToolChoice *stream.ToolChoice // forced once the final attempt is reached
	MaxTurns           int

	// ToolContext is passed to every tool.Tool.Execute call this turn.
	ToolContext *tool.Context
}

// Engine orchestrates provider calls and tool execution for one session
// at a time; callers share one Engine per session, not per request.
type Engine struct {
	provider stream.Provider
	registry tool.Registry

	allowedTools map[string]bool
	allowedMu    sync.RWMutex

	onTurnCompleted     TurnCompletedCallback
	onResponseCompleted ResponseCompletedCallback
	onCompaction        CompactionCallback
	callbackMu          sync.RWMutex

	maxToolOutputChars int

	compactionConfig     *compaction.CompactionConfig
	inputLimit           int
	lastTotalTokens      int
	lastMessageCount     int
	contextNoticeEmitted atomic.Bool

	interjection chan string

	usageLogger    *usagelog.Logger
	usageSessionID string
}

func NewEngine(provider stream.Provider, registry tool.Registry) *Engine {
	return &Engine{provider: provider, registry: registry}
}

// SetAllowedTools restricts tool execution to names, intersected with
// the registry's own catalog. An empty list clears the restriction.
func (e *Engine) SetAllowedTools(names []string) {
	e.allowedMu.Lock()
	defer e.allowedMu.Unlock()
	if len(names) == 0 {
		e.allowedTools = nil
		return
	}
	e.allowedTools = make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := e.registry.Lookup(name); ok {
			e.allowedTools[name] = true
		}
	}
}

// ClearAllowedTools removes any tool-execution restriction.
func (e *Engine) ClearAllowedTools() {
	e.allowedMu.Lock()
	e.allowedTools = nil
	e.allowedMu.Unlock()
}

// IsToolAllowed reports whether name may currently be executed.
func (e *Engine) IsToolAllowed(name string) bool {
	e.allowedMu.RLock()
	defer e.allowedMu.RUnlock()
	if e.allowedTools == nil {
		return true
	}
	return e.allowedTools[name]
}

func (e *Engine) SetTurnCompletedCallback(cb TurnCompletedCallback) {
	e.callbackMu.Lock()
	e.onTurnCompleted = cb
	e.callbackMu.Unlock()
}

func (e *Engine) SetResponseCompletedCallback(cb ResponseCompletedCallback) {
	e.callbackMu.Lock()
	e.onResponseCompleted = cb
	e.callbackMu.Unlock()
}

func (e *Engine) SetCompactionCallback(cb CompactionCallback) {
	e.callbackMu.Lock()
	e.onCompaction = cb
	e.callbackMu.Unlock()
}

// SetMaxToolOutputChars bounds tool output length; 0 disables truncation.
func (e *Engine) SetMaxToolOutputChars(n int) {
	e.callbackMu.Lock()
	e.maxToolOutputChars = n
	e.callbackMu.Unlock()
}

// SetCompaction enables pre-turn and reactive compaction against the
// given provider/model input token limit.
func (e *Engine) SetCompaction(inputLimit int, cfg compaction.CompactionConfig) {
	e.callbackMu.Lock()
	e.inputLimit = inputLimit
	e.compactionConfig = &cfg
	e.callbackMu.Unlock()
}

// SetContextTracking enables token tracking without compaction, so
// callers can still surface a "context nearly full" notice.
func (e *Engine) SetContextTracking(inputLimit int) {
	e.callbackMu.Lock()
	e.inputLimit = inputLimit
	e.compactionConfig = nil
	e.callbackMu.Unlock()
}

// SetUsageLogger wires a usagelog.Logger so every FinishStep's token
// usage is priced against the provider's model-info cost table and
// recorded under sessionID.
func (e *Engine) SetUsageLogger(sessionID string, logger *usagelog.Logger) {
	e.callbackMu.Lock()
	e.usageSessionID = sessionID
	e.usageLogger = logger
	e.callbackMu.Unlock()
}

func (e *Engine) getUsageLogger() (*usagelog.Logger, string) {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.usageLogger, e.usageSessionID
}

func (e *Engine) InputLimit() int {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.inputLimit
}

func (e *Engine) LastTotalTokens() int {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.lastTotalTokens
}

// Interject queues text to be appended as a user message after the
// current turn's tool results, before the next model call. Only the
// most recent pending interjection is kept.
func (e *Engine) Interject(text string) {
	e.callbackMu.Lock()
	if e.interjection == nil {
		e.interjection = make(chan string, 1)
	}
	ch := e.interjection
	e.callbackMu.Unlock()

	select {
	case <-ch:
	default:
	}
	ch <- text
}

func (e *Engine) drainInterjection() string {
	e.callbackMu.RLock()
	ch := e.interjection
	e.callbackMu.RUnlock()
	if ch == nil {
		return ""
	}
	select {
	case text := <-ch:
		return text
	default:
		return ""
	}
}

func (e *Engine) getTurnCallback() TurnCompletedCallback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.onTurnCompleted
}

func (e *Engine) getResponseCallback() ResponseCompletedCallback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.onResponseCompleted
}

func (e *Engine) getCompactionCallback() CompactionCallback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.onCompaction
}

func (e *Engine) applyToolOutputTruncation(content string) string {
	e.callbackMu.RLock()
	maxChars := e.maxToolOutputChars
	e.callbackMu.RUnlock()
	if maxChars > 0 {
		content = truncateToolResult(content, maxChars)
	}
	return content
}

// estimatedTokens approximates the next call's input size, preferring
// the previous response's reported total (input+output, since the
// model's output becomes next turn's input) plus an estimate of
// messages appended since, over a full heuristic recount.
func (e *Engine) estimatedTokens(messages []message.Message) int {
	e.callbackMu.RLock()
	lastTotal := e.lastTotalTokens
	lastCount := e.lastMessageCount
	e.callbackMu.RUnlock()
	if lastTotal > 0 && lastCount > 0 && lastCount < len(messages) {
		return lastTotal + compaction.EstimateMessagesTokens(messages[lastCount:])
	}
	return compaction.EstimateMessagesTokens(messages)
}

func nonSystemMessages(messages []message.Message) []message.Message {
	out := make([]message.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != message.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// callbackContext detaches a persistence callback's context from the
// turn's cancellation so a cancelled/timed-out turn still gets a chance
// to save what it produced.
func callbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
}

// Stream yields a turn's update-bus events until Recv returns io.EOF.
type Stream interface {
	Recv() (update.Event, error)
	Close() error
}

// Run starts one prompt-to-completion turn and returns its event
// stream. The turn runs on a background goroutine; callers must drain
// Recv to io.EOF (or call Close) to release it.
func (e *Engine) Run(ctx context.Context, req Request) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- update.Event) error {
		return e.run(ctx, req, events)
	})
}

type eventStream struct {
	events chan update.Event
	errCh  chan error
	done   bool
	cancel context.CancelFunc
}

func newEventStream(ctx context.Context, fn func(ctx context.Context, events chan<- update.Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan update.Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		err := fn(ctx, s.events)
		close(s.events)
		s.errCh <- err
	}()
	return s
}

func (s *eventStream) Recv() (update.Event, error) {
	if s.done {
		return update.Event{}, io.EOF
	}
	ev, ok := <-s.events
	if !ok {
		s.done = true
		if err := <-s.errCh; err != nil {
			return update.Event{}, err
		}
		return update.Event{}, io.EOF
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	if !s.done {
		s.done = true
		// Drain the remaining events so the turn goroutine never blocks
		// on a send nobody will receive.
		go func() {
			for range s.events {
			}
		}()
	}
	return nil
}
