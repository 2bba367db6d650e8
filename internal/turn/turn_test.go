package turn

import (
	"context"
	"io"
	"testing"

	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/turn/testutil"
	"github.com/jarvis-run/turnengine/internal/update"
	"github.com/jarvis-run/turnengine/internal/usagelog"
)

func drain(t *testing.T, s Stream) []update.Event {
	t.Helper()
	var out []update.Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		out = append(out, ev)
	}
}

func TestRunTextOnlyCompletes(t *testing.T) {
	provider := &testutil.ScriptedProvider{ID: "fake", Turns: [][]stream.Chunk{
		{
			{Type: stream.ChunkTextDelta, Text: "hello "},
			{Type: stream.ChunkTextDelta, Text: "world"},
			{Type: stream.ChunkFinishStep, FinishReason: stream.FinishEndTurn, Usage: stream.Usage{Input: 10, Output: 5}},
		},
	}}
	reg := testutil.NewRegistry()
	e := NewEngine(provider, reg)

	events := drain(t, e.Run(context.Background(), Request{Messages: []message.Message{message.UserText("hi")}}))

	var gotCompleted bool
	var text string
	for _, ev := range events {
		if ev.Kind == update.KindAgentMessageChunk {
			text += ev.Content
		}
		if ev.Kind == update.KindCompleted {
			gotCompleted = true
		}
	}
	if !gotCompleted {
		t.Fatal("expected a Completed event")
	}
	if text != "hello world" {
		t.Fatalf("text = %q, want %q", text, "hello world")
	}
}

func TestRunExecutesToolCallThenCompletes(t *testing.T) {
	provider := &testutil.ScriptedProvider{ID: "fake", Turns: [][]stream.Chunk{
		{
			{Type: stream.ChunkToolCall, ToolCallID: "call1", ToolName: "echo", ToolArgsJSON: []byte(`{"text":"ping"}`)},
			{Type: stream.ChunkFinishStep, FinishReason: stream.FinishToolUse, Usage: stream.Usage{Input: 10, Output: 5}},
		},
		{
			{Type: stream.ChunkTextDelta, Text: "done"},
			{Type: stream.ChunkFinishStep, FinishReason: stream.FinishEndTurn, Usage: stream.Usage{Input: 12, Output: 2}},
		},
	}}
	reg := testutil.NewRegistry(&testutil.EchoTool{Name_: "echo"})
	e := NewEngine(provider, reg)

	var turnMessages [][]message.Message
	e.SetTurnCompletedCallback(func(ctx context.Context, turnIndex int, messages []message.Message, metrics Metrics) error {
		turnMessages = append(turnMessages, messages)
		return nil
	})

	events := drain(t, e.Run(context.Background(), Request{Messages: []message.Message{message.UserText("hi")}}))

	var sawToolCall, sawToolUpdate, sawCompleted bool
	for _, ev := range events {
		switch ev.Kind {
		case update.KindToolCall:
			sawToolCall = true
		case update.KindToolCallUpdate:
			if ev.Status == update.StatusCompleted {
				sawToolUpdate = true
			}
		case update.KindCompleted:
			sawCompleted = true
		}
	}
	if !sawToolCall || !sawToolUpdate || !sawCompleted {
		t.Fatalf("missing expected events: toolCall=%v toolUpdate=%v completed=%v", sawToolCall, sawToolUpdate, sawCompleted)
	}
	if len(turnMessages) == 0 {
		t.Fatal("expected at least one turn-completed callback")
	}

	foundResult := false
	for _, msgs := range turnMessages {
		for _, m := range msgs {
			for _, p := range m.Parts {
				if p.Type == message.PartToolResult && p.ToolResult.Content == "ping" {
					foundResult = true
				}
			}
		}
	}
	if !foundResult {
		t.Fatal("expected echo tool result \"ping\" to appear in a turn callback")
	}
}

func TestRunHonorsAllowedTools(t *testing.T) {
	provider := &testutil.ScriptedProvider{ID: "fake", Turns: [][]stream.Chunk{
		{
			{Type: stream.ChunkToolCall, ToolCallID: "call1", ToolName: "echo", ToolArgsJSON: []byte(`{"text":"ping"}`)},
			{Type: stream.ChunkFinishStep, FinishReason: stream.FinishToolUse},
		},
		{
			{Type: stream.ChunkTextDelta, Text: "done"},
			{Type: stream.ChunkFinishStep, FinishReason: stream.FinishEndTurn},
		},
	}}
	reg := testutil.NewRegistry(&testutil.EchoTool{Name_: "echo"})
	e := NewEngine(provider, reg)
	e.SetAllowedTools([]string{"other"})

	events := drain(t, e.Run(context.Background(), Request{Messages: []message.Message{message.UserText("hi")}}))

	var sawFailed bool
	for _, ev := range events {
		if ev.Kind == update.KindToolCallUpdate && ev.Status == update.StatusFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatal("expected the disallowed tool call to fail")
	}
}

func TestIsContextOverflowError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"context_length_exceeded: too many tokens", true},
		{"maximum context length is 8192 tokens", true},
		{"rate limited, try again later", false},
	}
	for _, tc := range cases {
		got := isContextOverflowError(errString(tc.msg))
		if got != tc.want {
			t.Errorf("isContextOverflowError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestRunRecordsUsageCost(t *testing.T) {
	provider := &testutil.ScriptedProvider{
		ID: "fake",
		Turns: [][]stream.Chunk{
			{
				{Type: stream.ChunkTextDelta, Text: "hi"},
				{Type: stream.ChunkFinishStep, FinishReason: stream.FinishEndTurn, Usage: stream.Usage{Input: 1000, Output: 500}},
			},
		},
		Cost: stream.Cost{InputPerToken: 0.000003, OutputPerToken: 0.000015},
	}
	reg := testutil.NewRegistry()
	e := NewEngine(provider, reg)
	logger := usagelog.NewLogger()
	e.SetUsageLogger("sess-1", logger)

	events := drain(t, e.Run(context.Background(), Request{Model: "fake-model", Messages: []message.Message{message.UserText("hi")}}))

	var sawCost bool
	for _, ev := range events {
		if ev.Kind == update.KindTokenUsage {
			if ev.Cost <= 0 {
				t.Fatalf("expected a positive computed cost, got %v", ev.Cost)
			}
			sawCost = true
		}
	}
	if !sawCost {
		t.Fatal("expected a TokenUsage event")
	}

	totals := logger.SessionTotals("sess-1")
	if totals.Input != 1000 || totals.Output != 500 {
		t.Fatalf("unexpected logged totals: %+v", totals)
	}
}
