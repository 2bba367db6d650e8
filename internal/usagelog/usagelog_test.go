package usagelog

import (
	"testing"
	"time"

	"github.com/jarvis-run/turnengine/internal/stream"
)

func TestCalculateCost(t *testing.T) {
	usage := stream.Usage{Input: 1_000_000, Output: 500_000, CacheRead: 200_000}
	cost := stream.Cost{InputPerToken: 0.000003, OutputPerToken: 0.000015, CacheReadPerToken: 0.0000003}

	got := CalculateCost(usage, cost)
	want := 1_000_000*0.000003 + 500_000*0.000015 + 200_000*0.0000003
	if got != want {
		t.Errorf("CalculateCost() = %v, want %v", got, want)
	}
}

func TestCalculateCostZeroPricing(t *testing.T) {
	usage := stream.Usage{Input: 1000, Output: 500}
	if got := CalculateCost(usage, stream.Cost{}); got != 0 {
		t.Errorf("expected zero cost with zero pricing, got %v", got)
	}
}

func TestLoggerSessionTotals(t *testing.T) {
	l := NewLogger()
	info := stream.ModelInfo{ID: "claude-test", ProviderID: "anthropic", Cost: stream.Cost{InputPerToken: 0.000003, OutputPerToken: 0.000015}}

	l.RecordUsage("sess-1", info, stream.Usage{Input: 100, Output: 50}, time.Unix(0, 0))
	l.RecordUsage("sess-1", info, stream.Usage{Input: 200, Output: 25}, time.Unix(1, 0))
	l.RecordUsage("sess-2", info, stream.Usage{Input: 1000, Output: 1000}, time.Unix(2, 0))

	totals := l.SessionTotals("sess-1")
	if totals.Input != 300 || totals.Output != 75 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if len(l.Entries()) != 3 {
		t.Fatalf("expected 3 recorded entries, got %d", len(l.Entries()))
	}
}

func TestAggregateDaily(t *testing.T) {
	day := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Model: "a", Timestamp: day, Input: 10},
		{Model: "b", Timestamp: day.Add(2 * time.Hour), Input: 20},
		{Model: "a", Timestamp: day.Add(24 * time.Hour), Input: 5},
	}

	daily := AggregateDaily(entries)
	if len(daily) != 2 {
		t.Fatalf("expected 2 days, got %d", len(daily))
	}
	if daily[0].Input != 30 || len(daily[0].ModelsUsed) != 2 {
		t.Fatalf("unexpected first day aggregate: %+v", daily[0])
	}
	if daily[1].Input != 5 {
		t.Fatalf("unexpected second day aggregate: %+v", daily[1])
	}
}

func TestAggregateDailyEmpty(t *testing.T) {
	if got := AggregateDaily(nil); got != nil {
		t.Errorf("expected nil for no entries, got %+v", got)
	}
}
