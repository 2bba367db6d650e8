// Package usagelog records per-turn token usage and computes cost from a
// provider's model-info price table, the detail spec.md §4.4 leaves
// opaque ("cost is computed from the provider's model-info price table").
package usagelog

import (
	"sort"
	"sync"
	"time"

	"github.com/jarvis-run/turnengine/internal/stream"
)

// Entry is one turn's token usage and its computed cost.
type Entry struct {
	SessionID  string
	Timestamp  time.Time
	Provider   string
	Model      string
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
	CostUSD    float64
}

// TotalTokens sums every token type in the entry.
func (e Entry) TotalTokens() int {
	return e.Input + e.Output + e.CacheRead + e.CacheWrite
}

// CalculateCost prices a token usage against a model's per-token cost
// table, as reported by stream.ModelInfo.Cost.
func CalculateCost(usage stream.Usage, cost stream.Cost) float64 {
	var total float64
	total += float64(usage.Input) * cost.InputPerToken
	total += float64(usage.Output) * cost.OutputPerToken
	total += float64(usage.CacheRead) * cost.CacheReadPerToken
	total += float64(usage.CacheWrite) * cost.CacheWritePerToken
	return total
}

// DailyUsage aggregates entries recorded on a single calendar day.
type DailyUsage struct {
	Date       string // YYYY-MM-DD
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
	CostUSD    float64
	ModelsUsed []string
}

// TotalTokens sums every token type aggregated for the day.
func (d DailyUsage) TotalTokens() int {
	return d.Input + d.Output + d.CacheRead + d.CacheWrite
}

// AggregateDaily groups entries by calendar day, sorted oldest first.
func AggregateDaily(entries []Entry) []DailyUsage {
	if len(entries) == 0 {
		return nil
	}

	byDate := make(map[string]*DailyUsage)
	for _, e := range entries {
		date := e.Timestamp.Format("2006-01-02")
		daily, ok := byDate[date]
		if !ok {
			daily = &DailyUsage{Date: date}
			byDate[date] = daily
		}
		daily.Input += e.Input
		daily.Output += e.Output
		daily.CacheRead += e.CacheRead
		daily.CacheWrite += e.CacheWrite
		daily.CostUSD += e.CostUSD

		if e.Model == "" {
			continue
		}
		found := false
		for _, m := range daily.ModelsUsed {
			if m == e.Model {
				found = true
				break
			}
		}
		if !found {
			daily.ModelsUsed = append(daily.ModelsUsed, e.Model)
		}
	}

	result := make([]DailyUsage, 0, len(byDate))
	for _, daily := range byDate {
		result = append(result, *daily)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result
}

// Logger accumulates usage entries for the lifetime of a process,
// guarding concurrent turns across sessions.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLogger() *Logger {
	return &Logger{}
}

// Record appends a fully-formed entry.
func (l *Logger) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// RecordUsage prices usage against info.Cost and records the resulting
// entry, returning it so the caller can surface it on the update bus.
func (l *Logger) RecordUsage(sessionID string, info stream.ModelInfo, usage stream.Usage, at time.Time) Entry {
	entry := Entry{
		SessionID:  sessionID,
		Timestamp:  at,
		Provider:   info.ProviderID,
		Model:      info.ID,
		Input:      usage.Input,
		Output:     usage.Output,
		CacheRead:  usage.CacheRead,
		CacheWrite: usage.CacheWrite,
		CostUSD:    CalculateCost(usage, info.Cost),
	}
	l.Record(entry)
	return entry
}

// Entries returns a snapshot of every entry recorded so far.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// SessionTotals returns the aggregated totals for one session.
func (l *Logger) SessionTotals(sessionID string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := Entry{SessionID: sessionID}
	for _, e := range l.entries {
		if e.SessionID != sessionID {
			continue
		}
		total.Input += e.Input
		total.Output += e.Output
		total.CacheRead += e.CacheRead
		total.CacheWrite += e.CacheWrite
		total.CostUSD += e.CostUSD
	}
	return total
}
