// Package telemetry tracks named session counters and tool execution
// events, and exports both as OTEL-shaped JSONL.
package telemetry

import (
	"sync"
	"time"
)

// defaultCounters lists every counter the session tracks, mirroring the
// reference implementation's fixed counter set.
var defaultCounters = []string{
	"tokens_used", "compact_events", "drops_count",
	"summarizer_calls", "pins_size", "mcp_fetches",
}

// Telemetry holds a session's named counters. Safe for concurrent use.
type Telemetry struct {
	mu       sync.Mutex
	counters map[string]int
	events   []ToolExecutionEvent
}

// ToolExecutionEvent records one tool invocation for the tools-executed
// table, the audit log, and the OTEL export.
type ToolExecutionEvent struct {
	Turn       int
	ToolName   string
	CallID     string
	Duration   time.Duration
	IsError    bool
	Skipped    bool
	Truncated  bool
	InputSize  int
	OutputSize int
	ErrorType  string
	Paths      []string
}

// New returns a Telemetry with every default counter initialized to 0.
func New() *Telemetry {
	counters := make(map[string]int, len(defaultCounters))
	for _, name := range defaultCounters {
		counters[name] = 0
	}
	return &Telemetry{counters: counters}
}

// Incr adds amount to the named counter, creating it if necessary.
func (t *Telemetry) Incr(key string, amount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[key] += amount
}

// Set overwrites the named counter's value.
func (t *Telemetry) Set(key string, value int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[key] = value
}

// Snapshot returns a copy of the current counter map.
func (t *Telemetry) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counters))
	for k, v := range t.counters {
		out[k] = v
	}
	return out
}

// RecordToolExecution appends an event to the in-memory tool execution
// log, used to render the CLI's tools-executed table.
func (t *Telemetry) RecordToolExecution(ev ToolExecutionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

// ToolEvents returns a copy of every recorded tool execution event.
func (t *Telemetry) ToolEvents() []ToolExecutionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolExecutionEvent, len(t.events))
	copy(out, t.events)
	return out
}

// ToolStats summarizes tool execution counts by name, used for the
// tools-executed table footer.
type ToolStats struct {
	Name    string
	Calls   int
	Errors  int
	Skipped int
}

// Stats aggregates ToolEvents into one ToolStats entry per tool name, in
// first-seen order.
func (t *Telemetry) Stats() []ToolStats {
	events := t.ToolEvents()
	index := make(map[string]int)
	var stats []ToolStats
	for _, ev := range events {
		i, ok := index[ev.ToolName]
		if !ok {
			i = len(stats)
			index[ev.ToolName] = i
			stats = append(stats, ToolStats{Name: ev.ToolName})
		}
		stats[i].Calls++
		if ev.IsError {
			stats[i].Errors++
		}
		if ev.Skipped {
			stats[i].Skipped++
		}
	}
	return stats
}
