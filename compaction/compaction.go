// Package compaction implements the two-phase algorithm that keeps a
// session's history within its model context window: per-tool-result
// output capping, then turn-range summarization once the total token
// budget is exceeded.
package compaction

import (
	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/history"
	"github.com/deepnoodle-ai/indubitably/summarize"
	"github.com/deepnoodle-ai/indubitably/telemetry"
	"github.com/deepnoodle-ai/indubitably/tokenmeter"
)

// ModelLimits describes the context window accounting for the active
// model.
type ModelLimits struct {
	WindowTokens int
}

// Settings controls when and how aggressively compaction runs.
type Settings struct {
	KeepLastTurns int
	TargetTokens  int
}

// ToolLimits bounds the size of any single tool_result record before
// compaction even considers the overall budget.
type ToolLimits struct {
	MaxToolTokens  int
	MaxStdoutBytes int
	MaxLines       int
}

// Engine runs MaybeCompact against a history.Store.
type Engine struct {
	History    *history.Store
	Model      ModelLimits
	Settings   Settings
	ToolLimits ToolLimits
	Meter      *tokenmeter.Meter
	Telemetry  *telemetry.Telemetry

	Now func() (nowUnixNano int64)
}

// MaybeCompact enforces tool-output limits, then checks whether the
// total token budget is exceeded and, if so, summarizes and drops the
// oldest turns. It returns true if a summarization pass ran.
func (e *Engine) MaybeCompact(force bool) bool {
	e.enforceToolLimits()

	window := e.Model.WindowTokens
	target := e.Settings.TargetTokens
	if target > window {
		target = window
	}
	threshold := int(float64(window) * 0.95)
	budget := target
	if threshold < budget {
		budget = threshold
	}

	current := e.History.TotalTokens()
	if !force && current <= budget {
		return false
	}

	keepTurns := e.Settings.KeepLastTurns
	if keepTurns < 0 {
		keepTurns = 0
	}
	cutoffTurn := e.History.TurnCounter() - keepTurns + 1
	if cutoffTurn < 1 {
		cutoffTurn = 1
	}

	var candidates []*indubitably.Record
	for _, r := range e.History.Records() {
		if (r.Kind == indubitably.KindUser || r.Kind == indubitably.KindAssistant || r.Kind == indubitably.KindToolResult) && r.TurnID < cutoffTurn {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return false
	}

	beforeCount := e.History.Len()
	summaryText := summarize.Conversation(candidates)
	if e.Telemetry != nil {
		e.Telemetry.Incr("summarizer_calls", 1)
	}

	summaryTurnID := cutoffTurn - 1
	if summaryTurnID < 0 {
		summaryTurnID = 0
	}
	e.History.UpsertSummary(summaryText, summaryTurnID, 1)
	e.History.DropTurnsBefore(cutoffTurn)

	systemCount := 0
	for _, r := range e.History.Records() {
		if r.Kind == indubitably.KindSystem {
			systemCount++
		}
	}
	e.History.RepositionSummary(systemCount)

	afterCount := e.History.Len()
	removed := beforeCount - afterCount
	if e.Telemetry != nil {
		if removed > 0 {
			e.Telemetry.Incr("drops_count", 1)
		}
		e.Telemetry.Incr("compact_events", 1)
	}
	return true
}

// enforceToolLimits truncates any tool_result record whose rendered text
// exceeds the configured token, byte, or line-count limits.
func (e *Engine) enforceToolLimits() {
	limits := e.ToolLimits
	for _, r := range e.History.Records() {
		if r.Kind != indubitably.KindToolResult {
			continue
		}
		text := joinFragments(r.TextFragments())
		shapeTokens := e.Meter.EstimateText(text).Tokens
		oversized := shapeTokens > limits.MaxToolTokens || len(text) > limits.MaxStdoutBytes
		lineCount := countLines(text)
		if !oversized && lineCount <= limits.MaxLines {
			e.History.ClearCompactedContent(r)
			continue
		}
		truncated := summarize.ToolOutput(text, limits.MaxLines)
		e.History.SetCompactedContent(r, truncated)
	}
}

func joinFragments(fragments []string) string {
	out := ""
	for i, f := range fragments {
		if i > 0 {
			out += "\n"
		}
		out += f
	}
	return out
}

func countLines(text string) int {
	count := 1
	for _, c := range text {
		if c == '\n' {
			count++
		}
	}
	return count
}
