// Package session wires together the history store, pin manager,
// compaction engine, and token meter into the single facade the turn
// scheduler drives each turn: add a message, maybe compact, pack the
// prompt, read back status.
package session

import (
	"encoding/json"
	"strings"
	"time"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/compaction"
	"github.com/deepnoodle-ai/indubitably/history"
	"github.com/deepnoodle-ai/indubitably/pin"
	"github.com/deepnoodle-ai/indubitably/summarize"
	"github.com/deepnoodle-ai/indubitably/telemetry"
	"github.com/deepnoodle-ai/indubitably/tokenmeter"
)

// ModelSettings describes the active model's context window accounting.
type ModelSettings struct {
	Name            string
	ContextTokens   int
	GuardrailTokens int
}

// WindowTokens is the usable context window after reserving the
// guardrail, mirroring the reference implementation's computed property.
func (m ModelSettings) WindowTokens() int {
	w := m.ContextTokens - m.GuardrailTokens
	if w < 0 {
		return 0
	}
	return w
}

// CompactionSettings controls when and how aggressively compaction runs.
type CompactionSettings struct {
	Auto            bool
	KeepLastTurns   int
	TargetTokens    int
	PinBudgetTokens int
}

// ToolLimitSettings bounds tool_result output before the overall token
// budget is even considered.
type ToolLimitSettings struct {
	MaxToolTokens  int
	MaxStdoutBytes int
	MaxLines       int
}

// Settings is the subset of session configuration a ContextSession needs.
// The config package builds one of these from a parsed TOML file.
type Settings struct {
	Model      ModelSettings
	Compaction CompactionSettings
	Tools      ToolLimitSettings
}

// DefaultSettings mirrors the reference implementation's dataclass
// defaults.
func DefaultSettings() Settings {
	return Settings{
		Model: ModelSettings{
			Name:            "claude-sonnet-4-5",
			ContextTokens:   200_000,
			GuardrailTokens: 20_000,
		},
		Compaction: CompactionSettings{
			Auto:            true,
			KeepLastTurns:   4,
			TargetTokens:    110_000,
			PinBudgetTokens: 2_048,
		},
		Tools: ToolLimitSettings{
			MaxToolTokens:  4_000,
			MaxStdoutBytes: 131_072,
			MaxLines:       800,
		},
	}
}

// CompactStatus reports the outcome of a compaction attempt.
type CompactStatus struct {
	Triggered    bool
	TotalTokens  int
	WindowTokens int
	Summary      string
}

// Status is a snapshot of the session's current accounting, used by the
// /status slash command and the CLI's summary footer.
type Status struct {
	Tokens         int
	Window         int
	UsagePct       float64
	AutoCompact    bool
	KeepLastTurns  int
	LastCompaction time.Time
	Pins           []pin.Pin
	Telemetry      map[string]int
}

// ContextSession is the high-level facade a turn scheduler drives: it
// owns the history store, the pin manager, and the compaction engine,
// and exposes the operations the scheduler and slash commands need.
type ContextSession struct {
	Settings Settings

	Meter     *tokenmeter.Meter
	Telemetry *telemetry.Telemetry
	History   *history.Store
	Pins      *pin.Manager
	Compactor *compaction.Engine

	autoCompact bool
}

// New returns a ContextSession built from settings, constructing its own
// meter, telemetry, history store, and pin manager.
func New(settings Settings) *ContextSession {
	meter := tokenmeter.New(settings.Model.Name)
	tel := telemetry.New()
	hist := history.New(meter)
	pins := pin.NewManager()
	return &ContextSession{
		Settings: settings,
		Meter:    meter,
		Telemetry: tel,
		History:  hist,
		Pins:     pins,
		Compactor: &compaction.Engine{
			History: hist,
			Model:   compaction.ModelLimits{WindowTokens: settings.Model.WindowTokens()},
			Settings: compaction.Settings{
				KeepLastTurns: settings.Compaction.KeepLastTurns,
				TargetTokens:  settings.Compaction.TargetTokens,
			},
			ToolLimits: compaction.ToolLimits{
				MaxToolTokens:  settings.Tools.MaxToolTokens,
				MaxStdoutBytes: settings.Tools.MaxStdoutBytes,
				MaxLines:       settings.Tools.MaxLines,
			},
			Meter:     meter,
			Telemetry: tel,
		},
		autoCompact: settings.Compaction.Auto,
	}
}

// RegisterSystemText installs the system prompt as the first record.
func (s *ContextSession) RegisterSystemText(text string) {
	s.History.RegisterSystem(text, 0)
	s.updateCounters()
}

// AddUserMessage appends a user turn and runs auto-compaction.
func (s *ContextSession) AddUserMessage(text string) *indubitably.Record {
	r := s.History.RegisterUser(text, 0)
	s.afterChange()
	return r
}

// AddAssistantMessage appends the assistant's blocks for the current turn
// and runs auto-compaction.
func (s *ContextSession) AddAssistantMessage(blocks []indubitably.Block) *indubitably.Record {
	r := s.History.RegisterAssistant(blocks, 1)
	s.afterChange()
	return r
}

// AddToolResults appends a tool_result record, skipping it when dedupe is
// set and an identical payload was already registered. It returns nil
// when the record was skipped.
func (s *ContextSession) AddToolResults(blocks []indubitably.Block, dedupe bool) *indubitably.Record {
	payload := toolPayloadKey(blocks)
	if dedupe && s.History.HasToolHash(payload) {
		return nil
	}
	r := s.History.RegisterToolResults(blocks, 1)
	s.History.RegisterToolHash(payload, r)
	s.afterChange()
	return r
}

// AddToolTextResult builds and appends a single tool_result block for
// toolUseID, truncating text against the configured tool-output limits.
// Deduplication is always disabled here: every tool_use must be
// immediately followed by a tool_result to satisfy the oracle's API
// contract.
func (s *ContextSession) AddToolTextResult(toolUseID, text string, isError bool) *indubitably.Record {
	block := s.BuildToolResultBlock(toolUseID, text, isError)
	return s.AddToolResults([]indubitably.Block{block}, false)
}

// BuildToolResultBlock truncates text against the tool-output limits and
// shapes a tool_result block.
func (s *ContextSession) BuildToolResultBlock(toolUseID, text string, isError bool) indubitably.Block {
	return indubitably.Block{
		Type:      indubitably.BlockToolResult,
		ToolUseID: toolUseID,
		Content:   s.truncateToolText(text),
		IsError:   isError,
	}
}

// RollbackLastTurn discards every record from the in-flight turn, used
// when an LLM call fails before any of its results are committed.
func (s *ContextSession) RollbackLastTurn() {
	s.History.RollbackCurrentTurn()
	s.updateCounters()
}

// ForceCompact runs compaction unconditionally and reports the outcome.
func (s *ContextSession) ForceCompact() CompactStatus {
	triggered := s.Compactor.MaybeCompact(true)
	s.updateCounters()
	return CompactStatus{
		Triggered:    triggered,
		TotalTokens:  s.History.TotalTokens(),
		WindowTokens: s.Settings.Model.WindowTokens(),
		Summary:      s.recentSummary(),
	}
}

// maybeCompact runs compaction only if auto-compact is enabled and the
// budget is currently exceeded, reporting nil when nothing happened.
func (s *ContextSession) maybeCompact() *CompactStatus {
	if !s.autoCompact {
		return nil
	}
	triggered := s.Compactor.MaybeCompact(false)
	if !triggered {
		return nil
	}
	return &CompactStatus{
		Triggered:    true,
		TotalTokens:  s.History.TotalTokens(),
		WindowTokens: s.Settings.Model.WindowTokens(),
		Summary:      s.recentSummary(),
	}
}

// BuildMessages returns the full message list the oracle should see:
// history records with any unexpired pins injected as a synthetic system
// message immediately after the real system records.
func (s *ContextSession) BuildMessages() []indubitably.APIMessage {
	base := s.History.Messages()
	pinBlocks := s.buildPinBlocks()
	s.updateCounters()
	if len(pinBlocks) == 0 {
		return base
	}
	systemCount := 0
	for _, msg := range base {
		if msg.Role != indubitably.RoleSystem {
			break
		}
		systemCount++
	}
	out := make([]indubitably.APIMessage, 0, len(base)+1)
	out = append(out, base[:systemCount]...)
	out = append(out, indubitably.APIMessage{Role: indubitably.RoleSystem, Content: pinBlocks})
	out = append(out, base[systemCount:]...)
	return out
}

// Status returns a snapshot of the session's current token usage,
// compaction configuration, pins, and telemetry counters.
func (s *ContextSession) Status() Status {
	tokens := s.History.TotalTokens()
	window := s.Settings.Model.WindowTokens()
	pct := 0.0
	if window > 0 {
		pct = roundTo(float64(tokens)/float64(window)*100, 2)
	}
	return Status{
		Tokens:         tokens,
		Window:         window,
		UsagePct:       pct,
		AutoCompact:    s.autoCompact,
		KeepLastTurns:  s.Settings.Compaction.KeepLastTurns,
		LastCompaction: s.History.LastCompaction(),
		Pins:           s.Pins.ListPins(),
		Telemetry:      s.Telemetry.Snapshot(),
	}
}

// UpdateSetting applies a dotted-key override (e.g. "compaction.auto")
// and keeps the compaction engine and auto-compact flag in sync.
func (s *ContextSession) UpdateSetting(dottedKey string, value any) error {
	if err := applySetting(&s.Settings, dottedKey, value); err != nil {
		return err
	}
	s.Compactor.Settings = compaction.Settings{
		KeepLastTurns: s.Settings.Compaction.KeepLastTurns,
		TargetTokens:  s.Settings.Compaction.TargetTokens,
	}
	s.Compactor.Model = compaction.ModelLimits{WindowTokens: s.Settings.Model.WindowTokens()}
	s.Compactor.ToolLimits = compaction.ToolLimits{
		MaxToolTokens:  s.Settings.Tools.MaxToolTokens,
		MaxStdoutBytes: s.Settings.Tools.MaxStdoutBytes,
		MaxLines:       s.Settings.Tools.MaxLines,
	}
	s.autoCompact = s.Settings.Compaction.Auto
	s.updateCounters()
	return nil
}

// AddPin stores a new pin and updates the pins_size counter.
func (s *ContextSession) AddPin(text string, ttl time.Duration) (pin.Pin, error) {
	p, err := s.Pins.AddPin(text, ttl)
	if err != nil {
		return pin.Pin{}, err
	}
	s.Telemetry.Set("pins_size", s.Pins.Size())
	return p, nil
}

// RemovePin deletes the named pin and updates the pins_size counter.
func (s *ContextSession) RemovePin(id string) bool {
	removed := s.Pins.RemovePin(id)
	s.Telemetry.Set("pins_size", s.Pins.Size())
	return removed
}

func (s *ContextSession) recentSummary() string {
	for _, r := range s.History.Records() {
		if r.Kind == indubitably.KindSummary {
			frags := r.TextFragments()
			if len(frags) > 0 {
				return frags[0]
			}
		}
	}
	return ""
}

func (s *ContextSession) truncateToolText(text string) string {
	limits := s.Settings.Tools
	byteLen := len(text)
	lineCount := strings.Count(text, "\n") + 1
	if byteLen <= limits.MaxStdoutBytes && lineCount <= limits.MaxLines {
		return text
	}
	return summarize.ToolOutput(text, limits.MaxLines)
}

func (s *ContextSession) buildPinBlocks() []indubitably.Block {
	pins := s.Pins.ListPins()
	if len(pins) == 0 {
		return nil
	}
	budget := s.Settings.Compaction.PinBudgetTokens
	if budget < 1 {
		budget = 1
	}
	used := 0
	var blocks []indubitably.Block
	for _, p := range pins {
		text := "[pin:" + p.ID + "] " + p.Text
		candidate := indubitably.Block{Type: indubitably.BlockText, Text: text}
		tokens := s.Meter.EstimateMessage(indubitably.APIMessage{Role: indubitably.RoleSystem, Content: []indubitably.Block{candidate}})
		if used+tokens > budget {
			blocks = append(blocks, indubitably.Block{Type: indubitably.BlockText, Text: "[pin-summary] additional pins omitted"})
			break
		}
		blocks = append(blocks, candidate)
		used += tokens
	}
	s.Telemetry.Set("pins_size", len(pins))
	return blocks
}

func (s *ContextSession) afterChange() {
	if status := s.maybeCompact(); status == nil {
		s.updateCounters()
	}
}

func (s *ContextSession) updateCounters() {
	s.Telemetry.Set("tokens_used", s.History.TotalTokens())
}

// toolPayloadKey is the JSON encoding of blocks, the same form
// history.Store hashes when it rebuilds its tool-hash set.
func toolPayloadKey(blocks []indubitably.Block) string {
	data, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	return string(data)
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int(v*scale+0.5)) / scale
}
