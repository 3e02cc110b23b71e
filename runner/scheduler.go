// Package runner implements the turn scheduler (C14): the agent loop
// that packs a prompt, calls the LLM oracle, applies the assistant's
// response, dispatches any tool calls, and repeats until the assistant
// stops asking for tools or a limit/error condition fires.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/auditlog"
	"github.com/deepnoodle-ai/indubitably/diff"
	"github.com/deepnoodle-ai/indubitably/llm"
	"github.com/deepnoodle-ai/indubitably/session"
	"github.com/deepnoodle-ai/indubitably/slogger"
	"github.com/deepnoodle-ai/indubitably/telemetry"
	"github.com/deepnoodle-ai/indubitably/tool"
	"github.com/deepnoodle-ai/indubitably/toolrouter"
)

// StopReason classifies why Run returned.
type StopReason string

const (
	StopCompleted       StopReason = "completed"
	StopMaxTurns        StopReason = "max_turns"
	StopToolError       StopReason = "tool_error"
	StopFatalToolError  StopReason = "fatal_tool_error"
)

// backoff schedule for LLM rate-limit retries: initial 2s, doubling,
// capped at 60s, at most 5 retries.
const (
	backoffInitial    = 2 * time.Second
	backoffCap        = 60 * time.Second
	backoffMaxRetries = 5
)

// Config is the `[runner]` section of the TOML config (spec §6).
type Config struct {
	MaxTurns        int
	ExitOnToolError bool
	DryRun          bool
	AllowedTools    []string
	BlockedTools    []string
}

// Scheduler drives one session's agent loop against an LLM oracle.
type Scheduler struct {
	Session  *session.ContextSession
	Packer   *session.Packer
	Oracle   llm.Oracle
	Registry *tool.Registry
	Router   *toolrouter.Router
	Runtime  *toolrouter.Runtime

	Model     string
	MaxTokens int
	System    string

	Config Config

	AuditLog   *auditlog.Writer
	ChangesLog *auditlog.Writer

	// trackers remembers each turn's diff.Tracker so callers can undo a
	// specific turn's edits after the run completes.
	trackers map[int]*diff.Tracker
}

// New returns a Scheduler ready to run turns.
func New(sess *session.ContextSession, oracle llm.Oracle, registry *tool.Registry, cfg Config) *Scheduler {
	router := toolrouter.New(registry)
	return &Scheduler{
		Session:  sess,
		Packer:   session.NewPacker(sess),
		Oracle:   oracle,
		Registry: registry,
		Router:   router,
		Runtime:  toolrouter.NewRuntime(router),
		Model:    sess.Settings.Model.Name,
		Config:   cfg,
		trackers: make(map[int]*diff.Tracker),
	}
}

// Result is what Run returns once the loop stops.
type Result struct {
	StoppedReason StopReason
	TurnsUsed     int
	FinalText     string
	ToolEvents    []telemetry.ToolExecutionEvent
}

// TrackerForTurn returns the diff.Tracker created for turnID, or nil if
// no such turn ran (used by /undo-style front-end commands).
func (s *Scheduler) TrackerForTurn(turnID int) *diff.Tracker {
	return s.trackers[turnID]
}

// Run appends prompt as a new user turn and drives the Packing → Calling
// LLM → Applying assistant → Dispatching tool calls → Appending
// tool_results loop until a stop condition fires.
func (s *Scheduler) Run(ctx context.Context, prompt string) (Result, error) {
	if prompt == "" {
		return Result{}, errors.New("runner: prompt must not be empty")
	}
	if s.Config.MaxTurns <= 0 {
		return Result{StoppedReason: StopMaxTurns}, nil
	}

	log := slogger.Ctx(ctx)
	userRecord := s.Session.AddUserMessage(prompt)
	turnID := userRecord.TurnID
	tracker := diff.NewTracker(turnID)
	s.trackers[turnID] = tracker
	toolCtx := diff.WithTracker(ctx, tracker)

	var finalText string
	turnsUsed := 0

	for iteration := 0; iteration < s.Config.MaxTurns; iteration++ {
		turnsUsed = iteration + 1

		packed := s.Packer.Pack()
		req := llm.Request{
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
			System:    s.System,
			Messages:  packed.Messages,
			Tools:     s.Registry.Specs(),
		}

		resp, err := s.callWithBackoff(ctx, req)
		if err != nil {
			log.Error("runner: llm call failed, rolling back turn", "error", err.Error())
			s.Session.RollbackLastTurn()
			return Result{}, fmt.Errorf("runner: llm call failed: %w", err)
		}

		s.Session.AddAssistantMessage(resp.Content)

		toolUses := extractToolUses(resp.Content)
		if len(toolUses) == 0 {
			finalText = extractText(resp.Content)
			return s.finish(StopCompleted, turnsUsed, finalText), nil
		}

		results, stopReason := s.dispatchTurn(toolCtx, toolUses, turnID)
		s.Session.AddToolResults(results, false)
		s.writeChangesLog(turnID, tracker)

		if stopReason != "" {
			return s.finish(stopReason, turnsUsed, extractText(resp.Content)), nil
		}
	}

	return s.finish(StopMaxTurns, turnsUsed, finalText), nil
}

// finish snapshots telemetry's tool events into the Result.
func (s *Scheduler) finish(reason StopReason, turnsUsed int, text string) Result {
	return Result{
		StoppedReason: reason,
		TurnsUsed:     turnsUsed,
		FinalText:     text,
		ToolEvents:    s.Session.Telemetry.ToolEvents(),
	}
}

// dispatchTurn runs every tool_use block from one assistant turn,
// honoring dry-run and the allowed/blocked tool lists, and reports a
// non-empty StopReason if a fatal error (or, with ExitOnToolError, any
// error) occurred.
func (s *Scheduler) dispatchTurn(ctx context.Context, blocks []indubitably.Block, turnID int) ([]indubitably.Block, StopReason) {
	calls := make([]toolrouter.Call, len(blocks))
	for i, b := range blocks {
		calls[i] = s.Router.BuildToolCall(b)
	}

	var results []indubitably.Block
	if s.Config.DryRun {
		results = s.dryRunTurn(calls, turnID)
	} else {
		results = s.filterAndRun(ctx, calls, turnID)
	}

	var stopReason StopReason
	for i, r := range results {
		s.auditToolCall(calls[i], r, turnID)
		if !r.IsError {
			continue
		}
		errorType := s.lastErrorType(calls[i].ToolName)
		if errorType == "fatal" {
			stopReason = StopFatalToolError
		} else if stopReason == "" && s.Config.ExitOnToolError {
			stopReason = StopToolError
		}
	}
	return results, stopReason
}

// filterAndRun rejects any call whose tool name isn't in AllowedTools
// (when set) or is in BlockedTools with a synthetic error tool_result
// (it carries no error type and records no telemetry event), and
// dispatches the rest through the runtime's read/write
// arbitration.
func (s *Scheduler) filterAndRun(ctx context.Context, calls []toolrouter.Call, turnID int) []indubitably.Block {
	runnable := make([]toolrouter.Call, 0, len(calls))
	runnableIdx := make([]int, 0, len(calls))
	results := make([]indubitably.Block, len(calls))

	for i, call := range calls {
		if !s.toolAllowed(call.ToolName) {
			results[i] = indubitably.Block{
				Type:      indubitably.BlockToolResult,
				ToolUseID: call.CallID,
				IsError:   true,
				Content:   fmt.Sprintf("tool %q is not allowed by runner policy", call.ToolName),
			}
			continue
		}
		runnable = append(runnable, call)
		runnableIdx = append(runnableIdx, i)
	}

	dispatched := s.Runtime.RunTurn(ctx, runnable, turnID)
	for i, idx := range runnableIdx {
		results[idx] = dispatched[i]
	}
	return results
}

func (s *Scheduler) toolAllowed(name string) bool {
	for _, blocked := range s.Config.BlockedTools {
		if blocked == name {
			return false
		}
	}
	if len(s.Config.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range s.Config.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// dryRunTurn replaces every call's execution with a synthetic failing
// result. The audit log still records each call, marked skipped; no
// paths are extracted or recorded for it.
func (s *Scheduler) dryRunTurn(calls []toolrouter.Call, turnID int) []indubitably.Block {
	results := make([]indubitably.Block, len(calls))
	for i, call := range calls {
		results[i] = indubitably.Block{
			Type:      indubitably.BlockToolResult,
			ToolUseID: call.CallID,
			IsError:   true,
			Content:   "dry-run: execution skipped",
		}
	}
	return results
}

// lastErrorType looks up the error_type of the most recent telemetry
// event for toolName, used to decide whether a failure is fatal.
func (s *Scheduler) lastErrorType(toolName string) string {
	events := s.Session.Telemetry.ToolEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ToolName == toolName {
			return events[i].ErrorType
		}
	}
	return ""
}

func (s *Scheduler) auditToolCall(call toolrouter.Call, result indubitably.Block, turnID int) {
	if s.AuditLog == nil {
		return
	}
	resultText, _ := result.Content.(string)
	_ = s.AuditLog.WriteTool(auditlog.ToolRecord{
		Turn:    turnID,
		Tool:    call.ToolName,
		Input:   call.Payload.Arguments,
		Result:  resultText,
		IsError: result.IsError,
		Skipped: s.Config.DryRun,
	})
}

func (s *Scheduler) writeChangesLog(turnID int, tracker *diff.Tracker) {
	if s.ChangesLog == nil {
		return
	}
	summary := tracker.GenerateSummary()
	if summary == "" {
		return
	}
	_ = s.ChangesLog.WriteChange(auditlog.ChangeRecord{Turn: turnID, Summary: summary})
}

// callWithBackoff retries req against the oracle when it reports a rate
// limit, reusing the same packed request on every attempt. Any other
// error is returned immediately for the caller to roll back.
func (s *Scheduler) callWithBackoff(ctx context.Context, req llm.Request) (llm.Response, error) {
	wait := backoffInitial
	for attempt := 0; ; attempt++ {
		resp, err := s.Oracle.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		var rateLimit *llm.RateLimitError
		if !errors.As(err, &rateLimit) || attempt >= backoffMaxRetries {
			return llm.Response{}, err
		}
		select {
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > backoffCap {
			wait = backoffCap
		}
	}
}

func extractToolUses(blocks []indubitably.Block) []indubitably.Block {
	var out []indubitably.Block
	for _, b := range blocks {
		if b.Type == indubitably.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

func extractText(blocks []indubitably.Block) string {
	for _, b := range blocks {
		if b.Type == indubitably.BlockText && b.Text != "" {
			return b.Text
		}
	}
	return ""
}
