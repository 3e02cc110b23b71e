// Package slashcmd parses and dispatches the interactive front-end's
// slash commands. Every command is a thin pass-through to a
// session.ContextSession — this package owns only the parsing and
// formatting, never the session state itself.
package slashcmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/indubitably/diff"
	"github.com/deepnoodle-ai/indubitably/session"
)

// Result is what a slash command reports back to the front-end for
// display.
type Result struct {
	Text string
}

// Undoer is the subset of *runner.Scheduler a /undo command needs. It is
// an interface so tests can exercise Dispatch without a real scheduler.
type Undoer interface {
	TrackerForTurn(turnID int) *diff.Tracker
}

// Dispatch parses line (expected to start with "/") and runs it against
// sess, and — for /undo — against sched. sched may be nil when the
// front-end has no active scheduler (/undo then reports an error).
func Dispatch(sess *session.ContextSession, sched Undoer, line string) (Result, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Result{}, fmt.Errorf("slashcmd: %q is not a slash command", line)
	}
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/status":
		return status(sess), nil
	case "/compact":
		return compact(sess), nil
	case "/pin":
		return pinCmd(sess, args)
	case "/unpin":
		return unpinCmd(sess, args)
	case "/config":
		return configCmd(sess, args)
	case "/undo":
		return undoCmd(sched, args)
	default:
		return Result{}, fmt.Errorf("slashcmd: unknown command %q", cmd)
	}
}

func status(sess *session.ContextSession) Result {
	st := sess.Status()
	var sb strings.Builder
	fmt.Fprintf(&sb, "tokens: %d/%d (%.2f%%)\n", st.Tokens, st.Window, st.UsagePct)
	fmt.Fprintf(&sb, "auto_compact: %v  keep_last_turns: %d\n", st.AutoCompact, st.KeepLastTurns)
	if !st.LastCompaction.IsZero() {
		fmt.Fprintf(&sb, "last_compaction: %s\n", st.LastCompaction.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "pins: %d\n", len(st.Pins))
	for _, p := range st.Pins {
		fmt.Fprintf(&sb, "  %s: %s\n", p.ID, p.Text)
	}
	return Result{Text: sb.String()}
}

func compact(sess *session.ContextSession) Result {
	st := sess.ForceCompact()
	if !st.Triggered {
		return Result{Text: "compact: nothing to do"}
	}
	return Result{Text: fmt.Sprintf("compact: %d/%d tokens — %s", st.TotalTokens, st.WindowTokens, st.Summary)}
}

// pinCmd parses "/pin add [--ttl=sec] text".
func pinCmd(sess *session.ContextSession, args []string) (Result, error) {
	if len(args) < 2 || args[0] != "add" {
		return Result{}, fmt.Errorf("slashcmd: usage: /pin add [--ttl=sec] text")
	}
	rest := args[1:]
	var ttl time.Duration
	if strings.HasPrefix(rest[0], "--ttl=") {
		secs, err := strconv.Atoi(strings.TrimPrefix(rest[0], "--ttl="))
		if err != nil {
			return Result{}, fmt.Errorf("slashcmd: invalid --ttl value: %w", err)
		}
		ttl = time.Duration(secs) * time.Second
		rest = rest[1:]
	}
	text := strings.Join(rest, " ")
	p, err := sess.AddPin(text, ttl)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("pinned %s: %s", p.ID, p.Text)}, nil
}

// unpinCmd parses "/unpin <id>".
func unpinCmd(sess *session.ContextSession, args []string) (Result, error) {
	if len(args) != 1 {
		return Result{}, fmt.Errorf("slashcmd: usage: /unpin <id>")
	}
	if !sess.RemovePin(args[0]) {
		return Result{}, fmt.Errorf("slashcmd: no such pin %q", args[0])
	}
	return Result{Text: fmt.Sprintf("unpinned %s", args[0])}, nil
}

// configCmd parses "/config set group.field=value".
func configCmd(sess *session.ContextSession, args []string) (Result, error) {
	if len(args) != 2 || args[0] != "set" {
		return Result{}, fmt.Errorf("slashcmd: usage: /config set group.field=value")
	}
	kv := strings.SplitN(args[1], "=", 2)
	if len(kv) != 2 {
		return Result{}, fmt.Errorf("slashcmd: usage: /config set group.field=value")
	}
	if err := sess.UpdateSetting(kv[0], kv[1]); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("set %s = %s", kv[0], kv[1])}, nil
}

// undoCmd parses "/undo <turn_id>" and reverses every file edit recorded
// for that turn, reporting the operations actually applied.
func undoCmd(sched Undoer, args []string) (Result, error) {
	if sched == nil {
		return Result{}, fmt.Errorf("slashcmd: no active run to undo")
	}
	if len(args) != 1 {
		return Result{}, fmt.Errorf("slashcmd: usage: /undo <turn_id>")
	}
	turnID, err := strconv.Atoi(args[0])
	if err != nil {
		return Result{}, fmt.Errorf("slashcmd: invalid turn id %q", args[0])
	}
	tracker := sched.TrackerForTurn(turnID)
	if tracker == nil {
		return Result{}, fmt.Errorf("slashcmd: no tracked edits for turn %d", turnID)
	}
	ops := tracker.Operations()
	if err := tracker.Undo(); err != nil {
		return Result{}, fmt.Errorf("slashcmd: undo turn %d: %w", turnID, err)
	}
	if len(ops) == 0 {
		return Result{Text: fmt.Sprintf("undo turn %d: nothing to undo", turnID)}, nil
	}
	return Result{Text: fmt.Sprintf("undo turn %d: %s", turnID, strings.Join(ops, ", "))}, nil
}
