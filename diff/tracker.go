// Package diff implements the per-turn file edit tracker: conflict
// detection across overlapping edits, unified diff generation, and undo.
package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
)

// Action classifies what a FileEdit did to its path.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionRename Action = "rename"
	ActionAdd    Action = "add"
)

// FileEdit records one write-capable tool's effect on one file.
type FileEdit struct {
	Path      string
	ToolName  string
	Action    Action
	OldContent *string
	NewContent *string
	LineRange  [2]int
	HasLineRange bool

	// RenameFrom/RenameTo are only meaningful when Action == ActionRename.
	RenameFrom string
	RenameTo   string
}

// Tracker accumulates FileEdits for one user turn, detecting conflicts
// between overlapping edits and supporting undo back to the turn's
// starting state.
type Tracker struct {
	mu           sync.Mutex
	TurnID       int
	edits        []FileEdit
	lockedPaths  map[string]bool
	Conflicts    []string
	undone       bool
}

// NewTracker returns a Tracker for turnID.
func NewTracker(turnID int) *Tracker {
	return &Tracker{TurnID: turnID, lockedPaths: make(map[string]bool)}
}

// LockFile marks path as exclusively held by the caller. Double-locking
// the same path is an error.
func (t *Tracker) LockFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := resolvePath(path)
	if t.lockedPaths[p] {
		return fmt.Errorf("diff: path %q is already locked", p)
	}
	t.lockedPaths[p] = true
	return nil
}

// UnlockFile releases a prior LockFile. Unlocking a path that isn't
// locked is an error.
func (t *Tracker) UnlockFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := resolvePath(path)
	if !t.lockedPaths[p] {
		return fmt.Errorf("diff: path %q is not locked", p)
	}
	delete(t.lockedPaths, p)
	return nil
}

// RecordEdit appends edit to the tracker, flagging a conflict if a
// previous edit's NewContent for the same path differs from this edit's
// OldContent.
func (t *Tracker) RecordEdit(edit FileEdit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := resolvePath(edit.Path)
	if prev := t.lastEditWithContentLocked(path); prev != nil {
		if prev.NewContent != nil && edit.OldContent != nil && *prev.NewContent != *edit.OldContent {
			t.Conflicts = append(t.Conflicts,
				fmt.Sprintf("conflicting edits to %s: %s wrote content that %s did not read", path, prev.ToolName, edit.ToolName))
		}
	}
	t.edits = append(t.edits, edit)
}

func (t *Tracker) lastEditWithContentLocked(path string) *FileEdit {
	for i := len(t.edits) - 1; i >= 0; i-- {
		if resolvePath(t.edits[i].Path) == path && t.edits[i].NewContent != nil {
			return &t.edits[i]
		}
	}
	return nil
}

// Operations summarizes every recorded edit as "path: action (tool)", in
// the order they were applied — used by /undo to report what it
// reversed without duplicating Undo's own reverse-order walk.
func (t *Tracker) Operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.edits))
	for _, e := range t.edits {
		out = append(out, fmt.Sprintf("%s: %s (%s)", resolvePath(e.Path), e.Action, e.ToolName))
	}
	return out
}

// GetEditsForPath returns every edit recorded against path, in order.
func (t *Tracker) GetEditsForPath(path string) []FileEdit {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := resolvePath(path)
	var out []FileEdit
	for _, e := range t.edits {
		if resolvePath(e.Path) == p {
			out = append(out, e)
		}
	}
	return out
}

// GenerateSummary groups edits by path and lists the actions and tools
// applied to each.
func (t *Tracker) GenerateSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := []string{}
	grouped := map[string][]FileEdit{}
	for _, e := range t.edits {
		p := resolvePath(e.Path)
		if _, ok := grouped[p]; !ok {
			order = append(order, p)
		}
		grouped[p] = append(grouped[p], e)
	}
	var b strings.Builder
	for _, p := range order {
		fmt.Fprintf(&b, "%s:\n", p)
		for _, e := range grouped[p] {
			fmt.Fprintf(&b, "  - %s (%s)\n", e.Action, e.ToolName)
		}
	}
	return b.String()
}

// GenerateUnifiedDiff produces a standard ---/+++/@@ unified diff for
// every path where both the earliest OldContent and latest NewContent
// are known.
func (t *Tracker) GenerateUnifiedDiff() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := []string{}
	firstOld := map[string]*string{}
	lastNew := map[string]*string{}
	for _, e := range t.edits {
		p := resolvePath(e.Path)
		if _, ok := firstOld[p]; !ok {
			order = append(order, p)
			firstOld[p] = e.OldContent
		}
		if e.NewContent != nil {
			lastNew[p] = e.NewContent
		}
	}
	var b strings.Builder
	for _, p := range order {
		old := firstOld[p]
		newC := lastNew[p]
		if old == nil || newC == nil {
			continue
		}
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(*old),
			B:        difflib.SplitLines(*newC),
			FromFile: "a/" + p,
			ToFile:   "b/" + p,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return "", fmt.Errorf("diff: generate unified diff for %s: %w", p, err)
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// GenerateConflictReport renders the recorded conflict warnings, one per
// line.
func (t *Tracker) GenerateConflictReport() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.Conflicts, "\n")
}

// Undo reverses every recorded edit in reverse order, restoring the
// pre-turn filesystem state. It is idempotent: calling it more than once
// has no further effect.
func (t *Tracker) Undo() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.undone {
		return nil
	}
	t.undone = true
	for i := len(t.edits) - 1; i >= 0; i-- {
		e := t.edits[i]
		if err := undoOne(e); err != nil {
			return err
		}
	}
	return nil
}

func undoOne(e FileEdit) error {
	switch e.Action {
	case ActionCreate, ActionAdd:
		if e.OldContent == nil {
			return removeIfExists(e.Path)
		}
		return os.WriteFile(e.Path, []byte(*e.OldContent), 0o644)
	case ActionDelete:
		if e.OldContent == nil {
			return nil
		}
		return os.WriteFile(e.Path, []byte(*e.OldContent), 0o644)
	case ActionRename:
		return undoRename(e)
	default:
		if e.OldContent == nil {
			return removeIfExists(e.Path)
		}
		return os.WriteFile(e.Path, []byte(*e.OldContent), 0o644)
	}
}

func undoRename(e FileEdit) error {
	candidates := []string{e.RenameFrom}
	if !filepath.IsAbs(e.RenameFrom) {
		candidates = append(candidates,
			filepath.Join(filepath.Dir(e.RenameTo), e.RenameFrom),
			filepath.Clean(e.RenameFrom),
		)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(e.RenameTo); err == nil {
			if err := os.Rename(e.RenameTo, candidate); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("diff: could not undo rename of %s back to %s", e.RenameTo, e.RenameFrom)
}

func removeIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}

func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
