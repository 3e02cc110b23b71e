// Package history implements the ordered conversation log that backs a
// session: turn-numbered records, summary upsert/reposition, rollback of
// an in-flight turn, and tool-result deduplication by content hash.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/tokenmeter"
)

// Store is the ordered, turn-numbered message log for one session. It is
// safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	meter *tokenmeter.Meter

	messages     []*indubitably.Record
	turnCounter  int
	summaryIndex int // -1 if no summary record has been registered yet
	toolHashes   map[string]bool

	lastCompaction time.Time
}

// New returns an empty Store backed by the given token meter.
func New(meter *tokenmeter.Meter) *Store {
	return &Store{
		meter:        meter,
		toolHashes:   make(map[string]bool),
		summaryIndex: -1,
	}
}

// TurnCounter returns the current turn number: the turn of the most
// recent user message, or 0 before any user message is registered.
func (s *Store) TurnCounter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnCounter
}

// Messages returns the role/content pairs for every record in order,
// using each record's effective (possibly compacted) content.
func (s *Store) Messages() []indubitably.APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]indubitably.APIMessage, 0, len(s.messages))
	for _, r := range s.messages {
		out = append(out, indubitably.APIMessage{Role: r.Role, Content: r.EffectiveContent()})
	}
	return out
}

// TotalTokens sums every record's effective token count.
func (s *Store) TotalTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.messages {
		total += r.EffectiveTokens()
	}
	return total
}

// Len returns the number of records currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Records returns a copy of the current record slice.
func (s *Store) Records() []*indubitably.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*indubitably.Record, len(s.messages))
	copy(out, s.messages)
	return out
}

// RegisterSystem inserts a system record at the head of the log with
// turn_id 0.
func (s *Store) RegisterSystem(text string, priority int) *indubitably.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.buildMessage(indubitably.RoleSystem, indubitably.KindSystem,
		[]indubitably.Block{{Type: indubitably.BlockText, Text: text}}, 0, priority, "system")
	s.messages = append([]*indubitably.Record{r}, s.messages...)
	s.shiftSummaryIndex(1)
	return r
}

// RegisterUser advances the turn counter and appends a user record.
func (s *Store) RegisterUser(text string, priority int) *indubitably.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCounter++
	r := s.buildMessage(indubitably.RoleUser, indubitably.KindUser,
		[]indubitably.Block{{Type: indubitably.BlockText, Text: text}}, s.turnCounter, priority, "user")
	s.messages = append(s.messages, r)
	return r
}

// RegisterAssistant appends an assistant record under the current turn.
func (s *Store) RegisterAssistant(blocks []indubitably.Block, priority int) *indubitably.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.buildMessage(indubitably.RoleAssistant, indubitably.KindAssistant, blocks, s.turnCounter, priority, "assistant")
	s.messages = append(s.messages, r)
	return r
}

// RegisterToolResults appends a user-role tool_result record under the
// current turn.
func (s *Store) RegisterToolResults(blocks []indubitably.Block, priority int) *indubitably.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.buildMessage(indubitably.RoleUser, indubitably.KindToolResult, blocks, s.turnCounter, priority, "tool_result")
	s.messages = append(s.messages, r)
	return r
}

// RegisterSummary appends a new assistant-role summary record for the
// given turn. Callers that want an "upsert" semantic should use
// UpsertSummary instead.
func (s *Store) RegisterSummary(text string, turnID int, priority int) *indubitably.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.buildMessage(indubitably.RoleAssistant, indubitably.KindSummary,
		[]indubitably.Block{{Type: indubitably.BlockText, Text: text}}, turnID, priority, "summary")
	s.messages = append(s.messages, r)
	s.summaryIndex = len(s.messages) - 1
	return r
}

// UpsertSummary updates the existing summary record's content in place
// if one exists, otherwise registers a new one.
func (s *Store) UpsertSummary(text string, turnID int, priority int) *indubitably.Record {
	s.mu.Lock()
	if s.summaryIndex >= 0 && s.summaryIndex < len(s.messages) {
		r := s.messages[s.summaryIndex]
		r.Content = []indubitably.Block{{Type: indubitably.BlockText, Text: text}}
		r.TurnID = turnID
		r.Priority = priority
		r.Tokens = s.meter.EstimateMessage(indubitably.APIMessage{Role: r.Role, Content: r.Content})
		r.CompactContent = nil
		s.mu.Unlock()
		return r
	}
	s.mu.Unlock()
	return s.RegisterSummary(text, turnID, priority)
}

// CompactSummary upserts the summary record and stamps the last
// compaction timestamp.
func (s *Store) CompactSummary(text string, turnID int, priority int, now time.Time) *indubitably.Record {
	r := s.UpsertSummary(text, turnID, priority)
	s.mu.Lock()
	s.lastCompaction = now
	s.mu.Unlock()
	return r
}

// LastCompaction returns the timestamp of the most recent CompactSummary
// call, or the zero time if none has occurred.
func (s *Store) LastCompaction() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCompaction
}

// RepositionSummary moves the summary record to the given index,
// clamping to the valid range. It is a no-op if there is no summary.
func (s *Store) RepositionSummary(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaryIndex < 0 || s.summaryIndex >= len(s.messages) {
		return
	}
	r := s.messages[s.summaryIndex]
	s.messages = append(s.messages[:s.summaryIndex], s.messages[s.summaryIndex+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(s.messages) {
		index = len(s.messages)
	}
	s.messages = append(s.messages[:index], append([]*indubitably.Record{r}, s.messages[index:]...)...)
	s.summaryIndex = index
}

// DropTurnsBefore removes every non-system, non-summary record whose
// TurnID is less than turnID, rebuilding the tool-hash dedup set
// afterward.
func (s *Store) DropTurnsBefore(turnID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*indubitably.Record, 0, len(s.messages))
	newSummaryIndex := -1
	for _, r := range s.messages {
		keep := r.Kind == indubitably.KindSystem || r.Kind == indubitably.KindSummary || r.TurnID >= turnID
		if !keep {
			continue
		}
		if r.Kind == indubitably.KindSummary {
			newSummaryIndex = len(kept)
		}
		kept = append(kept, r)
	}
	s.messages = kept
	s.summaryIndex = newSummaryIndex
	s.rebuildToolHashesLocked()
}

// RemoveRecords deletes every record for which predicate returns true,
// rebuilding the tool-hash dedup set afterward.
func (s *Store) RemoveRecords(predicate func(*indubitably.Record) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*indubitably.Record, 0, len(s.messages))
	newSummaryIndex := -1
	for _, r := range s.messages {
		if predicate(r) {
			continue
		}
		if r.Kind == indubitably.KindSummary {
			newSummaryIndex = len(kept)
		}
		kept = append(kept, r)
	}
	s.messages = kept
	s.summaryIndex = newSummaryIndex
	s.rebuildToolHashesLocked()
}

// RollbackCurrentTurn removes every non-system record belonging to the
// current (incomplete) turn and decrements the turn counter. Used when
// an LLM call fails before any of its results are committed.
func (s *Store) RollbackCurrentTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.turnCounter
	kept := make([]*indubitably.Record, 0, len(s.messages))
	newSummaryIndex := -1
	for _, r := range s.messages {
		if r.Kind != indubitably.KindSystem && r.TurnID == turn {
			continue
		}
		if r.Kind == indubitably.KindSummary {
			newSummaryIndex = len(kept)
		}
		kept = append(kept, r)
	}
	s.messages = kept
	s.summaryIndex = newSummaryIndex
	if s.turnCounter > 0 {
		s.turnCounter--
	}
	s.rebuildToolHashesLocked()
}

// SetCompactedContent replaces a record's effective content with text,
// preserving tool_result block shape (ToolUseID/IsError) where
// applicable, and recomputes its effective token count.
func (s *Store) SetCompactedContent(r *indubitably.Record, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blocks []indubitably.Block
	if len(r.Content) > 0 && r.Content[0].Type == indubitably.BlockToolResult {
		b := r.Content[0]
		b.Content = text
		blocks = []indubitably.Block{b}
	} else {
		blocks = []indubitably.Block{{Type: indubitably.BlockText, Text: text}}
	}
	r.CompactContent = blocks
	r.CompactTokens = s.meter.EstimateMessage(indubitably.APIMessage{Role: r.Role, Content: blocks})
}

// ClearCompactedContent removes any compacted override, restoring the
// record's original content as effective.
func (s *Store) ClearCompactedContent(r *indubitably.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.CompactContent = nil
	r.CompactTokens = 0
}

// RegisterToolHash records payload's digest against r so future calls to
// HasToolHash can detect a duplicate tool_result.
func (s *Store) RegisterToolHash(payload string, r *indubitably.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHashes[toolDigest(payload)] = true
}

// HasToolHash reports whether payload's digest has already been
// registered.
func (s *Store) HasToolHash(payload string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toolHashes[toolDigest(payload)]
}

func (s *Store) rebuildToolHashesLocked() {
	s.toolHashes = make(map[string]bool)
	for _, r := range s.messages {
		if r.Kind != indubitably.KindToolResult {
			continue
		}
		data, err := json.Marshal(r.Content)
		if err != nil {
			continue
		}
		s.toolHashes[toolDigest(string(data))] = true
	}
}

func (s *Store) shiftSummaryIndex(delta int) {
	if s.summaryIndex >= 0 {
		s.summaryIndex += delta
	}
}

func (s *Store) buildMessage(role indubitably.Role, kind indubitably.Kind, blocks []indubitably.Block, turnID, priority int, label string) *indubitably.Record {
	tokens := s.meter.EstimateMessage(indubitably.APIMessage{Role: role, Content: blocks})
	_ = label
	return &indubitably.Record{
		Role:      role,
		Kind:      kind,
		Content:   blocks,
		TurnID:    turnID,
		Priority:  priority,
		Tokens:    tokens,
		CreatedAt: time.Now(),
	}
}

func toolDigest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ErrNoSummary is returned by callers that need an existing summary
// record but none has been registered yet.
var ErrNoSummary = fmt.Errorf("history: no summary record registered")
