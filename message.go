// Package indubitably implements the core session runtime: a bounded
// conversation history, tool execution, compaction, and the turn
// scheduler that drives an LLM-backed agent loop.
package indubitably

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a Record, mirroring the LLM message API.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) String() string { return string(r) }

// Kind classifies a Record beyond its Role, distinguishing summaries and
// tool results from ordinary turn content.
type Kind string

const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool_result"
	KindSummary    Kind = "summary"
)

// BlockType is the type tag of a content Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is a single piece of message content. Only the fields relevant to
// its Type are populated; the rest are left zero.
type Block struct {
	Type BlockType `json:"type"`

	// Text holds the content for a BlockText block.
	Text string `json:"text,omitempty"`

	// ID and Name identify a BlockToolUse block.
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID and IsError describe a BlockToolResult block. Content
	// holds the result payload, which may be plain text or a nested
	// list of blocks (e.g. image content) depending on the tool.
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Content   any    `json:"content,omitempty"`
}

// text returns the block's textual representation for token estimation
// and rule-based summarization, regardless of block type.
func (b Block) text() string {
	switch b.Type {
	case BlockText:
		return b.Text
	case BlockToolResult:
		if s, ok := b.Content.(string); ok {
			return s
		}
		if b.Content != nil {
			data, err := json.Marshal(b.Content)
			if err == nil {
				return string(data)
			}
		}
		return ""
	case BlockToolUse:
		return string(b.Input)
	default:
		return ""
	}
}

// Record is one entry in the History log: a message plus the bookkeeping
// fields needed for token accounting, turn-based compaction, and
// optional content replacement (compact_content) once the original is
// summarized away.
type Record struct {
	Role     Role
	Kind     Kind
	Content  []Block
	TurnID   int
	Priority int
	Tokens   int

	// CompactContent, when non-nil, replaces Content for the purposes of
	// EffectiveContent/EffectiveTokens — used once a tool result has been
	// truncated or a turn range has been summarized away.
	CompactContent []Block
	CompactTokens  int

	CreatedAt time.Time
	Metadata  map[string]string
}

// EffectiveContent returns CompactContent if set, else Content.
func (r *Record) EffectiveContent() []Block {
	if r.CompactContent != nil {
		return r.CompactContent
	}
	return r.Content
}

// EffectiveTokens returns CompactTokens if CompactContent is set, else
// Tokens.
func (r *Record) EffectiveTokens() int {
	if r.CompactContent != nil {
		return r.CompactTokens
	}
	return r.Tokens
}

// TextFragments returns the plain-text representation of every block in
// EffectiveContent, used by the rule-based summarizer and tool-output
// truncation.
func (r *Record) TextFragments() []string {
	blocks := r.EffectiveContent()
	fragments := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if t := b.text(); t != "" {
			fragments = append(fragments, t)
		}
	}
	return fragments
}

// APIMessage is the wire shape sent to the LLM oracle: role plus the
// effective (possibly compacted) content for that record.
type APIMessage struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}
