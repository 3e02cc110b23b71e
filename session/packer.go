package session

import indubitably "github.com/deepnoodle-ai/indubitably"

// PackedPrompt is the oracle-ready message list plus the usage figures
// the caller needs to decide whether to compact before sending.
type PackedPrompt struct {
	Messages     []indubitably.APIMessage
	TokenTotal   int
	WindowTokens int
}

// UsagePct is the percentage (0-100, rounded to two decimals) of the
// context window TokenTotal occupies.
func (p PackedPrompt) UsagePct() float64 {
	if p.WindowTokens == 0 {
		return 0
	}
	return roundTo(float64(p.TokenTotal)/float64(p.WindowTokens)*100, 2)
}

// Packer builds the final message list to send to the LLM oracle from a
// ContextSession, reading its already-compacted history plus any pinned
// facts.
type Packer struct {
	Session *ContextSession
}

// NewPacker returns a Packer over session.
func NewPacker(session *ContextSession) *Packer {
	return &Packer{Session: session}
}

// Pack builds the message list and reports the resulting token totals.
func (p *Packer) Pack() PackedPrompt {
	messages := p.Session.BuildMessages()
	status := p.Session.Status()
	return PackedPrompt{
		Messages:     messages,
		TokenTotal:   status.Tokens,
		WindowTokens: status.Window,
	}
}

// DryRun packs the prompt without mutating any counters beyond what Pack
// itself already recomputes, matching the reference implementation's
// read-only preview operation.
func (p *Packer) DryRun() PackedPrompt {
	return p.Pack()
}
