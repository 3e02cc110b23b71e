// Package tokenmeter estimates token counts for text and message content
// without requiring a real BPE tokenizer.
package tokenmeter

import (
	"fmt"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

// Measurement names a single estimate, used for telemetry/debug logging.
type Measurement struct {
	Label  string
	Tokens int
}

// Meter estimates token counts using a constant characters-per-token
// ratio. Every LLM API the runner talks to charges roughly 4 characters
// per token for English text; this is the same fallback ratio the
// original implementation used when no real tokenizer was available, and
// the spec only requires cl100k-like estimates rather than an exact count.
type Meter struct {
	Model            string
	FallbackCharsPerToken int
}

// New returns a Meter for the named model using the default 4
// chars-per-token fallback ratio.
func New(model string) *Meter {
	return &Meter{Model: model, FallbackCharsPerToken: 4}
}

// EstimateText estimates the token count of a single string.
func (m *Meter) EstimateText(text string) Measurement {
	return Measurement{Label: "text", Tokens: m.encodeLength(text)}
}

// EstimateMessages estimates the combined token count of a slice of
// messages, applying the same per-message and per-block overhead the
// reference implementation charges for role separators and structural
// tokens.
func (m *Meter) EstimateMessages(messages []indubitably.APIMessage, label string) Measurement {
	total := 0
	for _, msg := range messages {
		total += m.estimateMessage(msg)
	}
	return Measurement{Label: label, Tokens: total}
}

// EstimateMessage estimates the token count of a single message.
func (m *Meter) EstimateMessage(msg indubitably.APIMessage) int {
	return m.estimateMessage(msg)
}

func (m *Meter) estimateMessage(msg indubitably.APIMessage) int {
	total := 4 + len(string(msg.Role))
	for _, b := range msg.Content {
		switch b.Type {
		case indubitably.BlockText:
			total += m.encodeLength(b.Text)
		case indubitably.BlockToolUse:
			total += m.encodeLength(fmt.Sprintf("%s", b.Input)) + 6
		case indubitably.BlockToolResult:
			total += m.encodeLength(contentString(b.Content)) + 6
		default:
			total += 3
		}
	}
	return total
}

func contentString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", content)
}

// encodeLength estimates the number of tokens in text via the fallback
// ratio, always returning at least 1 for non-empty text.
func (m *Meter) encodeLength(text string) int {
	if text == "" {
		return 0
	}
	ratio := m.FallbackCharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	n := (len(text) + ratio - 1) / ratio
	if n < 1 {
		n = 1
	}
	return n
}
