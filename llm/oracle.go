// Package llm declares the wire shapes and the Oracle interface the turn
// scheduler drives each iteration. The concrete provider — the actual
// HTTP client that talks to an LLM API — is an external collaborator per
// the system's scope: this package only fixes the request/response
// contract the core depends on.
package llm

import (
	"context"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// Usage reports the token accounting the oracle measured for one call,
// when it chooses to report it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StopReason classifies why the oracle stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Request is what the scheduler sends the oracle for one iteration.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []indubitably.APIMessage
	Tools     []tool.ConfiguredSpec
}

// Response is what the oracle returns for one Request.
type Response struct {
	Content    []indubitably.Block
	StopReason StopReason
	Usage      *Usage
}

// RateLimitError is returned by an Oracle implementation when the
// provider signals the caller should back off and retry; the scheduler
// matches on this type to drive its exponential-backoff retry loop (see
// runner.Scheduler).
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return "llm: rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// Oracle is the request/response contract the scheduler depends on. The
// core never constructs one directly; a front-end wires in a concrete
// provider client that implements this interface.
type Oracle interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
