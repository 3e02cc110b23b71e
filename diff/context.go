package diff

import "context"

type contextKey string

const trackerKey contextKey = "indubitably.diff.tracker"

// WithTracker returns a context carrying tracker, so write-capable
// handlers deep in the call stack can reach it without the registry or
// router needing a dedicated parameter. Explicit at the scheduler's
// single call site per turn, never implicit process-global state.
func WithTracker(ctx context.Context, tracker *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey, tracker)
}

// FromContext returns the Tracker stashed by WithTracker, or nil if none
// was set (e.g. a read-only invocation, or a handler under test).
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey).(*Tracker)
	return t
}
