package toolrouter

import (
	"context"
	"sync"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

// Runtime wraps a Router with a read/write lock: parallel-safe tools
// take a read guard and may run concurrently with each other, while any
// other tool takes a write guard that serializes it against every
// in-flight read and write. Tool-result blocks are returned in the same
// order the calls were emitted, regardless of completion order.
type Runtime struct {
	router *Router
	mu     sync.RWMutex
}

// NewRuntime returns a Runtime over router.
func NewRuntime(router *Router) *Runtime {
	return &Runtime{router: router}
}

// RunTurn executes every call from one assistant turn, respecting the
// parallel-safe/write-exclusive arbitration rule, and returns their
// tool_result blocks in call order.
func (rt *Runtime) RunTurn(ctx context.Context, calls []Call, turnID int) []indubitably.Block {
	results := make([]indubitably.Block, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		parallel := rt.isParallelSafe(call)
		if !parallel {
			wg.Wait()
			rt.mu.Lock()
			results[i] = rt.router.DispatchToolCall(ctx, call, turnID)
			rt.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			rt.mu.RLock()
			defer rt.mu.RUnlock()
			results[i] = rt.router.DispatchToolCall(ctx, call, turnID)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (rt *Runtime) isParallelSafe(call Call) bool {
	spec, ok := rt.router.Registry.Spec(call.ToolName)
	if !ok {
		return false
	}
	return spec.SupportsParallel
}
