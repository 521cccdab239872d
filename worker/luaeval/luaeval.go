// Package luaeval is an optional worker.Evaluator backed by
// github.com/aarzilli/golua. It is not imported by the core proxy
// subsystem (worker, pool, rpcengine, ...) — only by
// cmd/scriptproxy-worker's default wiring — so the core stays unaware of
// the scripting language in use, per spec.md §1 and §9.
package luaeval

import (
	"context"
	"fmt"
	"sync"

	"github.com/aarzilli/golua/lua"

	"github.com/srg/scriptproxy/worker"
)

// Evaluator runs scripts against a single, long-lived Lua state. The worker
// main loop never calls Eval concurrently; the mutex only protects Close
// racing a final in-flight Eval during shutdown.
type Evaluator struct {
	mu sync.Mutex
	L  *lua.State
}

// New creates a fresh Lua state with the standard library loaded.
func New() (*Evaluator, error) {
	L := lua.NewState()
	if L == nil {
		return nil, fmt.Errorf("luaeval: failed to create Lua state")
	}
	L.OpenLibs()
	return &Evaluator{L: L}, nil
}

// Eval implements worker.Evaluator.
func (e *Evaluator) Eval(ctx context.Context, script string) worker.EvalResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if script == "" {
		return worker.EvalResult{OK: true}
	}

	top := e.L.GetTop()
	if err := e.L.DoString(script); err != nil {
		return worker.EvalResult{
			OK:        false,
			ErrorCode: "ELUA",
			ErrorInfo: "script execution failed",
			Result:    err.Error(),
		}
	}

	// A script that leaves one or more values on the stack is treated as
	// returning the last of them (coerced to its string form); a script
	// that leaves none yields an empty result.
	result := ""
	if e.L.GetTop() > top {
		result = e.L.ToString(-1)
		e.L.SetTop(top)
	}
	return worker.EvalResult{OK: true, Result: result}
}

// Close implements worker.Evaluator.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
	return nil
}
