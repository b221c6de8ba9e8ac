// Package host defines the boundary to host-module functions. The embedding
// host compiles and runs the actual modules; the engine only sees callables
// over runtime values.
package host

import (
	"context"
	"sync"

	"github.com/arbiterhq/arbiter/pkg/value"
)

// Func is a host-bound function. Calls are synchronous boundary calls; any
// latency or timeout budget is the host's responsibility, but the context is
// threaded through so a cancelled request aborts mid-call where the host
// cooperates.
type Func func(ctx context.Context, args []value.Value) (value.Value, error)

// Binder resolves (module alias, function name) pairs to callables.
type Binder interface {
	Resolve(module, name string) (Func, bool)
}

// Registry is the default Binder, a concurrency-safe function table.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds a function under a module alias.
func (r *Registry) Register(module, name string, fn Func) {
	r.mu.Lock()
	r.funcs[module+"."+name] = fn
	r.mu.Unlock()
}

// Resolve implements Binder.
func (r *Registry) Resolve(module, name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[module+"."+name]
	r.mu.RUnlock()
	return fn, ok
}
