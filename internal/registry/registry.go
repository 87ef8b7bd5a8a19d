// Package registry maps a task definition's id to the Handler that knows
// how to run it. It is the kernel's only dynamic-dispatch surface;
// everything else about a task is static configuration (spec.md §4.3).
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Handler runs one task's work and returns its result. Implementations
// must not panic (the executor recovers as a defense-in-depth measure,
// but a well-behaved handler returns StatusFailed explicitly instead of
// panicking or returning a bare Go error); must tolerate being invoked
// concurrently with other handlers, including other invocations of
// itself against different definitions; and must not mutate def or any
// other task's state.
type Handler func(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult

// Registry is a static, concurrency-safe id -> Handler map, populated at
// startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates id with handler. Re-registering an id overwrites
// the previous handler; this is intended for tests, not runtime use.
func (r *Registry) Register(id string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = handler
}

// Lookup returns the handler registered for id, or false if none exists.
func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Dispatch runs the handler registered for def.ID, translating a missing
// registration into a failed result with error unknown_task_id:<id>, per
// spec.md §4.3, rather than crashing the run.
func (r *Registry) Dispatch(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
	handler, ok := r.Lookup(def.ID)
	if !ok {
		return taskdef.TaskResult{
			Status: taskdef.StatusFailed,
			Error:  fmt.Sprintf(`unknown_task_id:%s`, def.ID),
		}
	}
	return handler(ctx, def)
}
