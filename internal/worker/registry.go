// Package worker provides the string-keyed worker factory registry that
// replaces the teacher's hardcoded executeJob switch statement
// (internal/services/jobmanager/executor.go) with the "class-name string
// -> registry" design the source's reflective class lookup is rewritten
// into.
package worker

import (
	"sync"

	"github.com/bobmcallan/rocketd/internal/interfaces"
)

// Registry is a concurrency-safe map of className to worker Factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]interfaces.Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]interfaces.Factory)}
}

// Register associates className with factory, overwriting any previous
// registration — callers register once at startup, before the supervisor
// starts dispatching.
func (r *Registry) Register(className string, factory interfaces.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[className] = factory
}

// Lookup resolves className to its Factory. ok is false for an unknown
// key; the caller fails the job with ErrWorkerNotRegistered rather than
// the teacher's fmt.Errorf("unknown job type: %s", ...) string match.
func (r *Registry) Lookup(className string) (interfaces.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[className]
	return f, ok
}
