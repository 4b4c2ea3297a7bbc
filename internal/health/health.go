// Package health aggregates the readiness of the engine's dependencies
// (currently just PostgreSQL) for the /health and /health/ready endpoints.
// Memory mode registers no checkers and always reports healthy.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is one subsystem's result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a subsystem. It must respect ctx: the health endpoint runs
// with a deadline and a hung probe should fail, not hang the endpoint.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for a name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers[name] = check
	r.mu.Unlock()
}

// CheckAll runs every checker and reports the aggregate plus per-subsystem
// results, sorted by name so the endpoint's output is stable.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checkers := make(map[string]Checker, len(r.checkers))
	for name, check := range r.checkers {
		names = append(names, name)
		checkers[name] = check
	}
	r.mu.RUnlock()
	sort.Strings(names)

	healthy = true
	statuses = make([]Status, 0, len(names))
	for _, name := range names {
		st := checkers[name](ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
