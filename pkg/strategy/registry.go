// Package strategy resolves pluggable per-source strategies (normalizers,
// risk engines, detectors) by source environment and type.
package strategy

import (
	"sync"

	"github.com/lucid-vigil/secops/pkg/types"
)

// Match selects which sources a strategy serves.
type Match struct {
	Environment types.Environment
	SourceType  types.SourceType
}

// ForSource matches one (environment, source type) pair.
func ForSource(env types.Environment, st types.SourceType) Match {
	return Match{Environment: env, SourceType: st}
}

// ForEnvironment matches every source type of an environment.
func ForEnvironment(env types.Environment) Match {
	return Match{Environment: env}
}

// Any is the default fallback.
func Any() Match {
	return Match{}
}

// Key renders the match the way registrations are logged: "OT:scada", "OT"
// or "default".
func (m Match) Key() string {
	switch {
	case m.Environment != "" && m.SourceType != "":
		return string(m.Environment) + ":" + string(m.SourceType)
	case m.Environment != "":
		return string(m.Environment)
	default:
		return "default"
	}
}

// Registry holds strategies keyed by Match. Resolution prefers the exact
// (environment, type) entry, then the environment entry, then the default.
// Registering under an existing match replaces the previous strategy.
type Registry[T any] struct {
	entries map[Match]T
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[Match]T)}
}

// Register binds v to m.
func (r *Registry[T]) Register(m Match, v T) {
	if m.Environment == "" {
		m.SourceType = ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m] = v
}

// Resolve returns the most specific strategy for a source.
func (r *Registry[T]) Resolve(env types.Environment, st types.SourceType) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range []Match{ForSource(env, st), ForEnvironment(env), Any()} {
		if v, ok := r.entries[m]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of registered strategies.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
