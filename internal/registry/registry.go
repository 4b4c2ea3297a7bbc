// Package registry tracks flagged IPs and device IDs shared across the
// security engines. Membership is a hard block for transaction validation,
// so reads are served from an in-memory set guarded by a RWMutex; writes go
// through to the backing store first so the set survives restarts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrollverse/sentinel/internal/metrics"
)

var (
	// ErrInvalidEntry is returned for empty or malformed identifiers.
	ErrInvalidEntry = errors.New("registry: invalid entry")
	// ErrEntryNotFound is returned when removing an unknown identifier.
	ErrEntryNotFound = errors.New("registry: entry not found")
)

// Kind distinguishes the identifier type of an entry.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDevice Kind = "device"
)

// Entry is a single flagged identifier.
type Entry struct {
	Identifier string    `json:"identifier"`
	Kind       Kind      `json:"kind"`
	Source     string    `json:"source"` // what flagged it: alert ID, investigator, feed name
	AddedAt    time.Time `json:"addedAt"`
}

// Store persists registry entries.
type Store interface {
	Add(ctx context.Context, e *Entry) error
	Remove(ctx context.Context, identifier string) error
	List(ctx context.Context) ([]*Entry, error)
}

// Registry is the shared suspicious-entity set.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	store   Store
}

// New creates a registry backed by the given store.
func New(store Store) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		store:   store,
	}
}

// Load warms the in-memory set from the store. Call once at startup.
func (r *Registry) Load(ctx context.Context) error {
	entries, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}

	r.mu.Lock()
	for _, e := range entries {
		r.entries[e.Identifier] = e
	}
	n := len(r.entries)
	r.mu.Unlock()

	metrics.RegistryEntries.Set(float64(n))
	return nil
}

// Add flags an identifier. Idempotent: re-adding an existing identifier
// refreshes nothing and returns the original entry.
func (r *Registry) Add(ctx context.Context, identifier string, kind Kind, source string) (*Entry, error) {
	if identifier == "" {
		return nil, ErrInvalidEntry
	}
	switch kind {
	case KindIP, KindDevice:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, kind)
	}

	r.mu.RLock()
	existing, ok := r.entries[identifier]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	e := &Entry{
		Identifier: identifier,
		Kind:       kind,
		Source:     source,
		AddedAt:    time.Now(),
	}
	if err := r.store.Add(ctx, e); err != nil {
		return nil, fmt.Errorf("registry: add %s: %w", identifier, err)
	}

	r.mu.Lock()
	r.entries[identifier] = e
	n := len(r.entries)
	r.mu.Unlock()

	metrics.RegistryEntries.Set(float64(n))
	return e, nil
}

// Remove unflags an identifier.
func (r *Registry) Remove(ctx context.Context, identifier string) error {
	r.mu.RLock()
	_, ok := r.entries[identifier]
	r.mu.RUnlock()
	if !ok {
		return ErrEntryNotFound
	}

	if err := r.store.Remove(ctx, identifier); err != nil {
		return fmt.Errorf("registry: remove %s: %w", identifier, err)
	}

	r.mu.Lock()
	delete(r.entries, identifier)
	n := len(r.entries)
	r.mu.Unlock()

	metrics.RegistryEntries.Set(float64(n))
	return nil
}

// Contains reports whether an identifier is flagged. Served from memory;
// never errors, so the hot validation path cannot stall on persistence.
func (r *Registry) Contains(identifier string) bool {
	if identifier == "" {
		return false
	}
	r.mu.RLock()
	_, ok := r.entries[identifier]
	r.mu.RUnlock()
	return ok
}

// List returns all entries, newest first.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AddedAt.After(result[j].AddedAt)
	})
	return result
}

// Len returns the number of flagged identifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
