package threats

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory threat store for tests and demo mode.
type MemoryStore struct {
	mu      sync.RWMutex
	threats map[string]*Threat
}

// NewMemoryStore creates a new in-memory threat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threats: make(map[string]*Threat)}
}

func (s *MemoryStore) Create(_ context.Context, t *Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats[t.ID] = copyThreat(t)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threats[id]
	if !ok {
		return nil, ErrThreatNotFound
	}
	return copyThreat(t), nil
}

func (s *MemoryStore) Update(_ context.Context, t *Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threats[t.ID]; !ok {
		return ErrThreatNotFound
	}
	s.threats[t.ID] = copyThreat(t)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Threat, 0, len(s.threats))
	for _, t := range s.threats {
		result = append(result, copyThreat(t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Threat
	for _, t := range s.threats {
		if t.Active() {
			result = append(result, copyThreat(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	return result, nil
}

func copyThreat(t *Threat) *Threat {
	cp := *t
	if t.Details != nil {
		cp.Details = make(map[string]any, len(t.Details))
		for k, v := range t.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
