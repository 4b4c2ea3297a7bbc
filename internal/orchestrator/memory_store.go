package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryIncidentStore is an in-memory incident store for tests and demo mode.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryIncidentStore creates a new in-memory incident store.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{incidents: make(map[string]*Incident)}
}

func (s *MemoryIncidentStore) Create(_ context.Context, in *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.incidents[in.ID] = &cp
	return nil
}

func (s *MemoryIncidentStore) Get(_ context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryIncidentStore) Update(_ context.Context, in *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[in.ID]; !ok {
		return ErrIncidentNotFound
	}
	cp := *in
	s.incidents[in.ID] = &cp
	return nil
}

func (s *MemoryIncidentStore) List(_ context.Context, limit int) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := s.collect(func(*Incident) bool { return true })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryIncidentStore) ListOpen(_ context.Context) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(in *Incident) bool { return in.Status != IncidentResolved }), nil
}

func (s *MemoryIncidentStore) ListSince(_ context.Context, since time.Time) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(in *Incident) bool { return !in.CreatedAt.Before(since) }), nil
}

// collect copies matching incidents, newest first. Caller must hold the lock.
func (s *MemoryIncidentStore) collect(keep func(*Incident) bool) []*Incident {
	var result []*Incident
	for _, in := range s.incidents {
		if keep(in) {
			cp := *in
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

var _ IncidentStore = (*MemoryIncidentStore)(nil)
