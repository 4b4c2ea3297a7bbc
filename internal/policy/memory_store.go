package policy

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory policy store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*SecurityPolicy
	order    []string // creation order, so stable-sort ties are deterministic
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*SecurityPolicy)}
}

func (s *MemoryStore) Create(_ context.Context, p *SecurityPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = copyPolicy(p)
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*SecurityPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

func (s *MemoryStore) Update(_ context.Context, p *SecurityPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*SecurityPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(false), nil
}

func (s *MemoryStore) ListEnabled(_ context.Context) ([]*SecurityPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(true), nil
}

func (s *MemoryStore) listLocked(enabledOnly bool) []*SecurityPolicy {
	result := make([]*SecurityPolicy, 0, len(s.policies))
	for _, id := range s.order {
		p, ok := s.policies[id]
		if !ok || (enabledOnly && !p.Enabled) {
			continue
		}
		result = append(result, copyPolicy(p))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func copyPolicy(p *SecurityPolicy) *SecurityPolicy {
	cp := *p
	cp.Rules = make([]Rule, len(p.Rules))
	copy(cp.Rules, p.Rules)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
