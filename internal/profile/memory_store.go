package profile

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory profile store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*RiskProfile // by user ID
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*RiskProfile),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*RiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return copyProfile(p), nil
}

func (s *MemoryStore) Save(_ context.Context, p *RiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = copyProfile(p)
	return nil
}

func (s *MemoryStore) ListTop(_ context.Context, limit int) ([]*RiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RiskProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, copyProfile(p))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].UserID < result[j].UserID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyProfile(p *RiskProfile) *RiskProfile {
	cp := *p
	cp.Factors = make([]Factor, len(p.Factors))
	copy(cp.Factors, p.Factors)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
