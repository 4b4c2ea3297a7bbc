package fraud

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDecisionStore is an in-memory decision store for tests and demo mode.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]*Decision
}

// NewMemoryDecisionStore creates a new in-memory decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]*Decision)}
}

func (s *MemoryDecisionStore) Get(_ context.Context, transactionID string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[transactionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDecisionStore) Record(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.decisions[d.TransactionID] = &cp
	return nil
}

func (s *MemoryDecisionStore) ListSince(_ context.Context, since time.Time) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Decision
	for _, d := range s.decisions {
		if d.EvaluatedAt.Before(since) {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EvaluatedAt.After(result[j].EvaluatedAt)
	})
	return result, nil
}

var _ DecisionStore = (*MemoryDecisionStore)(nil)

// MemoryAlertStore is an in-memory alert store for tests and demo mode.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*FraudAlert
}

// NewMemoryAlertStore creates a new in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*FraudAlert)}
}

func (s *MemoryAlertStore) Create(_ context.Context, a *FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryAlertStore) Get(_ context.Context, id string) (*FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAlertStore) Update(_ context.Context, a *FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryAlertStore) List(_ context.Context, limit int, opts ...ListOption) ([]*FraudAlert, error) {
	o := applyListOpts(opts)
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*FraudAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if o.cursor != nil {
			// Newest-first ordering: only alerts strictly before the cursor.
			if a.CreatedAt.After(o.cursor.CreatedAt) {
				continue
			}
			if a.CreatedAt.Equal(o.cursor.CreatedAt) && a.ID >= o.cursor.ID {
				continue
			}
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryAlertStore) ListSince(_ context.Context, since time.Time) ([]*FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*FraudAlert
	for _, a := range s.alerts {
		if a.CreatedAt.Before(since) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

var _ AlertStore = (*MemoryAlertStore)(nil)
