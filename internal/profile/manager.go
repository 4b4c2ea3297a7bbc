package profile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/syncutil"
)

// Default decay parameters. Deployments tune these via config.
const (
	DefaultDecayWindow   = 30 * 24 * time.Hour
	DefaultDecayHalfLife = 7 * 24 * time.Hour
)

// Manager owns all mutation of risk profiles. Updates for a given user are
// serialized through a sharded mutex so two concurrent transactions from the
// same sender cannot interleave a read-modify-write and drop a factor.
type Manager struct {
	store       Store
	locks       syncutil.ShardedMutex
	bands       Bands
	decayWindow time.Duration
	halfLife    time.Duration
}

// NewManager creates a profile manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:       store,
		bands:       DefaultBands(),
		decayWindow: DefaultDecayWindow,
		halfLife:    DefaultDecayHalfLife,
	}
}

// WithBands overrides the default risk band cutpoints.
func (m *Manager) WithBands(b Bands) *Manager {
	m.bands = b
	return m
}

// WithDecay overrides the decay window and half-life.
func (m *Manager) WithDecay(window, halfLife time.Duration) *Manager {
	m.decayWindow = window
	m.halfLife = halfLife
	return m
}

// Bands returns the configured cutpoints.
func (m *Manager) Bands() Bands {
	return m.bands
}

// Get returns the user's profile, creating and persisting a zero-score
// profile if none exists. Unknown users are never an error.
func (m *Manager) Get(ctx context.Context, userID string) (*RiskProfile, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.loadOrCreate(ctx, userID)
}

// RecordFactor appends a weighted factor to the user's profile and recomputes
// the score. Returns the updated profile.
func (m *Manager) RecordFactor(ctx context.Context, userID string, f Factor) (*RiskProfile, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	p, err := m.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if f.ID == "" {
		f.ID = idgen.WithPrefix("rf_")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	p.Factors = append(p.Factors, f)
	m.recompute(p, time.Now())

	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("profile: save %s: %w", userID, err)
	}
	return p, nil
}

// Downweight reduces the weight of every factor originating from the given
// source (transaction or alert ID) by the ratio, preserving the original
// weight on the record. Used when an alert resolves as a false positive.
// Factors already down-weighted are left alone.
func (m *Manager) Downweight(ctx context.Context, userID, source string, ratio float64) (*RiskProfile, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	p, err := m.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	adjusted := false
	for i := range p.Factors {
		f := &p.Factors[i]
		if f.Source != source || f.Downweighted() {
			continue
		}
		f.OriginalWeight = f.Weight
		f.Weight *= ratio
		adjusted = true
	}
	if !adjusted {
		return p, nil
	}

	m.recompute(p, time.Now())
	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("profile: save %s: %w", userID, err)
	}
	return p, nil
}

// TopRisk returns up to limit profiles ordered by score descending.
func (m *Manager) TopRisk(ctx context.Context, limit int) ([]*RiskProfile, error) {
	return m.store.ListTop(ctx, limit)
}

// loadOrCreate fetches the profile or persists a fresh zero-score one.
// Caller must hold the per-user lock.
func (m *Manager) loadOrCreate(ctx context.Context, userID string) (*RiskProfile, error) {
	p, err := m.store.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if err != ErrProfileNotFound {
		return nil, fmt.Errorf("profile: load %s: %w", userID, err)
	}

	now := time.Now()
	p = &RiskProfile{
		UserID:    userID,
		Score:     0,
		Level:     m.bands.Level(0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("profile: create %s: %w", userID, err)
	}
	return p, nil
}

// recompute derives the active score from factor weights with half-life decay.
// Factors older than the decay window contribute nothing but stay on record.
func (m *Manager) recompute(p *RiskProfile, now time.Time) {
	var score float64
	for i := range p.Factors {
		f := &p.Factors[i]
		age := now.Sub(f.CreatedAt)
		if age < 0 {
			age = 0
		}
		if age > m.decayWindow {
			continue
		}
		decay := math.Pow(0.5, age.Hours()/m.halfLife.Hours())
		score += f.Weight * decay
	}

	// Clamp to [0, 100]
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	p.Score = math.Round(score*100) / 100
	p.Level = m.bands.Level(p.Score)
	p.UpdatedAt = now
}
