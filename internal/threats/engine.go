package threats

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/metrics"
	"github.com/scrollverse/sentinel/internal/syncutil"
)

// DefaultVolumetricThreshold is the request count that escalates severity.
const DefaultVolumetricThreshold = 1000

// Engine detects threats, runs their lifecycle, and publishes events.
type Engine struct {
	store               Store
	publisher           *Publisher
	locks               syncutil.ShardedMutex
	volumetricThreshold float64
}

// NewEngine wires a threat detection engine.
func NewEngine(store Store, publisher *Publisher) *Engine {
	return &Engine{
		store:               store,
		publisher:           publisher,
		volumetricThreshold: DefaultVolumetricThreshold,
	}
}

// WithVolumetricThreshold overrides the escalation threshold.
func (e *Engine) WithVolumetricThreshold(n float64) *Engine {
	e.volumetricThreshold = n
	return e
}

// DetectInput is a reported attack signal.
type DetectInput struct {
	Type    Type           `json:"type"`
	Source  string         `json:"source"`
	Details map[string]any `json:"details,omitempty"`
}

// Detect records a new threat. Severity starts from the per-type baseline and
// escalates one step when the signal's requestCount detail is at or above the
// volumetric threshold.
func (e *Engine) Detect(ctx context.Context, in DetectInput) (*Threat, error) {
	if in.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidThreat)
	}
	if in.Source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidThreat)
	}

	severity, known := baseSeverity[in.Type]
	if !known {
		severity = SeverityMedium
	}
	if rc, ok := requestCount(in.Details); ok && rc >= e.volumetricThreshold {
		severity = escalate(severity)
	}

	now := time.Now()
	t := &Threat{
		ID:         idgen.WithPrefix("thr_"),
		Type:       in.Type,
		Source:     in.Source,
		Severity:   severity,
		Status:     StatusDetected,
		Details:    in.Details,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("threats: create: %w", err)
	}

	metrics.ThreatsDetectedTotal.WithLabelValues(string(t.Type), string(t.Severity)).Inc()
	e.publisher.Publish(Event{Type: EventDetected, Threat: t})
	logging.L(ctx).Info("threat detected",
		"threatId", t.ID, "type", t.Type, "source", t.Source, "severity", t.Severity)
	return t, nil
}

// Transition moves a threat to a later lifecycle state. Forward-only:
// a resolved threat cannot be reopened and no state can move backwards.
func (e *Engine) Transition(ctx context.Context, threatID string, to Status, handler string) (*Threat, error) {
	unlock := e.locks.Lock(threatID)
	defer unlock()

	t, err := e.store.Get(ctx, threatID)
	if err != nil {
		return nil, err
	}
	if err := validateTransition(t.Status, to); err != nil {
		return nil, err
	}

	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	if handler != "" {
		t.Handler = handler
	}
	if to == StatusResolved {
		t.ResolvedAt = &now
	}
	if err := e.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("threats: update %s: %w", threatID, err)
	}

	e.publisher.Publish(Event{Type: EventStatusChanged, Threat: t})
	return t, nil
}

// Get returns one threat by ID.
func (e *Engine) Get(ctx context.Context, threatID string) (*Threat, error) {
	return e.store.Get(ctx, threatID)
}

// List returns the most recent threats, newest first.
func (e *Engine) List(ctx context.Context, limit int) ([]*Threat, error) {
	return e.store.List(ctx, limit)
}

// ListActive returns unresolved threats, newest first.
func (e *Engine) ListActive(ctx context.Context) ([]*Threat, error) {
	return e.store.ListActive(ctx)
}

// Status aggregates the current threat posture.
func (e *Engine) Status(ctx context.Context) (*Summary, error) {
	all, err := e.store.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("threats: list: %w", err)
	}

	s := &Summary{
		Total:      len(all),
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[Status]int),
	}
	for _, t := range all {
		s.ByStatus[t.Status]++
		if !t.Active() {
			continue
		}
		s.Active++
		s.BySeverity[t.Severity]++
		if s.Highest == "" || severityOrder[t.Severity] > severityOrder[s.Highest] {
			s.Highest = t.Severity
		}
	}
	return s, nil
}

// requestCount extracts a numeric requestCount detail if present.
func requestCount(details map[string]any) (float64, bool) {
	v, ok := details["requestCount"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
