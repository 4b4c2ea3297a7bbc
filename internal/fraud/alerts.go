package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/metrics"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/registry"
	"github.com/scrollverse/sentinel/internal/syncutil"
)

// Notifier receives alerts as they are opened. The realtime hub implements
// this to push alerts to connected dashboards.
type Notifier interface {
	NotifyAlert(a *FraudAlert)
}

// AlertManagerConfig holds the investigation feedback knobs.
type AlertManagerConfig struct {
	ConfirmedFraudWeight float64       // profile factor added on confirmed fraud
	DownweightRatio      float64       // factor weight multiplier on false positive
	Bands                profile.Bands // score cutpoints for alert severity
}

// DefaultAlertManagerConfig returns the platform defaults.
func DefaultAlertManagerConfig() AlertManagerConfig {
	return AlertManagerConfig{
		ConfirmedFraudWeight: 40,
		DownweightRatio:      0.25,
		Bands:                profile.DefaultBands(),
	}
}

// AlertManager owns the fraud alert lifecycle: open → investigating → resolved.
// Transitions are strictly forward and resolution outcomes feed back into the
// subject's risk profile and the suspicious entity registry.
type AlertManager struct {
	cfg      AlertManagerConfig
	store    AlertStore
	profiles *profile.Manager
	registry *registry.Registry
	locks    syncutil.ShardedMutex
	notifier Notifier
}

// NewAlertManager wires an alert manager.
func NewAlertManager(cfg AlertManagerConfig, store AlertStore, profiles *profile.Manager, reg *registry.Registry) *AlertManager {
	if cfg.Bands == (profile.Bands{}) {
		cfg.Bands = profile.DefaultBands()
	}
	return &AlertManager{
		cfg:      cfg,
		store:    store,
		profiles: profiles,
		registry: reg,
	}
}

// WithNotifier attaches a sink for newly opened alerts.
func (m *AlertManager) WithNotifier(n Notifier) *AlertManager {
	m.notifier = n
	return m
}

// CreateFromDecision opens an alert for a scored transaction.
func (m *AlertManager) CreateFromDecision(ctx context.Context, tx *Transaction, d *Decision) (*FraudAlert, error) {
	now := time.Now()
	a := &FraudAlert{
		ID:                   idgen.WithPrefix("alr_"),
		TransactionID:        tx.ID,
		UserID:               tx.FromUser,
		Severity:             m.severityFor(d),
		RiskScoreAtDetection: d.RiskScore,
		Status:               StatusOpen,
		Reason:               d.Reason,
		Metadata:             tx.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("fraud: create alert: %w", err)
	}

	metrics.FraudAlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	if m.notifier != nil {
		m.notifier.NotifyAlert(a)
	}
	logging.L(ctx).Info("fraud alert opened",
		"alertId", a.ID, "userId", a.UserID,
		"severity", a.Severity, "riskScore", a.RiskScoreAtDetection)
	return a, nil
}

// Get returns one alert by ID.
func (m *AlertManager) Get(ctx context.Context, alertID string) (*FraudAlert, error) {
	return m.store.Get(ctx, alertID)
}

// List returns the most recent alerts, newest first.
func (m *AlertManager) List(ctx context.Context, limit int, opts ...ListOption) ([]*FraudAlert, error) {
	return m.store.List(ctx, limit, opts...)
}

// StartInvestigation claims an open alert for an investigator.
func (m *AlertManager) StartInvestigation(ctx context.Context, alertID, investigatorID string) (*FraudAlert, error) {
	if investigatorID == "" {
		return nil, ErrMissingInvestigator
	}

	unlock := m.locks.Lock(alertID)
	defer unlock()

	a, err := m.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusOpen:
	case StatusResolved:
		return nil, ErrAlertResolved
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusInvestigating)
	}

	a.Status = StatusInvestigating
	a.InvestigatorID = investigatorID
	a.UpdatedAt = time.Now()
	if err := m.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("fraud: update alert %s: %w", alertID, err)
	}
	return a, nil
}

// Resolve closes an alert with the investigator's conclusion and applies the
// feedback: confirmed fraud raises the subject's profile and flags the source
// IP and device; a false positive down-weights the factors the triggering
// transaction contributed. Inconclusive resolutions change nothing.
//
// Resolution is allowed from open or investigating. A resolved alert cannot
// be resolved again.
func (m *AlertManager) Resolve(ctx context.Context, alertID, investigatorID string, resolution Resolution) (*FraudAlert, error) {
	if investigatorID == "" {
		return nil, ErrMissingInvestigator
	}
	if !ValidResolution(resolution) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	unlock := m.locks.Lock(alertID)
	defer unlock()

	a, err := m.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusResolved {
		return nil, ErrAlertResolved
	}

	now := time.Now()
	a.Status = StatusResolved
	a.Resolution = resolution
	a.InvestigatorID = investigatorID
	a.UpdatedAt = now
	a.ResolvedAt = &now
	if err := m.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("fraud: update alert %s: %w", alertID, err)
	}

	m.applyResolution(ctx, a)
	metrics.AlertsResolvedTotal.WithLabelValues(string(resolution)).Inc()
	logging.L(ctx).Info("fraud alert resolved",
		"alertId", a.ID, "userId", a.UserID,
		"resolution", resolution, "investigatorId", investigatorID)
	return a, nil
}

// applyResolution pushes the investigation outcome into the profile and
// registry. Best effort: the resolution itself is already persisted.
func (m *AlertManager) applyResolution(ctx context.Context, a *FraudAlert) {
	log := logging.L(ctx)
	switch a.Resolution {
	case ResolutionConfirmedFraud:
		f := profile.Factor{
			Type:   "confirmed_fraud",
			Weight: m.cfg.ConfirmedFraudWeight,
			Source: a.ID,
		}
		if _, err := m.profiles.RecordFactor(ctx, a.UserID, f); err != nil {
			log.Error("failed to apply confirmed-fraud factor",
				"alertId", a.ID, "userId", a.UserID, "error", err)
		}
		if a.Metadata.IP != "" {
			if _, err := m.registry.Add(ctx, a.Metadata.IP, registry.KindIP, a.ID); err != nil {
				log.Error("failed to flag ip", "alertId", a.ID, "ip", a.Metadata.IP, "error", err)
			}
		}
		if a.Metadata.DeviceID != "" {
			if _, err := m.registry.Add(ctx, a.Metadata.DeviceID, registry.KindDevice, a.ID); err != nil {
				log.Error("failed to flag device", "alertId", a.ID, "deviceId", a.Metadata.DeviceID, "error", err)
			}
		}
	case ResolutionFalsePositive:
		source := a.TransactionID
		if source == "" {
			source = a.ID
		}
		if _, err := m.profiles.Downweight(ctx, a.UserID, source, m.cfg.DownweightRatio); err != nil {
			log.Error("failed to downweight factors",
				"alertId", a.ID, "userId", a.UserID, "error", err)
		}
	}
}

// severityFor bands an alert by its decision, using the same configured
// cutpoints as risk profile levels. Hard blocks and velocity overrides are
// always critical regardless of the composite score.
func (m *AlertManager) severityFor(d *Decision) Severity {
	if d.Reason == ReasonSuspiciousSource || d.Reason == ReasonHighVelocity {
		return SeverityCritical
	}
	switch m.cfg.Bands.Level(d.RiskScore) {
	case profile.LevelLow:
		return SeverityLow
	case profile.LevelMedium:
		return SeverityMedium
	case profile.LevelHigh:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
