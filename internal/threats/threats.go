// Package threats detects and tracks platform-level security threats:
// brute-force login waves, scraping, volumetric abuse, account takeover.
//
// Detection is signal-driven: callers report an observed pattern and the
// engine assigns severity from a per-type baseline, escalating one step when
// the signal carries a request count above the volumetric threshold. Each
// threat then moves through a forward-only lifecycle and every detection and
// status change is published to subscribers in order, at least once.
package threats

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrThreatNotFound    = errors.New("threats: threat not found")
	ErrInvalidTransition = errors.New("threats: invalid status transition")
	ErrInvalidThreat     = errors.New("threats: invalid threat")
)

// Type classifies the attack pattern.
type Type string

const (
	TypeBruteForce         Type = "brute_force"
	TypeCredentialStuffing Type = "credential_stuffing"
	TypeVolumetricAbuse    Type = "volumetric_abuse"
	TypeDataScraping       Type = "data_scraping"
	TypeAccountTakeover    Type = "account_takeover"
	TypePaymentFraudRing   Type = "payment_fraud_ring"
)

// Severity of a threat.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// baseSeverity is the per-type starting severity. Unknown types start medium.
var baseSeverity = map[Type]Severity{
	TypeBruteForce:         SeverityMedium,
	TypeCredentialStuffing: SeverityHigh,
	TypeVolumetricAbuse:    SeverityMedium,
	TypeDataScraping:       SeverityLow,
	TypeAccountTakeover:    SeverityCritical,
	TypePaymentFraudRing:   SeverityHigh,
}

// escalate raises severity by one step. Critical stays critical.
func escalate(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Status is the lifecycle state of a threat.
// Transitions only move forward: detected → acknowledged → investigating →
// resolved. Skipping ahead is allowed; moving back is not.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusAcknowledged  Status = "acknowledged"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

var statusRank = map[Status]int{
	StatusDetected:      0,
	StatusAcknowledged:  1,
	StatusInvestigating: 2,
	StatusResolved:      3,
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	_, ok := statusRank[s]
	return ok
}

// Threat is one tracked security threat.
type Threat struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Source     string         `json:"source"` // IP, user ID, or subnet the signal points at
	Severity   Severity       `json:"severity"`
	Status     Status         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	Handler    string         `json:"handler,omitempty"` // operator who acknowledged it
	DetectedAt time.Time      `json:"detectedAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// Active reports whether the threat still needs attention.
func (t *Threat) Active() bool {
	return t.Status != StatusResolved
}

// Store persists threats.
type Store interface {
	Create(ctx context.Context, t *Threat) error
	Get(ctx context.Context, id string) (*Threat, error)
	Update(ctx context.Context, t *Threat) error
	List(ctx context.Context, limit int) ([]*Threat, error)
	ListActive(ctx context.Context) ([]*Threat, error)
}

// Summary is the aggregate threat posture served on the status endpoint.
type Summary struct {
	Active     int              `json:"active"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByStatus   map[Status]int   `json:"byStatus"`
	Highest    Severity         `json:"highestActiveSeverity,omitempty"`
}

// severityOrder for picking the highest active severity.
var severityOrder = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

func validateTransition(from, to Status) error {
	fromRank, ok := statusRank[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	toRank, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
