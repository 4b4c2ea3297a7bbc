// Package fraud implements real-time transaction risk scoring and the fraud
// alert workflow for internal-token transfers.
//
// Every proposed transfer is evaluated against three weighted factors: amount
// deviation from the sender's historical median, transaction velocity inside a
// rolling window, and the sender's accumulated risk profile. Registry-flagged
// IPs and devices are a hard block and a velocity cap overrides all other
// factors. Scores range 0-100; transactions at or above the deny threshold are
// rejected before funds move, and high scores open alerts for human
// investigation. Investigation outcomes feed back into the sender's profile.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/pagination"
)

// Errors
var (
	ErrDecisionNotFound    = errors.New("fraud: decision not found")
	ErrAlertNotFound       = errors.New("fraud: alert not found")
	ErrAlertResolved       = errors.New("fraud: alert already resolved")
	ErrInvalidTransition   = errors.New("fraud: invalid alert status transition")
	ErrInvalidResolution   = errors.New("fraud: invalid resolution")
	ErrMissingInvestigator = errors.New("fraud: investigator id required")
)

// TxType classifies a token movement.
type TxType string

const (
	TxTransfer TxType = "transfer"
	TxReward   TxType = "reward"
	TxPurchase TxType = "purchase"
)

// Metadata carries the client context submitted with a transaction.
// Any field may be empty; missing metadata contributes zero to scoring.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Location  string `json:"location,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
}

// Transaction is a proposed token movement. Immutable once submitted; the
// engine records a Decision referencing it rather than mutating it.
type Transaction struct {
	ID        string    `json:"id"`
	FromUser  string    `json:"fromUser"`
	ToUser    string    `json:"toUser"`
	Amount    float64   `json:"amount"`
	Type      TxType    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Validate rejects malformed transactions before any scoring happens.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("fraud: transaction id is required")
	}
	if t.FromUser == "" {
		return fmt.Errorf("fraud: fromUser is required")
	}
	if t.ToUser == "" {
		return fmt.Errorf("fraud: toUser is required")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("fraud: amount must be positive")
	}
	switch t.Type {
	case TxTransfer, TxReward, TxPurchase:
	default:
		return fmt.Errorf("fraud: unknown transaction type %q", t.Type)
	}
	return nil
}

// Reason is the coarse denial classification surfaced to the end user.
// Internal factor weights are never leaked here; the full factor map stays on
// the Decision for investigator and analytics surfaces.
type Reason string

const (
	ReasonHighVelocity          Reason = "high_velocity"
	ReasonSuspiciousSource      Reason = "suspicious_source"
	ReasonRiskThreshold         Reason = "risk_threshold_exceeded"
	ReasonDependencyUnavailable Reason = "dependency_unavailable"
)

// Decision is the engine's verdict on one transaction. A transaction ID is
// evaluated exactly once: retries return the recorded decision.
type Decision struct {
	TransactionID string             `json:"transactionId"`
	UserID        string             `json:"userId"` // the sender
	Allowed       bool               `json:"allowed"`
	RiskScore     float64            `json:"riskScore"`
	Reason        Reason             `json:"reason,omitempty"` // set only when denied
	Factors       map[string]float64 `json:"factors"`
	AlertIDs      []string           `json:"alertIds,omitempty"`
	EvaluatedAt   time.Time          `json:"evaluatedAt"`
}

// Severity bands a fraud alert by the score that raised it.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of a fraud alert.
// Transitions are strictly forward: open → investigating → resolved.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
)

// Resolution is the investigator's conclusion on a resolved alert.
type Resolution string

const (
	ResolutionConfirmedFraud Resolution = "confirmed_fraud"
	ResolutionFalsePositive  Resolution = "false_positive"
	ResolutionInconclusive   Resolution = "inconclusive"
)

// ValidResolution reports whether r is a known resolution.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionConfirmedFraud, ResolutionFalsePositive, ResolutionInconclusive:
		return true
	}
	return false
}

// FraudAlert tracks a suspicious transaction through investigation.
// Owned and mutated exclusively by the AlertManager.
type FraudAlert struct {
	ID                   string      `json:"id"`
	TransactionID        string      `json:"transactionId,omitempty"`
	UserID               string      `json:"userId"`
	Severity             Severity    `json:"severity"`
	RiskScoreAtDetection float64     `json:"riskScoreAtDetection"`
	Status               AlertStatus `json:"status"`
	Resolution           Resolution  `json:"resolution,omitempty"`
	InvestigatorID       string      `json:"investigatorId,omitempty"`
	Reason               Reason      `json:"reason,omitempty"` // what triggered the alert
	Metadata             Metadata    `json:"metadata"`         // client context at detection time
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
	ResolvedAt           *time.Time  `json:"resolvedAt,omitempty"`
}

// DecisionStore persists evaluation outcomes for idempotency and analytics.
type DecisionStore interface {
	Get(ctx context.Context, transactionID string) (*Decision, error)
	Record(ctx context.Context, d *Decision) error
	ListSince(ctx context.Context, since time.Time) ([]*Decision, error)
}

// ListOption configures optional parameters for alert list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to alerts after the given cursor position.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// AlertStore persists fraud alerts.
type AlertStore interface {
	Create(ctx context.Context, a *FraudAlert) error
	Get(ctx context.Context, id string) (*FraudAlert, error)
	Update(ctx context.Context, a *FraudAlert) error
	List(ctx context.Context, limit int, opts ...ListOption) ([]*FraudAlert, error)
	ListSince(ctx context.Context, since time.Time) ([]*FraudAlert, error)
}
