package fraud

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/metrics"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/registry"
	"github.com/scrollverse/sentinel/internal/traces"
)

// EngineConfig holds the scoring knobs. Weights should sum to 1.
type EngineConfig struct {
	DenyThreshold  float64       // composite score at or above this denies
	AlertThreshold float64       // composite score at or above this opens an alert
	AmountWeight   float64       // weight of the amount-deviation factor
	VelocityWeight float64       // weight of the velocity factor
	ProfileWeight  float64       // weight of the sender's profile score
	VelocityWindow time.Duration // rolling window for velocity counting
	VelocityCap    int           // transactions per window before a hard deny
}

// DefaultEngineConfig returns the platform default scoring parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DenyThreshold:  75,
		AlertThreshold: 60,
		AmountWeight:   0.40,
		VelocityWeight: 0.35,
		ProfileWeight:  0.25,
		VelocityWindow: time.Minute,
		VelocityCap:    15,
	}
}

// Engine scores proposed transactions and decides whether they may proceed.
// Safe for concurrent use.
type Engine struct {
	cfg       EngineConfig
	profiles  *profile.Manager
	registry  *registry.Registry
	velocity  *velocityTracker
	decisions DecisionStore
	alerts    *AlertManager
	now       func() time.Time
}

// NewEngine wires a transaction risk engine.
func NewEngine(cfg EngineConfig, profiles *profile.Manager, reg *registry.Registry, decisions DecisionStore, alerts *AlertManager) *Engine {
	return &Engine{
		cfg:       cfg,
		profiles:  profiles,
		registry:  reg,
		velocity:  newVelocityTracker(cfg.VelocityWindow),
		decisions: decisions,
		alerts:    alerts,
		now:       time.Now,
	}
}

// Feedback factor weights written back to the sender's profile after each
// evaluation. Denied transactions move the profile much harder than allowed
// ones so that risk compounds for repeat offenders.
const (
	allowedFeedbackDivisor = 20.0
	deniedFeedbackDivisor  = 4.0
)

// ValidateTransaction evaluates one proposed transaction and returns the
// decision. Evaluation is idempotent per transaction ID: a retry returns the
// recorded decision without re-scoring or re-counting velocity.
//
// When the profile store is unreachable the engine fails closed: it returns a
// denial with reason "dependency_unavailable" and a nil error, so the caller
// always has a usable decision.
func (e *Engine) ValidateTransaction(ctx context.Context, tx *Transaction) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "fraud.ValidateTransaction",
		traces.TransactionID(tx.ID),
		traces.UserID(tx.FromUser),
	)
	defer span.End()

	start := e.now()
	defer func() {
		metrics.ValidationDuration.Observe(e.now().Sub(start).Seconds())
	}()

	log := logging.L(ctx)

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	// Idempotency: a transaction ID is scored exactly once.
	if prior, err := e.decisions.Get(ctx, tx.ID); err == nil {
		return prior, nil
	} else if !errors.Is(err, ErrDecisionNotFound) {
		log.Warn("decision store unavailable, failing closed",
			"transactionId", tx.ID, "error", err)
		return e.failClosed(ctx, tx), nil
	}

	now := e.now()
	count, priorAmounts := e.velocity.hit(tx.FromUser, tx.Amount, now)

	hardBlock := e.registry.Contains(tx.Metadata.IP) || e.registry.Contains(tx.Metadata.DeviceID)
	capExceeded := count > e.cfg.VelocityCap

	prof, err := e.profiles.Get(ctx, tx.FromUser)
	if err != nil {
		log.Warn("profile store unavailable, failing closed",
			"transactionId", tx.ID, "userId", tx.FromUser, "error", err)
		return e.failClosed(ctx, tx), nil
	}

	factors := map[string]float64{
		"amount_deviation": amountDeviationFactor(tx.Amount, priorAmounts),
		"velocity":         velocityFactor(count, e.cfg.VelocityCap),
		"profile":          prof.Score,
	}

	composite := e.cfg.AmountWeight*factors["amount_deviation"] +
		e.cfg.VelocityWeight*factors["velocity"] +
		e.cfg.ProfileWeight*factors["profile"]
	composite = clampScore(composite)

	d := &Decision{
		TransactionID: tx.ID,
		UserID:        tx.FromUser,
		Allowed:       true,
		RiskScore:     composite,
		Factors:       factors,
		EvaluatedAt:   now,
	}
	switch {
	case hardBlock:
		d.Allowed = false
		d.Reason = ReasonSuspiciousSource
	case capExceeded:
		d.Allowed = false
		d.Reason = ReasonHighVelocity
	case composite >= e.cfg.DenyThreshold:
		d.Allowed = false
		d.Reason = ReasonRiskThreshold
	}

	span.SetAttributes(traces.RiskScore(composite), traces.Decision(d.Allowed))

	if !d.Allowed || composite >= e.cfg.AlertThreshold {
		if alert, aerr := e.alerts.CreateFromDecision(ctx, tx, d); aerr != nil {
			log.Error("failed to open fraud alert", "transactionId", tx.ID, "error", aerr)
		} else {
			d.AlertIDs = append(d.AlertIDs, alert.ID)
		}
	}

	e.recordFeedback(ctx, tx, d)

	if err := e.decisions.Record(ctx, d); err != nil {
		log.Error("failed to record decision", "transactionId", tx.ID, "error", err)
	}

	metrics.TransactionsEvaluated.WithLabelValues(decisionLabel(d.Allowed), string(d.Reason)).Inc()
	if !d.Allowed {
		log.Info("transaction denied",
			"transactionId", tx.ID, "userId", tx.FromUser,
			"reason", d.Reason, "riskScore", d.RiskScore)
	}
	return d, nil
}

// DecisionFor returns the recorded decision for a transaction ID.
func (e *Engine) DecisionFor(ctx context.Context, transactionID string) (*Decision, error) {
	return e.decisions.Get(ctx, transactionID)
}

// failClosed builds the conservative denial returned when a backing store is
// unreachable. The attempt is not recorded, so the same transaction can be
// retried once the dependency recovers.
func (e *Engine) failClosed(_ context.Context, tx *Transaction) *Decision {
	d := &Decision{
		TransactionID: tx.ID,
		UserID:        tx.FromUser,
		Allowed:       false,
		Reason:        ReasonDependencyUnavailable,
		Factors:       map[string]float64{},
		EvaluatedAt:   e.now(),
	}
	metrics.TransactionsEvaluated.WithLabelValues("denied", string(ReasonDependencyUnavailable)).Inc()
	return d
}

// recordFeedback writes the evaluation result back into the sender's profile.
// Best effort: the decision stands even if the profile write fails.
func (e *Engine) recordFeedback(ctx context.Context, tx *Transaction, d *Decision) {
	f := profile.Factor{
		Type:   "transaction_risk",
		Weight: d.RiskScore / allowedFeedbackDivisor,
		Source: tx.ID,
	}
	if !d.Allowed {
		f.Type = "transaction_denied"
		f.Weight = d.RiskScore / deniedFeedbackDivisor
		if d.Reason == ReasonHighVelocity {
			f.Type = "velocity_override"
		}
	}
	if _, err := e.profiles.RecordFactor(ctx, tx.FromUser, f); err != nil {
		logging.L(ctx).Error("failed to update risk profile",
			"userId", tx.FromUser, "transactionId", tx.ID, "error", err)
	}
}

// amountDeviationFactor scores how far the amount sits above the sender's
// historical median on a log scale: at the median or below it contributes
// nothing, 10x the median scores 100. With no history it contributes zero.
func amountDeviationFactor(amount float64, priorAmounts []float64) float64 {
	med := median(priorAmounts)
	if med <= 0 || amount <= med {
		return 0
	}
	factor := math.Log10(amount/med) * 100
	return clampScore(factor)
}

// velocityFactor scales the in-window count linearly against the cap.
func velocityFactor(count, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return clampScore(float64(count) / float64(limit) * 100)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return math.Round(s*100) / 100
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
