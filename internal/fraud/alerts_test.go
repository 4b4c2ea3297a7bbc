package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/registry"
)

func profileFactor(source string, weight float64) profile.Factor {
	return profile.Factor{Type: "transaction_risk", Weight: weight, Source: source}
}

func openTestAlert(t *testing.T, env *testEnv, txID, userID string) *FraudAlert {
	t.Helper()
	tx := testTx(txID, userID, 50)
	d := &Decision{
		TransactionID: txID,
		UserID:        userID,
		Allowed:       false,
		RiskScore:     80,
		Reason:        ReasonRiskThreshold,
	}
	a, err := env.manager.CreateFromDecision(context.Background(), tx, d)
	if err != nil {
		t.Fatalf("CreateFromDecision: %v", err)
	}
	return a
}

func TestAlertSeverityFollowsConfiguredBands(t *testing.T) {
	cfg := DefaultAlertManagerConfig()
	cfg.Bands = profile.Bands{Low: 10, Medium: 20, High: 30}
	manager := NewAlertManager(cfg, NewMemoryAlertStore(),
		profile.NewManager(profile.NewMemoryStore()), registry.New(registry.NewMemoryStore()))
	ctx := context.Background()

	cases := []struct {
		score float64
		want  Severity
	}{
		{5, SeverityLow},
		{15, SeverityMedium},
		{25, SeverityHigh},
		{35, SeverityCritical},
	}
	for _, tc := range cases {
		tx := testTx(fmt.Sprintf("tx-band-%.0f", tc.score), "student-1", 10)
		a, err := manager.CreateFromDecision(ctx, tx, &Decision{
			TransactionID: tx.ID, UserID: "student-1",
			RiskScore: tc.score, Reason: ReasonRiskThreshold,
		})
		if err != nil {
			t.Fatalf("CreateFromDecision(%.0f): %v", tc.score, err)
		}
		if a.Severity != tc.want {
			t.Errorf("score %.0f: severity = %q, want %q", tc.score, a.Severity, tc.want)
		}
	}

	// Overrides stay critical no matter how low the composite score.
	tx := testTx("tx-band-vel", "student-1", 10)
	a, err := manager.CreateFromDecision(ctx, tx, &Decision{
		TransactionID: tx.ID, UserID: "student-1",
		RiskScore: 1, Reason: ReasonHighVelocity,
	})
	if err != nil {
		t.Fatalf("CreateFromDecision: %v", err)
	}
	if a.Severity != SeverityCritical {
		t.Errorf("velocity override severity = %q, want critical", a.Severity)
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := openTestAlert(t, env, "tx-a1", "student-1")

	if a.Status != StatusOpen {
		t.Fatalf("new alert status = %q, want open", a.Status)
	}

	a, err := env.manager.StartInvestigation(ctx, a.ID, "inv-1")
	if err != nil {
		t.Fatalf("StartInvestigation: %v", err)
	}
	if a.Status != StatusInvestigating || a.InvestigatorID != "inv-1" {
		t.Errorf("got status=%q investigator=%q", a.Status, a.InvestigatorID)
	}

	// Claiming an already-claimed alert is rejected.
	if _, err := env.manager.StartInvestigation(ctx, a.ID, "inv-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second claim: got %v, want ErrInvalidTransition", err)
	}

	a, err = env.manager.Resolve(ctx, a.ID, "inv-1", ResolutionInconclusive)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Status != StatusResolved || a.ResolvedAt == nil {
		t.Errorf("resolved alert: status=%q resolvedAt=%v", a.Status, a.ResolvedAt)
	}

	// Resolved is terminal.
	if _, err := env.manager.Resolve(ctx, a.ID, "inv-1", ResolutionConfirmedFraud); !errors.Is(err, ErrAlertResolved) {
		t.Errorf("re-resolve: got %v, want ErrAlertResolved", err)
	}
	if _, err := env.manager.StartInvestigation(ctx, a.ID, "inv-1"); !errors.Is(err, ErrAlertResolved) {
		t.Errorf("claim resolved: got %v, want ErrAlertResolved", err)
	}
}

func TestResolveDirectlyFromOpen(t *testing.T) {
	env := newTestEnv(t)
	a := openTestAlert(t, env, "tx-a2", "student-2")

	got, err := env.manager.Resolve(context.Background(), a.ID, "inv-1", ResolutionInconclusive)
	if err != nil {
		t.Fatalf("Resolve from open: %v", err)
	}
	if got.Status != StatusResolved {
		t.Errorf("status = %q, want resolved", got.Status)
	}
}

func TestConfirmedFraudFeedsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := openTestAlert(t, env, "tx-a3", "student-3")

	before, _ := env.profiles.Get(ctx, "student-3")
	if _, err := env.manager.Resolve(ctx, a.ID, "inv-1", ResolutionConfirmedFraud); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	after, _ := env.profiles.Get(ctx, "student-3")
	if after.Score <= before.Score {
		t.Errorf("confirmed fraud should raise the profile: %v -> %v", before.Score, after.Score)
	}
	if !env.registry.Contains("203.0.113.10") {
		t.Error("confirmed fraud should flag the source IP")
	}
	if !env.registry.Contains("dev-abc") {
		t.Error("confirmed fraud should flag the device")
	}
}

func TestFalsePositiveDownweights(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Record the factor the triggering transaction contributed.
	if _, err := env.profiles.RecordFactor(ctx, "student-4", profileFactor("tx-a4", 20)); err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}
	before, _ := env.profiles.Get(ctx, "student-4")

	a := openTestAlert(t, env, "tx-a4", "student-4")
	if _, err := env.manager.Resolve(ctx, a.ID, "inv-1", ResolutionFalsePositive); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	after, _ := env.profiles.Get(ctx, "student-4")
	if after.Score >= before.Score {
		t.Errorf("false positive should lower the profile: %v -> %v", before.Score, after.Score)
	}
}

func TestResolveValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := openTestAlert(t, env, "tx-a5", "student-5")

	if _, err := env.manager.Resolve(ctx, a.ID, "", ResolutionInconclusive); !errors.Is(err, ErrMissingInvestigator) {
		t.Errorf("empty investigator: got %v", err)
	}
	if _, err := env.manager.Resolve(ctx, a.ID, "inv-1", "maybe"); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("bad resolution: got %v", err)
	}
	if _, err := env.manager.Resolve(ctx, "alr_missing", "inv-1", ResolutionInconclusive); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("unknown alert: got %v", err)
	}
}
