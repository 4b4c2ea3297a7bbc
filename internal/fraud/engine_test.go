package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/registry"
)

type testEnv struct {
	engine    *Engine
	profiles  *profile.Manager
	registry  *registry.Registry
	decisions *MemoryDecisionStore
	alerts    *MemoryAlertStore
	manager   *AlertManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	profiles := profile.NewManager(profile.NewMemoryStore())
	reg := registry.New(registry.NewMemoryStore())
	decisions := NewMemoryDecisionStore()
	alerts := NewMemoryAlertStore()
	manager := NewAlertManager(DefaultAlertManagerConfig(), alerts, profiles, reg)
	engine := NewEngine(DefaultEngineConfig(), profiles, reg, decisions, manager)
	return &testEnv{
		engine:    engine,
		profiles:  profiles,
		registry:  reg,
		decisions: decisions,
		alerts:    alerts,
		manager:   manager,
	}
}

func testTx(id, from string, amount float64) *Transaction {
	return &Transaction{
		ID:       id,
		FromUser: from,
		ToUser:   "tutor-1",
		Amount:   amount,
		Type:     TxTransfer,
		Metadata: Metadata{IP: "203.0.113.10", DeviceID: "dev-abc"},
	}
}

func TestValidateAllowsLowRiskTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.profiles.Get(ctx, "student-1")
	if err != nil {
		t.Fatalf("Get profile: %v", err)
	}

	d, err := env.engine.ValidateTransaction(ctx, testTx("tx-1", "student-1", 50))
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed, got denied with reason %q", d.Reason)
	}
	if d.Reason != "" {
		t.Errorf("allowed decision should have empty reason, got %q", d.Reason)
	}
	if d.RiskScore < 0 || d.RiskScore > 100 {
		t.Errorf("score out of range: %v", d.RiskScore)
	}

	after, err := env.profiles.Get(ctx, "student-1")
	if err != nil {
		t.Fatalf("Get profile: %v", err)
	}
	if after.Score <= before.Score {
		t.Errorf("profile score should rise slightly after evaluation: before=%v after=%v",
			before.Score, after.Score)
	}
	if after.Score > 5 {
		t.Errorf("clean transaction moved profile too much: %v", after.Score)
	}

	alerts, _ := env.alerts.List(ctx, 10)
	if len(alerts) != 0 {
		t.Errorf("low-risk transaction should not open alerts, got %d", len(alerts))
	}
}

func TestVelocityCapDeniesRegardlessOfAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cap := env.engine.cfg.VelocityCap

	for i := 1; i <= cap; i++ {
		d, err := env.engine.ValidateTransaction(ctx, testTx(fmt.Sprintf("tx-%d", i), "student-2", 1))
		if err != nil {
			t.Fatalf("tx %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("tx %d under cap should be allowed, denied with %q (score %v)", i, d.Reason, d.RiskScore)
		}
	}

	d, err := env.engine.ValidateTransaction(ctx, testTx("tx-over", "student-2", 0.01))
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if d.Allowed {
		t.Fatal("transaction over velocity cap should be denied")
	}
	if d.Reason != ReasonHighVelocity {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonHighVelocity)
	}

	alerts, _ := env.alerts.ListSince(ctx, time.Time{})
	found := false
	for _, a := range alerts {
		if a.TransactionID == "tx-over" {
			found = true
			if a.Severity != SeverityCritical {
				t.Errorf("velocity override alert severity = %q, want critical", a.Severity)
			}
		}
	}
	if !found {
		t.Error("velocity denial should open an alert")
	}
}

func TestRegistryHardBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.registry.Add(ctx, "198.51.100.7", registry.KindIP, "threat-feed"); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}

	tx := testTx("tx-blocked", "student-3", 10)
	tx.Metadata.IP = "198.51.100.7"
	d, err := env.engine.ValidateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if d.Allowed {
		t.Fatal("flagged IP should hard-block the transaction")
	}
	if d.Reason != ReasonSuspiciousSource {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonSuspiciousSource)
	}

	// Flagged device blocks too, even with a clean IP.
	if _, err := env.registry.Add(ctx, "dev-evil", registry.KindDevice, "threat-feed"); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	tx2 := testTx("tx-blocked-2", "student-3", 10)
	tx2.Metadata.DeviceID = "dev-evil"
	d2, err := env.engine.ValidateTransaction(ctx, tx2)
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if d2.Allowed || d2.Reason != ReasonSuspiciousSource {
		t.Errorf("flagged device: allowed=%v reason=%q", d2.Allowed, d2.Reason)
	}
}

func TestAmountDeviationRaisesScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := env.engine.ValidateTransaction(ctx, testTx(fmt.Sprintf("hx-%d", i), "student-4", 5)); err != nil {
			t.Fatalf("history tx: %v", err)
		}
	}

	d, err := env.engine.ValidateTransaction(ctx, testTx("tx-big", "student-4", 5000))
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if d.Factors["amount_deviation"] != 100 {
		t.Errorf("1000x median should saturate amount factor, got %v", d.Factors["amount_deviation"])
	}
	if d.RiskScore < env.engine.cfg.AlertThreshold {
		t.Errorf("huge deviation should at least cross the alert threshold, score=%v", d.RiskScore)
	}

	alerts, _ := env.alerts.ListSince(ctx, time.Time{})
	if len(alerts) == 0 {
		t.Error("expected an alert for the deviant transaction")
	}
}

func TestIdempotentEvaluation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tx := testTx("tx-once", "student-5", 50)
	first, err := env.engine.ValidateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	profAfterFirst, _ := env.profiles.Get(ctx, "student-5")

	second, err := env.engine.ValidateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.RiskScore != first.RiskScore || second.Allowed != first.Allowed {
		t.Errorf("retry returned a different decision: first=%+v second=%+v", first, second)
	}
	if !second.EvaluatedAt.Equal(first.EvaluatedAt) {
		t.Error("retry should return the recorded decision, not re-evaluate")
	}

	// The retry must not re-count velocity or move the profile.
	profAfterSecond, _ := env.profiles.Get(ctx, "student-5")
	if profAfterSecond.Score != profAfterFirst.Score {
		t.Errorf("retry moved the profile: %v -> %v", profAfterFirst.Score, profAfterSecond.Score)
	}
	count, _ := env.engine.velocity.hit("student-5", 0, time.Now())
	if count != 2 { // tx-once + this hit
		t.Errorf("velocity window holds %d entries, want 2", count)
	}
}

type failingProfileStore struct{}

func (failingProfileStore) Get(context.Context, string) (*profile.RiskProfile, error) {
	return nil, errors.New("connection refused")
}
func (failingProfileStore) Save(context.Context, *profile.RiskProfile) error {
	return errors.New("connection refused")
}
func (failingProfileStore) ListTop(context.Context, int) ([]*profile.RiskProfile, error) {
	return nil, errors.New("connection refused")
}

func TestFailClosedWhenProfileStoreDown(t *testing.T) {
	profiles := profile.NewManager(failingProfileStore{})
	reg := registry.New(registry.NewMemoryStore())
	decisions := NewMemoryDecisionStore()
	manager := NewAlertManager(DefaultAlertManagerConfig(), NewMemoryAlertStore(), profiles, reg)
	engine := NewEngine(DefaultEngineConfig(), profiles, reg, decisions, manager)

	d, err := engine.ValidateTransaction(context.Background(), testTx("tx-down", "student-6", 50))
	if err != nil {
		t.Fatalf("fail-closed path must not return an error, got %v", err)
	}
	if d.Allowed {
		t.Fatal("engine must deny when the profile store is unreachable")
	}
	if d.Reason != ReasonDependencyUnavailable {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonDependencyUnavailable)
	}

	// Not recorded, so the transaction can be retried after recovery.
	if _, err := decisions.Get(context.Background(), "tx-down"); !errors.Is(err, ErrDecisionNotFound) {
		t.Errorf("fail-closed decision should not be recorded, got %v", err)
	}
}

func TestMalformedTransactionRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []*Transaction{
		{FromUser: "a", ToUser: "b", Amount: 1, Type: TxTransfer},         // no ID
		{ID: "x", ToUser: "b", Amount: 1, Type: TxTransfer},               // no sender
		{ID: "x", FromUser: "a", ToUser: "b", Amount: 0, Type: TxTransfer}, // zero amount
		{ID: "x", FromUser: "a", ToUser: "b", Amount: -5, Type: TxTransfer},
		{ID: "x", FromUser: "a", ToUser: "b", Amount: 1, Type: "loan"},
	}
	for i, tx := range cases {
		if _, err := env.engine.ValidateTransaction(ctx, tx); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{5}, 5},
		{[]float64{1, 3}, 2},
		{[]float64{9, 1, 5}, 5},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tc := range cases {
		if got := median(tc.in); got != tc.want {
			t.Errorf("median(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
