package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/scrollverse/sentinel/internal/pagination"
	"github.com/scrollverse/sentinel/internal/testutil"
)

func TestPostgresDecisionStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresDecisionStore(db)
	ctx := context.Background()

	d := &Decision{
		TransactionID: "tx-pg-1",
		UserID:        "student-1",
		Allowed:       false,
		RiskScore:     81.5,
		Reason:        ReasonRiskThreshold,
		Factors:       map[string]float64{"amount_deviation": 90, "velocity": 60, "profile": 80},
		AlertIDs:      []string{"alr_1"},
		EvaluatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Record(ctx, d); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, "tx-pg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RiskScore != d.RiskScore || got.Reason != d.Reason || got.Allowed {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Factors["velocity"] != 60 {
		t.Errorf("factors = %v", got.Factors)
	}
	if len(got.AlertIDs) != 1 || got.AlertIDs[0] != "alr_1" {
		t.Errorf("alertIds = %v", got.AlertIDs)
	}

	// Recording the same transaction again must not overwrite the original.
	dup := *d
	dup.RiskScore = 5
	if err := store.Record(ctx, &dup); err != nil {
		t.Fatalf("duplicate Record: %v", err)
	}
	got, _ = store.Get(ctx, "tx-pg-1")
	if got.RiskScore != 81.5 {
		t.Errorf("duplicate record overwrote decision: %v", got.RiskScore)
	}

	if _, err := store.Get(ctx, "tx-unknown"); !errors.Is(err, ErrDecisionNotFound) {
		t.Errorf("unknown transaction: got %v", err)
	}

	recent, err := store.ListSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("ListSince = %d decisions, want 1", len(recent))
	}
}

func TestPostgresAlertStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &FraudAlert{
		ID:                   "alr_pg_1",
		TransactionID:        "tx-pg-1",
		UserID:               "student-1",
		Severity:             SeverityHigh,
		RiskScoreAtDetection: 70,
		Status:               StatusOpen,
		Reason:               ReasonRiskThreshold,
		Metadata:             Metadata{IP: "198.51.100.1", DeviceID: "dev-1"},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "alr_pg_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Severity != SeverityHigh || got.Status != StatusOpen || got.Metadata.IP != "198.51.100.1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	resolvedAt := now.Add(time.Minute)
	got.Status = StatusResolved
	got.Resolution = ResolutionFalsePositive
	got.InvestigatorID = "inv-1"
	got.UpdatedAt = resolvedAt
	got.ResolvedAt = &resolvedAt
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ = store.Get(ctx, "alr_pg_1")
	if got.Resolution != ResolutionFalsePositive || got.ResolvedAt == nil {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := store.Update(ctx, &FraudAlert{ID: "alr_missing"}); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("update unknown alert: got %v", err)
	}
}

func TestPostgresAlertStoreCursorPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		a := &FraudAlert{
			ID:        fmt.Sprintf("alr_pg_%d", i),
			UserID:    "student-1",
			Severity:  SeverityMedium,
			Status:    StatusOpen,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	first, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first) != 2 || first[0].ID != "alr_pg_4" || first[1].ID != "alr_pg_3" {
		t.Fatalf("first page = %v", ids(first))
	}

	// Resume from the last item of the first page.
	last := first[len(first)-1]
	second, err := store.List(ctx, 2, WithCursor(pagination.Encode(last.CreatedAt, last.ID)))
	if err != nil {
		t.Fatalf("List with cursor: %v", err)
	}
	if len(second) != 2 || second[0].ID != "alr_pg_2" || second[1].ID != "alr_pg_1" {
		t.Errorf("second page = %v", ids(second))
	}
}

func ids(alerts []*FraudAlert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}
