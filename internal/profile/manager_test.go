package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetCreatesZeroProfile(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	p, err := m.Get(ctx, "student-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Score != 0 {
		t.Errorf("new profile score = %v, want 0", p.Score)
	}
	if p.Level != LevelLow {
		t.Errorf("new profile level = %q, want low", p.Level)
	}

	// Second Get returns the same persisted profile, not a fresh one.
	p2, err := m.Get(ctx, "student-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p2.CreatedAt.Equal(p.CreatedAt) {
		t.Error("Get should not recreate an existing profile")
	}
}

func TestRecordFactorRaisesScore(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	p, err := m.RecordFactor(ctx, "student-1", Factor{
		Type: "transaction_risk", Weight: 30, Source: "tx-1",
	})
	if err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}
	// A fresh factor has essentially no decay yet.
	if p.Score < 29.9 || p.Score > 30 {
		t.Errorf("score = %v, want ~30", p.Score)
	}
	if p.Level != LevelMedium {
		t.Errorf("level = %q, want medium", p.Level)
	}
	if len(p.Factors) != 1 || p.Factors[0].ID == "" {
		t.Errorf("factor should be recorded with a generated ID: %+v", p.Factors)
	}
}

func TestBandBoundaries(t *testing.T) {
	b := DefaultBands()
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{24.99, LevelLow},
		{25, LevelMedium},
		{49.99, LevelMedium},
		{50, LevelHigh},
		{74.99, LevelHigh},
		{75, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		if got := b.Level(tc.score); got != tc.want {
			t.Errorf("Level(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestHalfLifeDecay(t *testing.T) {
	m := NewManager(NewMemoryStore()).WithDecay(30*24*time.Hour, 7*24*time.Hour)
	ctx := context.Background()

	// A factor exactly one half-life old contributes half its weight.
	p, err := m.RecordFactor(ctx, "student-1", Factor{
		Type:      "transaction_risk",
		Weight:    40,
		Source:    "tx-1",
		CreatedAt: time.Now().Add(-7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}
	if p.Score < 19.9 || p.Score > 20.1 {
		t.Errorf("score after one half-life = %v, want ~20", p.Score)
	}
}

func TestDecayWindowExpiresFactors(t *testing.T) {
	m := NewManager(NewMemoryStore()).WithDecay(30*24*time.Hour, 7*24*time.Hour)
	ctx := context.Background()

	p, err := m.RecordFactor(ctx, "student-1", Factor{
		Type:      "transaction_risk",
		Weight:    40,
		Source:    "tx-old",
		CreatedAt: time.Now().Add(-31 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}
	if p.Score != 0 {
		t.Errorf("expired factor should not contribute: score = %v", p.Score)
	}
	// The factor stays on record for audit.
	if len(p.Factors) != 1 {
		t.Errorf("expired factor should remain on record: %+v", p.Factors)
	}
}

func TestDownweight(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := m.RecordFactor(ctx, "student-1", Factor{
		Type: "transaction_risk", Weight: 40, Source: "tx-1",
	}); err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}
	if _, err := m.RecordFactor(ctx, "student-1", Factor{
		Type: "transaction_risk", Weight: 20, Source: "tx-2",
	}); err != nil {
		t.Fatalf("RecordFactor: %v", err)
	}

	p, err := m.Downweight(ctx, "student-1", "tx-1", 0.25)
	if err != nil {
		t.Fatalf("Downweight: %v", err)
	}
	// 40*0.25 + 20 = 30, modulo negligible decay.
	if p.Score < 29.9 || p.Score > 30 {
		t.Errorf("score after downweight = %v, want ~30", p.Score)
	}
	for _, f := range p.Factors {
		if f.Source == "tx-1" {
			if !f.Downweighted() || f.OriginalWeight != 40 || f.Weight != 10 {
				t.Errorf("tx-1 factor not downweighted correctly: %+v", f)
			}
		}
		if f.Source == "tx-2" && f.Downweighted() {
			t.Errorf("tx-2 factor should be untouched: %+v", f)
		}
	}

	// Downweighting again is a no-op.
	p2, err := m.Downweight(ctx, "student-1", "tx-1", 0.25)
	if err != nil {
		t.Fatalf("Downweight: %v", err)
	}
	if p2.Score != p.Score {
		t.Errorf("repeat downweight changed score: %v -> %v", p.Score, p2.Score)
	}
}

func TestScoreClampedAt100(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	var p *RiskProfile
	var err error
	for i := 0; i < 5; i++ {
		p, err = m.RecordFactor(ctx, "student-1", Factor{
			Type: "confirmed_fraud", Weight: 40, Source: fmt.Sprintf("alr_%d", i),
		})
		if err != nil {
			t.Fatalf("RecordFactor: %v", err)
		}
	}
	if p.Score != 100 {
		t.Errorf("score = %v, want clamped to 100", p.Score)
	}
	if p.Level != LevelCritical {
		t.Errorf("level = %q, want critical", p.Level)
	}
}

func TestConcurrentRecordFactor(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := m.RecordFactor(ctx, "student-1", Factor{
				Type: "transaction_risk", Weight: 1, Source: fmt.Sprintf("tx-%d", i),
			}); err != nil {
				t.Errorf("RecordFactor: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, err := m.Get(ctx, "student-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// No factor may be lost to an interleaved read-modify-write.
	if len(p.Factors) != n {
		t.Errorf("factors = %d, want %d", len(p.Factors), n)
	}
}

func TestTopRiskOrdering(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	weights := map[string]float64{"a": 10, "b": 60, "c": 35}
	for user, w := range weights {
		if _, err := m.RecordFactor(ctx, user, Factor{
			Type: "transaction_risk", Weight: w, Source: "tx-" + user,
		}); err != nil {
			t.Fatalf("RecordFactor: %v", err)
		}
	}

	top, err := m.TopRisk(ctx, 2)
	if err != nil {
		t.Fatalf("TopRisk: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "b" || top[1].UserID != "c" {
		got := make([]string, len(top))
		for i, p := range top {
			got[i] = p.UserID
		}
		t.Errorf("TopRisk order = %v, want [b c]", got)
	}
}
