package threats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *Publisher) {
	t.Helper()
	pub := NewPublisher(64)
	t.Cleanup(pub.Close)
	return NewEngine(NewMemoryStore(), pub), pub
}

func TestDetectAssignsBaseSeverity(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		typ  Type
		want Severity
	}{
		{TypeDataScraping, SeverityLow},
		{TypeBruteForce, SeverityMedium},
		{TypeCredentialStuffing, SeverityHigh},
		{TypeAccountTakeover, SeverityCritical},
		{Type("something_new"), SeverityMedium},
	}
	for _, tc := range cases {
		th, err := engine.Detect(ctx, DetectInput{Type: tc.typ, Source: "198.51.100.1"})
		if err != nil {
			t.Fatalf("Detect(%s): %v", tc.typ, err)
		}
		if th.Severity != tc.want {
			t.Errorf("Detect(%s) severity = %q, want %q", tc.typ, th.Severity, tc.want)
		}
		if th.Status != StatusDetected {
			t.Errorf("new threat status = %q, want detected", th.Status)
		}
	}
}

func TestVolumetricEscalation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// At the threshold: one step up.
	th, err := engine.Detect(ctx, DetectInput{
		Type:    TypeBruteForce,
		Source:  "198.51.100.2",
		Details: map[string]any{"requestCount": float64(DefaultVolumetricThreshold)},
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if th.Severity != SeverityHigh {
		t.Errorf("escalated severity = %q, want high", th.Severity)
	}

	// Below the threshold: baseline.
	th, err = engine.Detect(ctx, DetectInput{
		Type:    TypeBruteForce,
		Source:  "198.51.100.3",
		Details: map[string]any{"requestCount": float64(DefaultVolumetricThreshold - 1)},
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if th.Severity != SeverityMedium {
		t.Errorf("sub-threshold severity = %q, want medium", th.Severity)
	}

	// Critical does not escalate past critical.
	th, err = engine.Detect(ctx, DetectInput{
		Type:    TypeAccountTakeover,
		Source:  "198.51.100.4",
		Details: map[string]any{"requestCount": 50000},
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if th.Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical", th.Severity)
	}
}

func TestDetectValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Detect(ctx, DetectInput{Source: "x"}); !errors.Is(err, ErrInvalidThreat) {
		t.Errorf("missing type: got %v", err)
	}
	if _, err := engine.Detect(ctx, DetectInput{Type: TypeBruteForce}); !errors.Is(err, ErrInvalidThreat) {
		t.Errorf("missing source: got %v", err)
	}
}

func TestForwardOnlyTransitions(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	th, err := engine.Detect(ctx, DetectInput{Type: TypeBruteForce, Source: "198.51.100.5"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	th, err = engine.Transition(ctx, th.ID, StatusAcknowledged, "op-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if th.Handler != "op-1" {
		t.Errorf("handler = %q, want op-1", th.Handler)
	}

	// Skipping ahead is allowed.
	th, err = engine.Transition(ctx, th.ID, StatusResolved, "op-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if th.ResolvedAt == nil {
		t.Error("resolved threat should carry resolvedAt")
	}

	// Backwards and repeat moves are rejected.
	if _, err := engine.Transition(ctx, th.ID, StatusInvestigating, "op-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("backwards: got %v, want ErrInvalidTransition", err)
	}
	if _, err := engine.Transition(ctx, th.ID, StatusResolved, "op-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("repeat: got %v, want ErrInvalidTransition", err)
	}
	if _, err := engine.Transition(ctx, th.ID, Status("archived"), "op-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown status: got %v, want ErrInvalidTransition", err)
	}
	if _, err := engine.Transition(ctx, "thr_missing", StatusResolved, "op-1"); !errors.Is(err, ErrThreatNotFound) {
		t.Errorf("unknown threat: got %v, want ErrThreatNotFound", err)
	}
}

func TestStatusAggregation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, _ := engine.Detect(ctx, DetectInput{Type: TypeDataScraping, Source: "s1"})
	engine.Detect(ctx, DetectInput{Type: TypeCredentialStuffing, Source: "s2"})
	engine.Detect(ctx, DetectInput{Type: TypeAccountTakeover, Source: "s3"})
	if _, err := engine.Transition(ctx, a.ID, StatusResolved, "op-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.Total != 3 || s.Active != 2 {
		t.Errorf("total=%d active=%d, want 3/2", s.Total, s.Active)
	}
	if s.Highest != SeverityCritical {
		t.Errorf("highest = %q, want critical", s.Highest)
	}
	if s.BySeverity[SeverityLow] != 0 {
		t.Errorf("resolved threat still counted active: %v", s.BySeverity)
	}
	if s.ByStatus[StatusResolved] != 1 {
		t.Errorf("byStatus = %v", s.ByStatus)
	}
}

func TestEventsDeliveredInOrder(t *testing.T) {
	pub := NewPublisher(8)
	engine := NewEngine(NewMemoryStore(), pub)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	pub.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, fmt.Sprintf("%s:%s", e.Type, e.Threat.Status))
		mu.Unlock()
	})

	th, err := engine.Detect(ctx, DetectInput{Type: TypeBruteForce, Source: "s1"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, st := range []Status{StatusAcknowledged, StatusInvestigating, StatusResolved} {
		if _, err := engine.Transition(ctx, th.ID, st, "op-1"); err != nil {
			t.Fatalf("Transition(%s): %v", st, err)
		}
	}
	pub.Close() // drains the queue

	want := []string{
		"threat.detected:detected",
		"threat.status_changed:acknowledged",
		"threat.status_changed:investigating",
		"threat.status_changed:resolved",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	pub := NewPublisher(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var delivered int32
	pub.Subscribe(func(Event) {
		once.Do(func() { close(started) })
		<-release
		atomic.AddInt32(&delivered, 1)
	})

	// First event: taken by the worker, which parks in the subscriber.
	pub.Publish(Event{Type: EventDetected})
	<-started
	// Second event fills the queue; the third has nowhere to go.
	pub.Publish(Event{Type: EventDetected})

	returned := make(chan struct{})
	go func() {
		pub.Publish(Event{Type: EventDetected})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	close(release)
	pub.Close()
	if n := atomic.LoadInt32(&delivered); n != 2 {
		t.Errorf("delivered %d events, want 2 (third dropped)", n)
	}
}

func TestSlowSubscriberDoesNotBlockDetection(t *testing.T) {
	pub := NewPublisher(64)
	defer pub.Close()
	engine := NewEngine(NewMemoryStore(), pub)

	pub.Subscribe(func(Event) { time.Sleep(20 * time.Millisecond) })

	start := time.Now()
	for i := 0; i < 10; i++ {
		if _, err := engine.Detect(context.Background(), DetectInput{
			Type: TypeBruteForce, Source: fmt.Sprintf("s%d", i),
		}); err != nil {
			t.Fatalf("Detect: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("detection path blocked on slow subscriber: %v", elapsed)
	}
}
