package fraud

import (
	"sort"
	"sync"
	"time"
)

// velocityTracker counts recent transactions per sender inside a rolling
// window and keeps the amounts for median-deviation scoring. Prune, append
// and count happen under one per-user lock so concurrent evaluations for the
// same sender cannot both observe a count below the cap when the combined
// total exceeds it.
type velocityTracker struct {
	window time.Duration
	mu     sync.Mutex
	users  map[string]*userWindow
}

type userWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

type windowEntry struct {
	at     time.Time
	amount float64
}

func newVelocityTracker(window time.Duration) *velocityTracker {
	return &velocityTracker{
		window: window,
		users:  make(map[string]*userWindow),
	}
}

// hit records one transaction and returns the count inside the window
// including this one, plus a copy of the prior amounts for history scoring.
func (v *velocityTracker) hit(userID string, amount float64, now time.Time) (count int, priorAmounts []float64) {
	v.mu.Lock()
	w, ok := v.users[userID]
	if !ok {
		w = &userWindow{}
		v.users[userID] = w
	}
	v.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-v.window)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept

	priorAmounts = make([]float64, 0, len(w.entries))
	for _, e := range w.entries {
		priorAmounts = append(priorAmounts, e.amount)
	}

	w.entries = append(w.entries, windowEntry{at: now, amount: amount})
	return len(w.entries), priorAmounts
}

// median returns the median of amounts, 0 for an empty slice.
func median(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
