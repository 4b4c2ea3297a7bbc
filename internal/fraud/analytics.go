package fraud

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/scrollverse/sentinel/internal/profile"
)

// Report is an aggregate view over a recent window, served to the
// operations dashboard.
type Report struct {
	WindowStart         time.Time     `json:"windowStart"`
	WindowEnd           time.Time     `json:"windowEnd"`
	TotalTransactions   int           `json:"totalTransactions"`
	BlockedTransactions int           `json:"blockedTransactions"`
	AverageRiskScore    float64       `json:"averageRiskScore"`
	TotalAlerts         int           `json:"totalAlerts"`
	OpenAlerts          int           `json:"openAlerts"`
	ResolvedAlerts      int           `json:"resolvedAlerts"`
	FalsePositiveRate   float64       `json:"falsePositiveRate"`
	TopRiskUsers        []TopRiskUser `json:"topRiskUsers"`
}

// TopRiskUser is a dashboard row for the highest-risk senders.
type TopRiskUser struct {
	UserID string        `json:"userId"`
	Score  float64       `json:"riskScore"`
	Level  profile.Level `json:"riskLevel"`
}

// Analytics aggregates decisions, alerts, and profiles into reports.
type Analytics struct {
	decisions DecisionStore
	alerts    AlertStore
	profiles  *profile.Manager
	topLimit  int
}

// NewAnalytics wires an analytics reporter.
func NewAnalytics(decisions DecisionStore, alerts AlertStore, profiles *profile.Manager) *Analytics {
	return &Analytics{
		decisions: decisions,
		alerts:    alerts,
		profiles:  profiles,
		topLimit:  10,
	}
}

// Report builds the aggregate view for the given lookback window.
//
// The false positive rate is the share of alerts resolved inside the window
// whose resolution was false_positive. With zero resolved alerts the rate is
// 0, never NaN.
func (a *Analytics) Report(ctx context.Context, window time.Duration) (*Report, error) {
	end := time.Now()
	start := end.Add(-window)

	decisions, err := a.decisions.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("fraud: analytics decisions: %w", err)
	}
	alerts, err := a.alerts.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("fraud: analytics alerts: %w", err)
	}

	r := &Report{
		WindowStart:       start,
		WindowEnd:         end,
		TotalTransactions: len(decisions),
		TotalAlerts:       len(alerts),
	}

	var scoreSum float64
	for _, d := range decisions {
		scoreSum += d.RiskScore
		if !d.Allowed {
			r.BlockedTransactions++
		}
	}
	if len(decisions) > 0 {
		r.AverageRiskScore = round2(scoreSum / float64(len(decisions)))
	}

	var falsePositives int
	for _, al := range alerts {
		switch al.Status {
		case StatusOpen, StatusInvestigating:
			r.OpenAlerts++
		case StatusResolved:
			r.ResolvedAlerts++
			if al.Resolution == ResolutionFalsePositive {
				falsePositives++
			}
		}
	}
	if r.ResolvedAlerts > 0 {
		r.FalsePositiveRate = float64(falsePositives) / float64(r.ResolvedAlerts)
	}

	top, err := a.profiles.TopRisk(ctx, a.topLimit)
	if err != nil {
		return nil, fmt.Errorf("fraud: analytics top risk: %w", err)
	}
	r.TopRiskUsers = make([]TopRiskUser, 0, len(top))
	for _, p := range top {
		r.TopRiskUsers = append(r.TopRiskUsers, TopRiskUser{
			UserID: p.UserID,
			Score:  p.Score,
			Level:  p.Level,
		})
	}
	return r, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
