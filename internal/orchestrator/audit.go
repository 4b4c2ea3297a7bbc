package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/fraud"
)

// AuditReport is the compliance view over a reporting window: what was
// blocked, what was investigated, how investigations concluded, and which
// incidents were handled.
type AuditReport struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	Fraud     *fraud.Report            `json:"fraud"`
	Denials   map[fraud.Reason]int     `json:"denialsByReason"`
	Outcomes  map[fraud.Resolution]int `json:"resolutionsByOutcome"`
	Incidents []*Incident              `json:"incidents"`
	// Identities labels the users appearing in the report, when a directory
	// is configured. Display only; absent entries mean an unknown user.
	Identities map[string]*Identity `json:"identities,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Audit builds the compliance report for the given lookback window.
// Unlike Dashboard, an audit report must be complete or fail: a partial
// compliance document is worse than none.
func (o *Orchestrator) Audit(ctx context.Context, window time.Duration) (*AuditReport, error) {
	end := time.Now()
	start := end.Add(-window)

	report, err := o.analytics.Report(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit fraud report: %w", err)
	}

	decided, err := o.decisions.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit decisions: %w", err)
	}
	denials := make(map[fraud.Reason]int)
	for _, d := range decided {
		if !d.Allowed {
			denials[d.Reason]++
		}
	}

	resolved, err := o.alerts.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit alerts: %w", err)
	}
	outcomes := make(map[fraud.Resolution]int)
	for _, a := range resolved {
		if a.Status == fraud.StatusResolved {
			outcomes[a.Resolution]++
		}
	}

	incidents, err := o.incidents.ListSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit incidents: %w", err)
	}

	userIDs := make([]string, 0, len(report.TopRiskUsers))
	for _, u := range report.TopRiskUsers {
		userIDs = append(userIDs, u.UserID)
	}

	return &AuditReport{
		WindowStart: start,
		WindowEnd:   end,
		Fraud:       report,
		Denials:     denials,
		Outcomes:    outcomes,
		Incidents:   incidents,
		Identities:  o.identify(ctx, userIDs),
		GeneratedAt: end,
	}, nil
}
