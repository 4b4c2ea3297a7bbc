package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/threats"
)

// Finding is one observation from a security scan.
type Finding struct {
	Kind     string           `json:"kind"` // high_risk_user, active_threat, stale_incident
	Severity threats.Severity `json:"severity"`
	Subject  string           `json:"subject"`
	Display  string           `json:"displayName,omitempty"` // directory label for user subjects
	Detail   string           `json:"detail"`
}

// ScanReport is the outcome of one read-only sweep.
type ScanReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Findings   []Finding `json:"findings"`
	Checked    []string  `json:"checked"` // sections that completed
	Errors     []string  `json:"errors,omitempty"`
}

// staleIncidentAge flags incidents that have sat open too long.
const staleIncidentAge = 72 * time.Hour

// Scan sweeps the current state for conditions an operator should look at.
// Strictly read-only: it never mutates profiles, threats, or incidents.
// Each check runs independently; one failing check is reported and the rest
// still run.
func (o *Orchestrator) Scan(ctx context.Context) *ScanReport {
	log := logging.L(ctx)
	r := &ScanReport{StartedAt: time.Now()}

	if top, err := o.profiles.TopRisk(ctx, 25); err != nil {
		log.Error("scan: profile check failed", "error", err)
		r.Errors = append(r.Errors, "profiles: "+err.Error())
	} else {
		var flagged []*profile.RiskProfile
		for _, p := range top {
			if p.Level == profile.LevelHigh || p.Level == profile.LevelCritical {
				flagged = append(flagged, p)
			}
		}
		userIDs := make([]string, 0, len(flagged))
		for _, p := range flagged {
			userIDs = append(userIDs, p.UserID)
		}
		idents := o.identify(ctx, userIDs)
		for _, p := range flagged {
			severity := threats.SeverityHigh
			if p.Level == profile.LevelCritical {
				severity = threats.SeverityCritical
			}
			f := Finding{
				Kind:     "high_risk_user",
				Severity: severity,
				Subject:  p.UserID,
				Detail:   fmt.Sprintf("risk score %.2f (%s)", p.Score, p.Level),
			}
			if ident, ok := idents[p.UserID]; ok {
				f.Display = ident.DisplayName
			}
			r.Findings = append(r.Findings, f)
		}
		r.Checked = append(r.Checked, "profiles")
	}

	if summary, err := o.threats.Status(ctx); err != nil {
		log.Error("scan: threat check failed", "error", err)
		r.Errors = append(r.Errors, "threats: "+err.Error())
	} else {
		if n := summary.BySeverity[threats.SeverityCritical]; n > 0 {
			r.Findings = append(r.Findings, Finding{
				Kind:     "active_threat",
				Severity: threats.SeverityCritical,
				Subject:  "threats",
				Detail:   fmt.Sprintf("%d critical threats active", n),
			})
		}
		r.Checked = append(r.Checked, "threats")
	}

	if open, err := o.incidents.ListOpen(ctx); err != nil {
		log.Error("scan: incident check failed", "error", err)
		r.Errors = append(r.Errors, "incidents: "+err.Error())
	} else {
		cutoff := time.Now().Add(-staleIncidentAge)
		for _, inc := range open {
			if inc.CreatedAt.Before(cutoff) {
				r.Findings = append(r.Findings, Finding{
					Kind:     "stale_incident",
					Severity: inc.Severity,
					Subject:  inc.ID,
					Detail:   fmt.Sprintf("open since %s", inc.CreatedAt.Format(time.RFC3339)),
				})
			}
		}
		r.Checked = append(r.Checked, "incidents")
	}

	r.FinishedAt = time.Now()
	return r
}
