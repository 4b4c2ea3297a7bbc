// Package orchestrator ties the security engines together into one
// operational surface: overall posture, the operations dashboard, read-only
// security scans, incident tracking, and compliance audit reports. It owns no
// detection logic of its own; it aggregates and coordinates.
package orchestrator

import (
	"context"
	"time"

	"github.com/scrollverse/sentinel/internal/fraud"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/policy"
	"github.com/scrollverse/sentinel/internal/profile"
	"github.com/scrollverse/sentinel/internal/registry"
	"github.com/scrollverse/sentinel/internal/threats"
)

// Orchestrator aggregates the security engines.
type Orchestrator struct {
	analytics *fraud.Analytics
	decisions fraud.DecisionStore
	alerts    fraud.AlertStore
	threats   *threats.Engine
	policies  *policy.Engine
	profiles  *profile.Manager
	registry  *registry.Registry
	incidents IncidentStore
	notifier  IncidentNotifier
	directory Directory
}

// IncidentNotifier receives incident lifecycle changes. The realtime bridge
// implements it.
type IncidentNotifier interface {
	NotifyIncident(*Incident)
}

// New wires a security orchestrator.
func New(
	analytics *fraud.Analytics,
	decisions fraud.DecisionStore,
	alerts fraud.AlertStore,
	threatEngine *threats.Engine,
	policyEngine *policy.Engine,
	profiles *profile.Manager,
	reg *registry.Registry,
	incidents IncidentStore,
) *Orchestrator {
	return &Orchestrator{
		analytics: analytics,
		decisions: decisions,
		alerts:    alerts,
		threats:   threatEngine,
		policies:  policyEngine,
		profiles:  profiles,
		registry:  reg,
		incidents: incidents,
	}
}

// WithNotifier attaches a sink for incident lifecycle changes.
func (o *Orchestrator) WithNotifier(n IncidentNotifier) *Orchestrator {
	o.notifier = n
	return o
}

// Posture is the coarse overall status.
type Posture string

const (
	PostureOK       Posture = "ok"
	PostureElevated Posture = "elevated"
	PostureCritical Posture = "critical"
)

// Status is the lightweight health view of the security layer.
type Status struct {
	Posture         Posture          `json:"posture"`
	ActiveThreats   int              `json:"activeThreats"`
	ResolvedThreats int              `json:"resolvedThreats"`
	HighestSeverity threats.Severity `json:"highestSeverity,omitempty"`
	ActivePolicies  int              `json:"activePolicies"`
	OpenIncidents   int              `json:"openIncidents"`
	RegistrySize    int              `json:"registrySize"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}

// Status summarizes the current security posture. Critical when a critical
// threat is active, elevated when anything is active or an incident is open.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	summary, err := o.threats.Status(ctx)
	if err != nil {
		return nil, err
	}
	open, err := o.incidents.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	policies, err := o.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := 0
	for _, p := range policies {
		if p.Enabled {
			enabled++
		}
	}

	s := &Status{
		ActiveThreats:   summary.Active,
		ResolvedThreats: summary.ByStatus[threats.StatusResolved],
		HighestSeverity: summary.Highest,
		ActivePolicies:  enabled,
		OpenIncidents:   len(open),
		RegistrySize:    o.registry.Len(),
		GeneratedAt:     time.Now(),
	}
	switch {
	case summary.Highest == threats.SeverityCritical:
		s.Posture = PostureCritical
	case summary.Active > 0 || len(open) > 0:
		s.Posture = PostureElevated
	default:
		s.Posture = PostureOK
	}
	return s, nil
}

// Dashboard is the full operations view. Sections are built independently:
// one failing engine leaves its section nil and is reported in Errors rather
// than taking the whole dashboard down.
type Dashboard struct {
	Overview   *Status            `json:"overview,omitempty"`
	Threats    *threats.Summary   `json:"threats,omitempty"`
	Compliance *ComplianceSection `json:"compliance,omitempty"`
	Fraud      *fraud.Report      `json:"fraud,omitempty"`
	Content    *ContentSection    `json:"content,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// ComplianceSection is the policy-and-incident view: how much of the platform
// is under an enabled policy and what is currently being handled.
type ComplianceSection struct {
	TotalPolicies   int         `json:"totalPolicies"`
	EnabledPolicies int         `json:"enabledPolicies"`
	OpenIncidents   []*Incident `json:"openIncidents,omitempty"`
}

// ContentSection summarizes abuse aimed at the platform's content surface:
// course material scraping and volumetric request floods still active.
type ContentSection struct {
	ScrapingActive   int `json:"scrapingActive"`
	VolumetricActive int `json:"volumetricActive"`
}

// Dashboard builds the operations dashboard over the given fraud window.
func (o *Orchestrator) Dashboard(ctx context.Context, window time.Duration) *Dashboard {
	log := logging.L(ctx)
	d := &Dashboard{}

	if st, err := o.Status(ctx); err != nil {
		log.Error("dashboard: overview section failed", "error", err)
		d.Errors = append(d.Errors, "overview unavailable")
	} else {
		d.Overview = st
	}

	if summary, err := o.threats.Status(ctx); err != nil {
		log.Error("dashboard: threats section failed", "error", err)
		d.Errors = append(d.Errors, "threat summary unavailable")
	} else {
		d.Threats = summary
	}

	if policies, err := o.policies.List(ctx); err != nil {
		log.Error("dashboard: compliance section failed", "error", err)
		d.Errors = append(d.Errors, "policies unavailable")
	} else {
		section := &ComplianceSection{TotalPolicies: len(policies)}
		for _, p := range policies {
			if p.Enabled {
				section.EnabledPolicies++
			}
		}
		if open, err := o.incidents.ListOpen(ctx); err != nil {
			log.Error("dashboard: compliance incidents failed", "error", err)
			d.Errors = append(d.Errors, "incidents unavailable")
		} else {
			section.OpenIncidents = open
		}
		d.Compliance = section
	}

	if report, err := o.analytics.Report(ctx, window); err != nil {
		log.Error("dashboard: fraud section failed", "error", err)
		d.Errors = append(d.Errors, "fraud analytics unavailable")
	} else {
		d.Fraud = report
	}

	if active, err := o.threats.ListActive(ctx); err != nil {
		log.Error("dashboard: content section failed", "error", err)
		d.Errors = append(d.Errors, "content summary unavailable")
	} else {
		section := &ContentSection{}
		for _, t := range active {
			switch t.Type {
			case threats.TypeDataScraping:
				section.ScrapingActive++
			case threats.TypeVolumetricAbuse:
				section.VolumetricActive++
			}
		}
		d.Content = section
	}

	return d
}
