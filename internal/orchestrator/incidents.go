package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/syncutil"
	"github.com/scrollverse/sentinel/internal/threats"
)

var (
	ErrIncidentNotFound    = errors.New("orchestrator: incident not found")
	ErrInvalidIncident     = errors.New("orchestrator: invalid incident")
	ErrInvalidIncidentMove = errors.New("orchestrator: invalid incident status transition")
)

// IncidentStatus lifecycle: open → mitigating → resolved, forward only.
type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentMitigating IncidentStatus = "mitigating"
	IncidentResolved   IncidentStatus = "resolved"
)

var incidentRank = map[IncidentStatus]int{
	IncidentOpen:       0,
	IncidentMitigating: 1,
	IncidentResolved:   2,
}

// Incident is a manually tracked security incident: a cross-cutting wrapper
// grouping the threats and fraud alerts that belong to one event, like a
// fraud ring spanning several alerts or a scraping campaign across threats.
type Incident struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Severity    threats.Severity `json:"severity"`
	Status      IncidentStatus   `json:"status"`
	ThreatIDs   []string         `json:"threatIds,omitempty"` // linked threats
	AlertIDs    []string         `json:"alertIds,omitempty"`  // linked fraud alerts
	ReportedBy  string           `json:"reportedBy"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ResolvedAt  *time.Time       `json:"resolvedAt,omitempty"`
}

// IncidentStore persists incidents.
type IncidentStore interface {
	Create(ctx context.Context, in *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	Update(ctx context.Context, in *Incident) error
	List(ctx context.Context, limit int) ([]*Incident, error)
	ListOpen(ctx context.Context) ([]*Incident, error)
	ListSince(ctx context.Context, since time.Time) ([]*Incident, error)
}

var incidentLocks syncutil.ShardedMutex

// CreateIncidentInput is the caller-supplied part of an incident.
type CreateIncidentInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Severity    threats.Severity `json:"severity"`
	ThreatIDs   []string         `json:"threatIds"`
	AlertIDs    []string         `json:"alertIds"`
	ReportedBy  string           `json:"reportedBy"`
}

// CreateIncident opens a new incident.
func (o *Orchestrator) CreateIncident(ctx context.Context, in CreateIncidentInput) (*Incident, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidIncident)
	}
	if in.ReportedBy == "" {
		return nil, fmt.Errorf("%w: reportedBy is required", ErrInvalidIncident)
	}
	switch in.Severity {
	case threats.SeverityLow, threats.SeverityMedium, threats.SeverityHigh, threats.SeverityCritical:
	case "":
		in.Severity = threats.SeverityMedium
	default:
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidIncident, in.Severity)
	}
	for _, id := range in.ThreatIDs {
		if _, err := o.threats.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: threat %s: %v", ErrInvalidIncident, id, err)
		}
	}
	for _, id := range in.AlertIDs {
		if _, err := o.alerts.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: alert %s: %v", ErrInvalidIncident, id, err)
		}
	}

	now := time.Now()
	inc := &Incident{
		ID:          idgen.WithPrefix("inc_"),
		Title:       in.Title,
		Description: in.Description,
		Severity:    in.Severity,
		Status:      IncidentOpen,
		ThreatIDs:   in.ThreatIDs,
		AlertIDs:    in.AlertIDs,
		ReportedBy:  in.ReportedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.incidents.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("orchestrator: create incident: %w", err)
	}
	if o.notifier != nil {
		o.notifier.NotifyIncident(inc)
	}
	logging.L(ctx).Info("incident opened",
		"incidentId", inc.ID, "severity", inc.Severity, "reportedBy", inc.ReportedBy)
	return inc, nil
}

// UpdateIncidentStatus moves an incident forward in its lifecycle.
func (o *Orchestrator) UpdateIncidentStatus(ctx context.Context, id string, to IncidentStatus) (*Incident, error) {
	toRank, ok := incidentRank[to]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidIncidentMove, to)
	}

	unlock := incidentLocks.Lock(id)
	defer unlock()

	inc, err := o.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if toRank <= incidentRank[inc.Status] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidIncidentMove, inc.Status, to)
	}

	now := time.Now()
	inc.Status = to
	inc.UpdatedAt = now
	if to == IncidentResolved {
		inc.ResolvedAt = &now
	}
	if err := o.incidents.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("orchestrator: update incident %s: %w", id, err)
	}
	if o.notifier != nil {
		o.notifier.NotifyIncident(inc)
	}
	return inc, nil
}

// GetIncident returns one incident.
func (o *Orchestrator) GetIncident(ctx context.Context, id string) (*Incident, error) {
	return o.incidents.Get(ctx, id)
}

// ListIncidents returns the most recent incidents.
func (o *Orchestrator) ListIncidents(ctx context.Context, limit int) ([]*Incident, error) {
	return o.incidents.List(ctx, limit)
}
