package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scrollverse/sentinel/internal/threats"
)

// PostgresIncidentStore persists incidents in PostgreSQL.
type PostgresIncidentStore struct {
	db *sql.DB
}

// NewPostgresIncidentStore creates a PostgreSQL-backed incident store.
func NewPostgresIncidentStore(db *sql.DB) *PostgresIncidentStore {
	return &PostgresIncidentStore{db: db}
}

const incidentColumns = `id, title, description, severity, status, threat_ids,
	alert_ids, reported_by, created_at, updated_at, resolved_at`

func (s *PostgresIncidentStore) Create(ctx context.Context, in *Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, in.ID, in.Title, in.Description, string(in.Severity), string(in.Status),
		pq.Array(in.ThreatIDs), pq.Array(in.AlertIDs),
		in.ReportedBy, in.CreatedAt, in.UpdatedAt, in.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

func (s *PostgresIncidentStore) Get(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM security_incidents WHERE id = $1
	`, id)
	return scanIncident(row)
}

func (s *PostgresIncidentStore) Update(ctx context.Context, in *Incident) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE security_incidents
		SET status = $2, updated_at = $3, resolved_at = $4
		WHERE id = $1
	`, in.ID, string(in.Status), in.UpdatedAt, in.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

func (s *PostgresIncidentStore) List(ctx context.Context, limit int) ([]*Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM security_incidents
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanIncidents(rows)
}

func (s *PostgresIncidentStore) ListOpen(ctx context.Context) ([]*Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM security_incidents
		WHERE status != 'resolved'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanIncidents(rows)
}

func (s *PostgresIncidentStore) ListSince(ctx context.Context, since time.Time) ([]*Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM security_incidents
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanIncidents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var in Incident
	var severity, status string
	var description sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&in.ID, &in.Title, &description, &severity, &status,
		pq.Array(&in.ThreatIDs), pq.Array(&in.AlertIDs),
		&in.ReportedBy, &in.CreatedAt, &in.UpdatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}
	in.Description = description.String
	in.Severity = threats.Severity(severity)
	in.Status = IncidentStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		in.ResolvedAt = &t
	}
	return &in, nil
}

func scanIncidents(rows *sql.Rows) ([]*Incident, error) {
	var result []*Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

var _ IncidentStore = (*PostgresIncidentStore)(nil)
