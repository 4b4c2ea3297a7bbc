package threats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists threats in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed threat store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const threatColumns = `id, type, source, severity, status, details, handler,
	detected_at, updated_at, resolved_at`

func (s *PostgresStore) Create(ctx context.Context, t *Threat) error {
	detailsJSON, err := json.Marshal(t.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal threat details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_threats (`+threatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, string(t.Type), t.Source, string(t.Severity), string(t.Status),
		detailsJSON, t.Handler, t.DetectedAt, t.UpdatedAt, t.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create threat: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Threat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threatColumns+` FROM security_threats WHERE id = $1
	`, id)
	return scanThreat(row)
}

func (s *PostgresStore) Update(ctx context.Context, t *Threat) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE security_threats
		SET status = $2, severity = $3, handler = $4, updated_at = $5, resolved_at = $6
		WHERE id = $1
	`, t.ID, string(t.Status), string(t.Severity), t.Handler, t.UpdatedAt, t.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update threat: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrThreatNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Threat, error) {
	query := `SELECT ` + threatColumns + ` FROM security_threats ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanThreats(rows)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Threat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threatColumns+` FROM security_threats
		WHERE status != 'resolved'
		ORDER BY detected_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanThreats(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreat(row rowScanner) (*Threat, error) {
	var t Threat
	var typ, severity, status string
	var handler sql.NullString
	var detailsJSON []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&t.ID, &typ, &t.Source, &severity, &status,
		&detailsJSON, &handler, &t.DetectedAt, &t.UpdatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrThreatNotFound
		}
		return nil, fmt.Errorf("failed to load threat: %w", err)
	}
	t.Type = Type(typ)
	t.Severity = Severity(severity)
	t.Status = Status(status)
	t.Handler = handler.String
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		t.ResolvedAt = &ts
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &t.Details); err != nil {
			return nil, fmt.Errorf("failed to decode threat details: %w", err)
		}
	}
	return &t, nil
}

func scanThreats(rows *sql.Rows) ([]*Threat, error) {
	var result []*Threat
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
