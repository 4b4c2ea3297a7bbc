package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists policies in PostgreSQL. Rules are stored as a JSONB
// document so a policy round-trips in one row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *SecurityPolicy) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_policies (id, name, resource, enabled, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Resource, p.Enabled, rulesJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*SecurityPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, resource, enabled, rules, created_at, updated_at
		FROM security_policies
		WHERE id = $1
	`, id)
	return scanPolicy(row)
}

func (s *PostgresStore) Update(ctx context.Context, p *SecurityPolicy) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE security_policies
		SET name = $2, resource = $3, enabled = $4, rules = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Name, p.Resource, p.Enabled, rulesJSON, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*SecurityPolicy, error) {
	return s.list(ctx, false)
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*SecurityPolicy, error) {
	return s.list(ctx, true)
}

func (s *PostgresStore) list(ctx context.Context, enabledOnly bool) ([]*SecurityPolicy, error) {
	query := `
		SELECT id, name, resource, enabled, rules, created_at, updated_at
		FROM security_policies
	`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*SecurityPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*SecurityPolicy, error) {
	var p SecurityPolicy
	var rulesJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Enabled, &rulesJSON,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode policy rules: %w", err)
	}
	return &p, nil
}

var _ Store = (*PostgresStore)(nil)
