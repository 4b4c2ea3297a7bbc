package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists risk profiles in PostgreSQL. Factors are stored as a
// JSONB document alongside the derived score so a profile round-trips in one row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*RiskProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, score, level, factors, created_at, updated_at
		FROM risk_profiles
		WHERE user_id = $1
	`, userID)

	var p RiskProfile
	var factorsJSON []byte
	if err := row.Scan(&p.UserID, &p.Score, &p.Level, &factorsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load risk profile: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &p.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode profile factors: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *RiskProfile) error {
	factorsJSON, err := json.Marshal(p.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_profiles (user_id, score, level, factors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET score = EXCLUDED.score,
		    level = EXCLUDED.level,
		    factors = EXCLUDED.factors,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, p.Score, string(p.Level), factorsJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTop(ctx context.Context, limit int) ([]*RiskProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, score, level, factors, created_at, updated_at
		FROM risk_profiles
		ORDER BY score DESC, user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskProfile
	for rows.Next() {
		var p RiskProfile
		var factorsJSON []byte
		if err := rows.Scan(&p.UserID, &p.Score, &p.Level, &factorsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(factorsJSON, &p.Factors); err != nil {
			continue
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
