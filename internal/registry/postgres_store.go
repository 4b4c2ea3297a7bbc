package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists registry entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed registry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suspicious_entities (identifier, kind, source, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO NOTHING
	`, e.Identifier, string(e.Kind), e.Source, e.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to add registry entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM suspicious_entities WHERE identifier = $1
	`, identifier)
	if err != nil {
		return fmt.Errorf("failed to remove registry entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, kind, source, added_at
		FROM suspicious_entities
		ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.Identifier, &kind, &e.Source, &e.AddedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		result = append(result, &e)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
