package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresDecisionStore persists decisions in PostgreSQL.
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore creates a PostgreSQL-backed decision store.
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

func (s *PostgresDecisionStore) Get(ctx context.Context, transactionID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, user_id, allowed, risk_score, reason, factors, alert_ids, evaluated_at
		FROM transaction_decisions
		WHERE transaction_id = $1
	`, transactionID)
	return scanDecision(row)
}

func (s *PostgresDecisionStore) Record(ctx context.Context, d *Decision) error {
	factorsJSON, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transaction_decisions
			(transaction_id, user_id, allowed, risk_score, reason, factors, alert_ids, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING
	`, d.TransactionID, d.UserID, d.Allowed, d.RiskScore, string(d.Reason),
		factorsJSON, pq.Array(d.AlertIDs), d.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (s *PostgresDecisionStore) ListSince(ctx context.Context, since time.Time) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, allowed, risk_score, reason, factors, alert_ids, evaluated_at
		FROM transaction_decisions
		WHERE evaluated_at >= $1
		ORDER BY evaluated_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var reason string
	var factorsJSON []byte
	var alertIDs pq.StringArray
	if err := row.Scan(&d.TransactionID, &d.UserID, &d.Allowed, &d.RiskScore,
		&reason, &factorsJSON, &alertIDs, &d.EvaluatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	d.Reason = Reason(reason)
	d.AlertIDs = []string(alertIDs)
	if err := json.Unmarshal(factorsJSON, &d.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode decision factors: %w", err)
	}
	return &d, nil
}

var _ DecisionStore = (*PostgresDecisionStore)(nil)

// PostgresAlertStore persists fraud alerts in PostgreSQL.
type PostgresAlertStore struct {
	db *sql.DB
}

// NewPostgresAlertStore creates a PostgreSQL-backed alert store.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

const alertColumns = `id, transaction_id, user_id, severity, risk_score, status,
	resolution, investigator_id, reason, metadata, created_at, updated_at, resolved_at`

func (s *PostgresAlertStore) Create(ctx context.Context, a *FraudAlert) error {
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal alert metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.TransactionID, a.UserID, string(a.Severity), a.RiskScoreAtDetection,
		string(a.Status), string(a.Resolution), a.InvestigatorID, string(a.Reason),
		metaJSON, a.CreatedAt, a.UpdatedAt, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) Get(ctx context.Context, id string) (*FraudAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM fraud_alerts WHERE id = $1
	`, id)
	return scanAlert(row)
}

func (s *PostgresAlertStore) Update(ctx context.Context, a *FraudAlert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fraud_alerts
		SET status = $2, resolution = $3, investigator_id = $4,
		    updated_at = $5, resolved_at = $6
		WHERE id = $1
	`, a.ID, string(a.Status), string(a.Resolution), a.InvestigatorID,
		a.UpdatedAt, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (s *PostgresAlertStore) List(ctx context.Context, limit int, opts ...ListOption) ([]*FraudAlert, error) {
	o := applyListOpts(opts)

	var rows *sql.Rows
	var err error
	if o.cursor != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+alertColumns+` FROM fraud_alerts
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, o.cursor.CreatedAt, o.cursor.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+alertColumns+` FROM fraud_alerts
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

func (s *PostgresAlertStore) ListSince(ctx context.Context, since time.Time) ([]*FraudAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM fraud_alerts
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

func scanAlert(row rowScanner) (*FraudAlert, error) {
	var a FraudAlert
	var severity, status, resolution, reason string
	var txID, investigator sql.NullString
	var metaJSON []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&a.ID, &txID, &a.UserID, &severity, &a.RiskScoreAtDetection,
		&status, &resolution, &investigator, &reason, &metaJSON,
		&a.CreatedAt, &a.UpdatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	a.TransactionID = txID.String
	a.InvestigatorID = investigator.String
	a.Severity = Severity(severity)
	a.Status = AlertStatus(status)
	a.Resolution = Resolution(resolution)
	a.Reason = Reason(reason)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*FraudAlert, error) {
	var result []*FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

var _ AlertStore = (*PostgresAlertStore)(nil)
