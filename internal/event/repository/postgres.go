package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"authguard/core/internal/event/domain"
)

const defaultListLimit = 100

// PostgresRepository persists security events in the security_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends the event. The storage id is written back to e.ID.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.SecurityEvent) error {
	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	accountID := sql.NullString{String: e.AccountID, Valid: e.AccountID != ""}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO security_events (event_id, account_id, event_type, occurred_at, success, origin_fingerprint, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.EventID, accountID, string(e.Type), e.OccurredAt, e.Success, e.OriginFingerprint, detail,
	)
	return row.Scan(&e.ID)
}

// List returns events matching the filter ordered by id ascending.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*domain.SecurityEvent, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.AccountID != "" {
		conds = append(conds, "account_id = "+arg(f.AccountID))
	}
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = arg(string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at < "+arg(f.To))
	}

	query := `SELECT id, event_id, account_id, event_type, occurred_at, success, origin_fingerprint, detail FROM security_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY id ASC LIMIT " + arg(limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SecurityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (*domain.SecurityEvent, error) {
	var (
		e         domain.SecurityEvent
		eventType string
		accountID sql.NullString
		detail    []byte
	)
	if err := rows.Scan(&e.ID, &e.EventID, &accountID, &eventType, &e.OccurredAt, &e.Success, &e.OriginFingerprint, &detail); err != nil {
		return nil, err
	}
	e.AccountID = accountID.String
	e.Type = domain.EventType(eventType)
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal event detail: %w", err)
		}
	}
	return &e, nil
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(detail)
}
