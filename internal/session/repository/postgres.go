package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authguard/core/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, account_id, current_refresh_jti, refresh_token_hash,
	network_fingerprint, client_fingerprint, created_at, last_rotated_at, expires_at,
	revoked_at, revoked_reason, version`

// Create persists the session. The session must have ID and CurrentRefreshJti set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.Version == 0 {
		s.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, current_refresh_jti, refresh_token_hash,
			network_fingerprint, client_fingerprint, created_at, last_rotated_at, expires_at,
			revoked_at, revoked_reason, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.AccountID, s.CurrentRefreshJti, s.RefreshTokenHash,
		s.NetworkFingerprint, s.ClientFingerprint, s.CreatedAt, s.LastRotatedAt, s.ExpiresAt,
		timeToNullTime(s.RevokedAt), nullIfEmpty(string(s.RevokedReason)), s.Version,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListActiveByAccount returns active sessions ordered by last_rotated_at ascending.
func (r *PostgresRepository) ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_rotated_at ASC`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountActiveByAccount returns the number of active sessions for the account.
func (r *PostgresRepository) CountActiveByAccount(ctx context.Context, accountID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2`, accountID, now).Scan(&n)
	return n, err
}

// OldestActiveByAccount returns the least-recently-rotated active session, or nil.
func (r *PostgresRepository) OldestActiveByAccount(ctx context.Context, accountID string, now time.Time) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_rotated_at ASC LIMIT 1`, accountID, now)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// RotateRefresh swaps the live refresh jti in one conditional UPDATE. The WHERE clause
// carries the whole invariant: same jti, not revoked. Zero rows updated means either
// the session is gone, it is revoked, or the jti was already rotated; the follow-up
// read disambiguates so callers can tell replay from terminal state.
func (r *PostgresRepository) RotateRefresh(ctx context.Context, id, expectedJti, newJti, newTokenHash string, at time.Time) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET current_refresh_jti = $1, refresh_token_hash = $2, last_rotated_at = $3,
			version = version + 1
		WHERE id = $4 AND current_refresh_jti = $5 AND revoked_at IS NULL
		RETURNING `+sessionColumns, newJti, newTokenHash, at, id, expectedJti)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case current == nil:
		return nil, ErrNotFound
	case current.Revoked():
		return nil, ErrSessionTerminal
	default:
		return nil, ErrRefreshJtiMismatch
	}
}

// Revoke marks the session revoked. The IS NULL guard makes revocation first-writer-wins
// and keeps the original reason; revoking twice is a no-op.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = $1, revoked_reason = $2, version = version + 1
		WHERE id = $3 AND revoked_at IS NULL`, at, string(reason), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either already revoked (fine) or missing.
		s, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if s == nil {
			return ErrNotFound
		}
	}
	return nil
}

// RevokeAllByAccountExcept revokes every active session of the account except keepID.
func (r *PostgresRepository) RevokeAllByAccountExcept(ctx context.Context, accountID, keepID string, reason domain.RevokeReason, at time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions
		SET revoked_at = $1, revoked_reason = $2, version = version + 1
		WHERE account_id = $3 AND id <> $4 AND revoked_at IS NULL
		RETURNING id`, at, string(reason), accountID, keepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var revokedAt sql.NullTime
	var revokedReason sql.NullString
	err := row.Scan(
		&s.ID, &s.AccountID, &s.CurrentRefreshJti, &s.RefreshTokenHash,
		&s.NetworkFingerprint, &s.ClientFingerprint, &s.CreatedAt, &s.LastRotatedAt, &s.ExpiresAt,
		&revokedAt, &revokedReason, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.RevokedAt = nullTimeToPtr(revokedAt)
	if revokedReason.Valid {
		s.RevokedReason = domain.RevokeReason(revokedReason.String)
	}
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
