package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authguard/core/internal/account/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, password_hash, failed_attempts, last_failed_at,
	locked_until, lock_level, last_password_change_at, version, created_at, updated_at`

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail returns the account for email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// Create persists the account. The account must have ID set; version starts at 1.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, failed_attempts, last_failed_at,
			locked_until, lock_level, last_password_change_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Email, a.PasswordHash, a.FailedAttempts, timeToNullTime(a.LastFailedAt),
		timeToNullTime(a.LockedUntil), a.LockLevel, timeToNullTime(a.LastPasswordChangeAt),
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// UpdateCAS re-reads the row, applies the mutation, and writes it back guarded by the
// version column. A zero-row update means a concurrent writer bumped the version first;
// that surfaces as ErrVersionConflict and the caller re-reads and retries.
func (r *PostgresRepository) UpdateCAS(ctx context.Context, id string, expectedVersion int64, apply func(*domain.Account)) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return sql.ErrNoRows
	}
	if a.Version != expectedVersion {
		return ErrVersionConflict
	}

	apply(a)
	a.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET email = $1, password_hash = $2, failed_attempts = $3, last_failed_at = $4,
			locked_until = $5, lock_level = $6, last_password_change_at = $7,
			version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		a.Email, a.PasswordHash, a.FailedAttempts, timeToNullTime(a.LastFailedAt),
		timeToNullTime(a.LockedUntil), a.LockLevel, timeToNullTime(a.LastPasswordChangeAt),
		a.UpdatedAt, id, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var lastFailedAt, lockedUntil, lastPasswordChangeAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FailedAttempts, &lastFailedAt,
		&lockedUntil, &a.LockLevel, &lastPasswordChangeAt, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.LastFailedAt = nullTimeToPtr(lastFailedAt)
	a.LockedUntil = nullTimeToPtr(lockedUntil)
	a.LastPasswordChangeAt = nullTimeToPtr(lastPasswordChangeAt)
	return &a, nil
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
