package repository

import (
	"context"
	"errors"
	"time"

	"authguard/core/internal/session/domain"
)

var (
	// ErrNotFound is returned by mutating calls that target a missing session.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshJtiMismatch is returned by RotateRefresh when the presented jti is not
	// the session's live jti: either a replay of an already-rotated token or a lost
	// race with a concurrent rotation. Exactly one of two concurrent rotations with
	// the same jti can succeed.
	ErrRefreshJtiMismatch = errors.New("refresh jti mismatch")
	// ErrSessionTerminal is returned by RotateRefresh when the session is already revoked.
	ErrSessionTerminal = errors.New("session revoked")
)

// Repository defines persistence for sessions. GetByID returns (nil, nil) for a
// missing row; errors are reserved for storage failures.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListActiveByAccount returns non-revoked, non-expired sessions ordered by
	// last_rotated_at ascending (least recently rotated first).
	ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error)
	CountActiveByAccount(ctx context.Context, accountID string, now time.Time) (int, error)
	// OldestActiveByAccount returns the least-recently-rotated active session, or nil.
	OldestActiveByAccount(ctx context.Context, accountID string, now time.Time) (*domain.Session, error)
	// RotateRefresh atomically swaps the live refresh jti in a single conditional
	// update: it succeeds only when the stored current_refresh_jti still equals
	// expectedJti and the session is not revoked. Returns the updated session.
	RotateRefresh(ctx context.Context, id, expectedJti, newJti, newTokenHash string, at time.Time) (*domain.Session, error)
	// Revoke marks the session revoked. Idempotent: revoking an already-revoked
	// session keeps the original reason and returns nil.
	Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error
	// RevokeAllByAccountExcept revokes every active session of the account except
	// keepID (pass "" to revoke all). Returns the IDs that were revoked.
	RevokeAllByAccountExcept(ctx context.Context, accountID, keepID string, reason domain.RevokeReason, at time.Time) ([]string, error)
}
