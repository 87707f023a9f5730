// Package registry coordinates session lifecycle over the storage layer: cap
// enforcement at login, atomic refresh rotation, revocation, and the cached
// liveness check used when verifying access tokens.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authguard/core/internal/session/cache"
	"authguard/core/internal/session/domain"
	"authguard/core/internal/session/repository"
)

// DefaultMaxPerAccount caps concurrent active sessions per account.
const DefaultMaxPerAccount = 5

// Registry manages session lineages for accounts. It owns cap enforcement and
// keeps the liveness cache coherent with every state change.
type Registry struct {
	repo          repository.Repository
	statusCache   *cache.StatusCache
	maxPerAccount int
	logger        *slog.Logger
}

// New returns a Registry. statusCache may be nil, in which case every liveness
// check goes to storage. maxPerAccount <= 0 selects DefaultMaxPerAccount.
func New(repo repository.Repository, statusCache *cache.StatusCache, maxPerAccount int, logger *slog.Logger) *Registry {
	if maxPerAccount <= 0 {
		maxPerAccount = DefaultMaxPerAccount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:          repo,
		statusCache:   statusCache,
		maxPerAccount: maxPerAccount,
		logger:        logger,
	}
}

// Open registers a new session, evicting least-recently-rotated sessions while
// the account is at its cap. Returns the IDs of evicted sessions so the caller
// can record a revocation event for each.
//
// The cap is soft: count, evict, and create are separate statements, so two
// concurrent logins at the cap can momentarily leave the account one session
// over. The overshoot is corrected on the next login; no token becomes valid
// that should not be.
func (r *Registry) Open(ctx context.Context, s *domain.Session, now time.Time) (evicted []string, err error) {
	for {
		count, err := r.repo.CountActiveByAccount(ctx, s.AccountID, now)
		if err != nil {
			return evicted, fmt.Errorf("count active sessions: %w", err)
		}
		if count < r.maxPerAccount {
			break
		}
		oldest, err := r.repo.OldestActiveByAccount(ctx, s.AccountID, now)
		if err != nil {
			return evicted, fmt.Errorf("find oldest session: %w", err)
		}
		if oldest == nil {
			break
		}
		if err := r.Revoke(ctx, oldest.ID, domain.RevokeReasonSessionCap, now); err != nil {
			return evicted, fmt.Errorf("evict session %s: %w", oldest.ID, err)
		}
		evicted = append(evicted, oldest.ID)
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return evicted, fmt.Errorf("create session: %w", err)
	}
	return evicted, nil
}

// Get returns the session by ID, or (nil, nil) when absent.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Session, error) {
	return r.repo.GetByID(ctx, id)
}

// ListActive returns the account's live sessions, least recently rotated first.
func (r *Registry) ListActive(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	return r.repo.ListActiveByAccount(ctx, accountID, now)
}

// Rotate atomically swaps the session's live refresh jti. Exactly one of any
// concurrent rotations presenting the same jti succeeds; losers get
// repository.ErrRefreshJtiMismatch. The cache entry is dropped so stale
// liveness never survives a rotation.
func (r *Registry) Rotate(ctx context.Context, id, expectedJti, newJti, newTokenHash string, at time.Time) (*domain.Session, error) {
	s, err := r.repo.RotateRefresh(ctx, id, expectedJti, newJti, newTokenHash, at)
	if err != nil {
		return nil, err
	}
	if r.statusCache != nil {
		r.statusCache.Invalidate(ctx, id)
	}
	return s, nil
}

// Revoke terminates the session with the given reason. Idempotent: a session
// already revoked keeps its original reason.
func (r *Registry) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error {
	if err := r.repo.Revoke(ctx, id, reason, at); err != nil {
		return err
	}
	if r.statusCache != nil {
		r.statusCache.Invalidate(ctx, id)
	}
	return nil
}

// RevokeAllExcept terminates every active session of the account except keepID
// (pass "" to revoke all). Returns the revoked IDs.
func (r *Registry) RevokeAllExcept(ctx context.Context, accountID, keepID string, reason domain.RevokeReason, at time.Time) ([]string, error) {
	ids, err := r.repo.RevokeAllByAccountExcept(ctx, accountID, keepID, reason, at)
	if err != nil {
		return nil, err
	}
	if r.statusCache != nil && len(ids) > 0 {
		r.statusCache.Invalidate(ctx, ids...)
	}
	return ids, nil
}

// CheckActive reports whether the session is live, consulting the cache first
// and falling back to storage on a miss. Storage results are written back to
// the cache. A missing session reports inactive.
func (r *Registry) CheckActive(ctx context.Context, id string, now time.Time) (bool, error) {
	if r.statusCache != nil {
		if st, ok := r.statusCache.Get(ctx, id); ok {
			return st.Active(now), nil
		}
	}
	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, nil
	}
	if r.statusCache != nil {
		r.statusCache.Set(ctx, s, now)
	}
	return s.Active(now), nil
}
