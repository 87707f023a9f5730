// Package lockout implements progressive account lockout over the account
// store's optimistic concurrency primitive. Locks expire lazily: state is a
// pure function of the stored row and the clock, nothing runs in the
// background to unlock accounts.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"authguard/core/internal/account/domain"
	"authguard/core/internal/account/repository"
	eventpkg "authguard/core/internal/event"
	eventdomain "authguard/core/internal/event/domain"
)

// Policy holds the lockout thresholds. Zero values are replaced by defaults in
// NewEngine.
type Policy struct {
	// Threshold is the number of failures inside Window that triggers a lock.
	Threshold int
	// Window bounds how long failures accumulate; a failure after the window
	// restarts the count at one.
	Window time.Duration
	// BaseDuration is the first lock's length.
	BaseDuration time.Duration
	// Multiplier scales each successive lock: base * multiplier^lockLevel.
	Multiplier int
	// MaxLevel caps the exponent so lock durations stop growing.
	MaxLevel int
}

// DefaultPolicy matches five failures in fifteen minutes, fifteen-minute base
// lock doubling up to level six.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:    5,
		Window:       15 * time.Minute,
		BaseDuration: 15 * time.Minute,
		Multiplier:   2,
		MaxLevel:     6,
	}
}

// ErrConflict is returned when the bounded CAS retry loop keeps losing races.
var ErrConflict = errors.New("lockout: persistent version conflict")

const casRetries = 3

// Engine mutates account lockout state. All transitions go through the account
// repository's compare-and-swap so concurrent failures from multiple instances
// never lose counts.
type Engine struct {
	policy   Policy
	accounts repository.Repository
	recorder *eventpkg.Recorder
	logger   *slog.Logger
}

// NewEngine returns a lockout Engine. recorder may be nil.
func NewEngine(policy Policy, accounts repository.Repository, recorder *eventpkg.Recorder, logger *slog.Logger) *Engine {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultPolicy().Threshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultPolicy().Window
	}
	if policy.BaseDuration <= 0 {
		policy.BaseDuration = DefaultPolicy().BaseDuration
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = DefaultPolicy().Multiplier
	}
	if policy.MaxLevel <= 0 {
		policy.MaxLevel = DefaultPolicy().MaxLevel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policy: policy, accounts: accounts, recorder: recorder, logger: logger}
}

// Policy returns the effective policy after defaulting.
func (e *Engine) Policy() Policy { return e.policy }

// LockDuration returns the lock length applied at the given lock level.
func (e *Engine) LockDuration(lockLevel int) time.Duration {
	if lockLevel > e.policy.MaxLevel {
		lockLevel = e.policy.MaxLevel
	}
	d := e.policy.BaseDuration
	for i := 0; i < lockLevel; i++ {
		d *= time.Duration(e.policy.Multiplier)
	}
	return d
}

// IsLocked reports whether the account is locked at now.
func (e *Engine) IsLocked(a *domain.Account, now time.Time) bool {
	return a.Locked(now)
}

// RecordFailure registers one failed credential check and locks the account
// when the failure count inside the window reaches the threshold. Returns the
// updated account. A newly imposed lock is recorded as a lockout event.
func (e *Engine) RecordFailure(ctx context.Context, accountID, originFingerprint string, now time.Time) (*domain.Account, error) {
	var locked bool
	var lockedUntil time.Time
	a, err := e.update(ctx, accountID, func(a *domain.Account) {
		locked = false
		if a.LastFailedAt == nil || now.Sub(*a.LastFailedAt) > e.policy.Window {
			a.FailedAttempts = 1
		} else {
			a.FailedAttempts++
		}
		t := now
		a.LastFailedAt = &t
		if a.FailedAttempts >= e.policy.Threshold && !a.Locked(now) {
			until := now.Add(e.LockDuration(a.LockLevel))
			a.LockedUntil = &until
			if a.LockLevel < e.policy.MaxLevel {
				a.LockLevel++
			}
			locked = true
			lockedUntil = until
		}
	})
	if err != nil {
		return nil, err
	}
	if locked {
		e.logger.Info("account locked", "account_id", accountID, "locked_until", lockedUntil)
		e.record(ctx, &eventdomain.SecurityEvent{
			AccountID:         accountID,
			Type:              eventdomain.TypeLockout,
			OccurredAt:        now,
			OriginFingerprint: originFingerprint,
			Detail: map[string]any{
				"locked_until": lockedUntil.UTC().Format(time.RFC3339),
				"lock_level":   a.LockLevel,
			},
		})
	}
	return a, nil
}

// RecordSuccess clears failure counters and any expired lock after a
// successful credential check.
func (e *Engine) RecordSuccess(ctx context.Context, accountID string, now time.Time) (*domain.Account, error) {
	return e.update(ctx, accountID, func(a *domain.Account) {
		a.FailedAttempts = 0
		a.LastFailedAt = nil
		a.LockedUntil = nil
		a.LockLevel = 0
	})
}

// AdminLock locks the account until the given time regardless of counters and
// records the transition with the acting admin's ID.
func (e *Engine) AdminLock(ctx context.Context, accountID, actorID string, until time.Time, now time.Time) (*domain.Account, error) {
	a, err := e.update(ctx, accountID, func(a *domain.Account) {
		t := until
		a.LockedUntil = &t
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, &eventdomain.SecurityEvent{
		AccountID:  accountID,
		Type:       eventdomain.TypeLockout,
		OccurredAt: now,
		Detail: map[string]any{
			"actor_id":     actorID,
			"locked_until": until.UTC().Format(time.RFC3339),
			"admin":        true,
		},
	})
	return a, nil
}

// AdminUnlock clears the lock and failure counters early and records the
// transition with the acting admin's ID.
func (e *Engine) AdminUnlock(ctx context.Context, accountID, actorID string, now time.Time) (*domain.Account, error) {
	a, err := e.update(ctx, accountID, func(a *domain.Account) {
		a.FailedAttempts = 0
		a.LastFailedAt = nil
		a.LockedUntil = nil
		a.LockLevel = 0
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, &eventdomain.SecurityEvent{
		AccountID:  accountID,
		Type:       eventdomain.TypeUnlock,
		OccurredAt: now,
		Success:    true,
		Detail:     map[string]any{"actor_id": actorID, "admin": true},
	})
	return a, nil
}

// update runs apply through the CAS loop with bounded retries and returns the
// account as persisted.
func (e *Engine) update(ctx context.Context, accountID string, apply func(*domain.Account)) (*domain.Account, error) {
	for attempt := 0; attempt <= casRetries; attempt++ {
		a, err := e.accounts.GetByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("lockout: account %s not found", accountID)
		}
		err = e.accounts.UpdateCAS(ctx, accountID, a.Version, apply)
		if err == nil {
			return e.accounts.GetByID(ctx, accountID)
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(rand.Intn(20)+5) * time.Millisecond):
		}
	}
	return nil, ErrConflict
}

func (e *Engine) record(ctx context.Context, ev *eventdomain.SecurityEvent) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, ev)
}
