package domain

import (
	"errors"
	"time"
)

// Account is the core identity entity plus its security posture: the failed-login
// counters and lock state mutated by the lockout engine.
type Account struct {
	ID                   string
	Email                string
	PasswordHash         string
	FailedAttempts       int
	LastFailedAt         *time.Time // nil until the first failure
	LockedUntil          *time.Time // nil when unlocked
	LockLevel            int        // consecutive locks, drives progressive backoff
	LastPasswordChangeAt *time.Time
	Version              int64 // optimistic concurrency guard; bumped on every write
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Locked reports whether the account is locked at the given instant.
// Lock expiry is evaluated lazily; there is no background unlock.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// LockRemaining returns how long the lock still holds at now, or zero when unlocked.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.Locked(now) {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
