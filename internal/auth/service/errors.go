package service

import "errors"

// Caller-facing sentinel errors. The surface is deliberately coarse: callers
// learn that authentication failed or that the account is unavailable, never
// which internal branch produced the outcome, so responses cannot be used for
// account enumeration or lockout probing.
var (
	// ErrInvalidCredentials covers unknown identifier, wrong secret, and any
	// invalid, expired, replayed, or revoked token.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountUnavailable covers locked accounts.
	ErrAccountUnavailable = errors.New("account temporarily unavailable")
	// ErrSystem covers storage failures and exhausted internal retries. Details
	// go to the log, not the caller.
	ErrSystem = errors.New("temporary system error")
)
