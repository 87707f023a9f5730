package domain

import "time"

// EventType identifies the class of a security event.
type EventType string

const (
	TypeLoginSuccess    EventType = "login_success"
	TypeLoginFailure    EventType = "login_failure"
	TypeLockout         EventType = "lockout"
	TypeUnlock          EventType = "unlock"
	TypeTokenRevoked    EventType = "token_revoked"
	TypeHijackSuspected EventType = "hijack_suspected"
	TypePasswordChanged EventType = "password_changed"
)

// SecurityEvent is one append-only record in the security event log.
// Detail must never contain raw tokens, passwords, or password hashes.
type SecurityEvent struct {
	ID                int64 // storage sequence, assigned on insert
	EventID           string
	AccountID         string // empty for pre-auth events with no resolved account
	Type              EventType
	OccurredAt        time.Time
	Success           bool
	OriginFingerprint string // hashed network origin of the triggering request
	Detail            map[string]any
}
