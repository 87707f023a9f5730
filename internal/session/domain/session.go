package domain

import "time"

// RevokeReason says why a session lineage was terminated.
type RevokeReason string

const (
	RevokeReasonLogout         RevokeReason = "logout"
	RevokeReasonAdmin          RevokeReason = "admin"
	RevokeReasonHijack         RevokeReason = "hijack_suspected"
	RevokeReasonReuse          RevokeReason = "refresh_reuse"
	RevokeReasonPasswordChange RevokeReason = "password_change"
	RevokeReasonSessionCap     RevokeReason = "session_cap"
)

// Session is one refresh-token lineage: created at login, rotated on every refresh,
// terminal once revoked or expired. The ID is the jti of the first refresh token.
type Session struct {
	ID                 string
	AccountID          string
	NetworkFingerprint string // hash of the network origin recorded at login
	ClientFingerprint  string // hash of secondary client signals
	CurrentRefreshJti  string // jti of the one live refresh token for this lineage
	RefreshTokenHash   string // SHA-256 of the live refresh token
	CreatedAt          time.Time
	LastRotatedAt      time.Time
	ExpiresAt          time.Time
	RevokedAt          *time.Time // nil when not revoked; revocation is terminal
	RevokedReason      RevokeReason
	Version            int64
}

// Revoked reports whether the session has been explicitly terminated.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Active reports whether the session is live at the given instant: not revoked and
// not past its expiry. Expiry is evaluated lazily at check time.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked() && s.ExpiresAt.After(now)
}
