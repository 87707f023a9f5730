// Package service implements the authentication orchestrator: it sequences the
// credential check, lockout policy, session registry, token service, hijack
// detector, and event log for each use case, and owns the generic error
// surface exposed to callers.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	accountdomain "authguard/core/internal/account/domain"
	accountrepo "authguard/core/internal/account/repository"
	eventpkg "authguard/core/internal/event"
	eventdomain "authguard/core/internal/event/domain"
	eventrepo "authguard/core/internal/event/repository"
	"authguard/core/internal/hijack"
	"authguard/core/internal/lockout"
	"authguard/core/internal/security"
	sessiondomain "authguard/core/internal/session/domain"
	sessionrepo "authguard/core/internal/session/repository"
	"authguard/core/internal/session/registry"
	"authguard/core/internal/telemetry"
)

// role claim for tokens issued by this engine. Role management lives outside
// the subsystem; every account authenticates as a plain user here.
const defaultRole = "user"

const casRetries = 3

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	AccountID        string
}

// Claims is the verified content of an access token.
type Claims struct {
	AccountID string
	SessionID string
	Role      string
	ExpiresAt time.Time
}

// AuthService orchestrates authentication and session security.
type AuthService struct {
	accounts accountrepo.Repository
	sessions *registry.Registry
	lockout  *lockout.Engine
	detector *hijack.Detector
	hasher   *security.Hasher
	tokens   *security.TokenProvider
	recorder *eventpkg.Recorder
	events   eventrepo.Repository
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given collaborators.
// metrics may be nil.
func NewAuthService(
	accounts accountrepo.Repository,
	sessions *registry.Registry,
	lockoutEngine *lockout.Engine,
	detector *hijack.Detector,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	recorder *eventpkg.Recorder,
	events eventrepo.Repository,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		accounts: accounts,
		sessions: sessions,
		lockout:  lockoutEngine,
		detector: detector,
		hasher:   hasher,
		tokens:   tokens,
		recorder: recorder,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login verifies the identifier/secret pair and opens a new session. The error
// surface is deliberately generic; every outcome is recorded before returning.
func (s *AuthService) Login(ctx context.Context, identifier, secret string, fp security.Fingerprint) (*TokenPair, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	now := s.now()

	if identifier == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	account, err := s.accounts.GetByEmail(ctx, identifier)
	if err != nil {
		s.logger.Error("account lookup failed", "error", err)
		return nil, ErrSystem
	}
	if account == nil {
		// Burn a hash comparison so the unknown-identifier path is not
		// distinguishable from a wrong secret by response time.
		s.hasher.CompareDummy([]byte(secret))
		s.recordLoginFailure(ctx, "", fp, now, "unknown_identifier")
		return nil, ErrInvalidCredentials
	}

	if s.lockout.IsLocked(account, now) {
		s.recordLoginFailure(ctx, account.ID, fp, now, "locked")
		return nil, ErrAccountUnavailable
	}

	if err := s.hasher.Compare(account.PasswordHash, []byte(secret)); err != nil {
		// A lock imposed by this very failure still surfaces as bad
		// credentials: the threshold crossing must not leak.
		updated, lerr := s.lockout.RecordFailure(ctx, account.ID, fp.NetworkHash, now)
		if lerr != nil {
			s.logger.Error("lockout failure recording failed", "account_id", account.ID, "error", lerr)
		} else if updated.Locked(now) && s.metrics != nil {
			s.metrics.Lockouts.Add(ctx, 1)
		}
		s.recordLoginFailure(ctx, account.ID, fp, now, "bad_secret")
		return nil, ErrInvalidCredentials
	}

	if _, err := s.lockout.RecordSuccess(ctx, account.ID, now); err != nil {
		s.logger.Error("lockout success recording failed", "account_id", account.ID, "error", err)
		return nil, ErrSystem
	}

	pair, err := s.openSession(ctx, account, fp, now)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LoginSuccess.Add(ctx, 1)
	}
	s.recorder.Record(ctx, &eventdomain.SecurityEvent{
		AccountID:         account.ID,
		Type:              eventdomain.TypeLoginSuccess,
		OccurredAt:        now,
		Success:           true,
		OriginFingerprint: fp.NetworkHash,
		Detail:            map[string]any{"session_id": pair.SessionID},
	})
	return pair, nil
}

func (s *AuthService) openSession(ctx context.Context, account *accountdomain.Account, fp security.Fingerprint, now time.Time) (*TokenPair, error) {
	sessionID, err := security.NewJTI()
	if err != nil {
		return nil, ErrSystem
	}
	// The session ID doubles as the first refresh token's jti.
	refreshToken, refreshExp, err := s.tokens.IssueRefreshWithJTI(sessionID, account.ID, sessionID)
	if err != nil {
		s.logger.Error("refresh token issue failed", "error", err)
		return nil, ErrSystem
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, account.ID, defaultRole)
	if err != nil {
		s.logger.Error("access token issue failed", "error", err)
		return nil, ErrSystem
	}
	sess := &sessiondomain.Session{
		ID:                 sessionID,
		AccountID:          account.ID,
		NetworkFingerprint: fp.NetworkHash,
		ClientFingerprint:  fp.ClientHash,
		CurrentRefreshJti:  sessionID,
		RefreshTokenHash:   security.HashRefreshToken(refreshToken),
		CreatedAt:          now,
		LastRotatedAt:      now,
		ExpiresAt:          refreshExp,
		Version:            1,
	}
	evicted, err := s.sessions.Open(ctx, sess, now)
	for _, id := range evicted {
		s.recordRevocation(ctx, account.ID, id, sessiondomain.RevokeReasonSessionCap, fp, now)
	}
	if err != nil {
		s.logger.Error("session create failed", "account_id", account.ID, "error", err)
		return nil, ErrSystem
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        sessionID,
		AccountID:        account.ID,
	}, nil
}

// Refresh rotates the presented refresh token. Replay of an already-rotated
// token revokes the whole lineage, losing races included; the caller only ever
// sees the generic failure.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, fp security.Fingerprint) (*TokenPair, error) {
	now := s.now()
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", claims.SessionID, "error", err)
		return nil, ErrSystem
	}
	if sess == nil || !sess.Active(now) {
		return nil, ErrInvalidCredentials
	}

	if claims.ID != sess.CurrentRefreshJti {
		s.handleReuse(ctx, sess, fp, now)
		return nil, ErrInvalidCredentials
	}
	if !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidCredentials
	}

	obs := s.detector.Inspect(ctx, sess, fp, false)
	if obs.Decision.Suspect {
		if s.metrics != nil {
			s.metrics.HijackSuspected.Add(ctx, 1)
		}
		s.recorder.Record(ctx, &eventdomain.SecurityEvent{
			AccountID:         sess.AccountID,
			Type:              eventdomain.TypeHijackSuspected,
			OccurredAt:        now,
			OriginFingerprint: fp.NetworkHash,
			Detail: map[string]any{
				"session_id":       sess.ID,
				"network_mismatch": obs.NetworkMismatch,
				"client_mismatch":  obs.ClientMismatch,
			},
		})
	}
	if obs.Decision.Revoke {
		if err := s.sessions.Revoke(ctx, sess.ID, sessiondomain.RevokeReasonHijack, now); err != nil {
			s.logger.Error("hijack revocation failed", "session_id", sess.ID, "error", err)
		}
		s.recordRevocation(ctx, sess.AccountID, sess.ID, sessiondomain.RevokeReasonHijack, fp, now)
		return nil, ErrInvalidCredentials
	}

	newJti, err := security.NewJTI()
	if err != nil {
		return nil, ErrSystem
	}
	newRefresh, newRefreshExp, err := s.tokens.IssueRefreshWithJTI(sess.ID, sess.AccountID, newJti)
	if err != nil {
		s.logger.Error("refresh token issue failed", "error", err)
		return nil, ErrSystem
	}
	rotated, err := s.sessions.Rotate(ctx, sess.ID, claims.ID, newJti, security.HashRefreshToken(newRefresh), now)
	if err != nil {
		switch {
		case errors.Is(err, sessionrepo.ErrRefreshJtiMismatch):
			// Lost a concurrent rotation with the same token: single-use was
			// violated, the lineage is treated as stolen.
			s.handleReuse(ctx, sess, fp, now)
			return nil, ErrInvalidCredentials
		case errors.Is(err, sessionrepo.ErrSessionTerminal), errors.Is(err, sessionrepo.ErrNotFound):
			return nil, ErrInvalidCredentials
		default:
			s.logger.Error("refresh rotation failed", "session_id", sess.ID, "error", err)
			return nil, ErrSystem
		}
	}
	if s.metrics != nil {
		s.metrics.RefreshRotations.Add(ctx, 1)
	}

	accessToken, _, accessExp, err := s.tokens.IssueAccess(sess.ID, sess.AccountID, defaultRole)
	if err != nil {
		s.logger.Error("access token issue failed", "error", err)
		return nil, ErrSystem
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: newRefreshExp,
		SessionID:        rotated.ID,
		AccountID:        rotated.AccountID,
	}, nil
}

// handleReuse revokes the lineage after a replayed refresh token and records
// the hijack signal. The stolen-token defense runs regardless of whether the
// replay was an attacker or a duplicated client retry.
func (s *AuthService) handleReuse(ctx context.Context, sess *sessiondomain.Session, fp security.Fingerprint, now time.Time) {
	if s.metrics != nil {
		s.metrics.RefreshReuse.Add(ctx, 1)
		s.metrics.HijackSuspected.Add(ctx, 1)
	}
	if err := s.sessions.Revoke(ctx, sess.ID, sessiondomain.RevokeReasonReuse, now); err != nil {
		s.logger.Error("reuse revocation failed", "session_id", sess.ID, "error", err)
	}
	obs := s.detector.Inspect(ctx, sess, fp, true)
	s.recorder.Record(ctx, &eventdomain.SecurityEvent{
		AccountID:         sess.AccountID,
		Type:              eventdomain.TypeHijackSuspected,
		OccurredAt:        now,
		OriginFingerprint: fp.NetworkHash,
		Detail: map[string]any{
			"session_id":       sess.ID,
			"reuse_detected":   true,
			"network_mismatch": obs.NetworkMismatch,
			"client_mismatch":  obs.ClientMismatch,
		},
	})
	s.recordRevocation(ctx, sess.AccountID, sess.ID, sessiondomain.RevokeReasonReuse, fp, now)
}

// Logout revokes the session. Idempotent: a second logout of the same session
// succeeds without a second event.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	now := s.now()
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		return ErrSystem
	}
	if sess == nil || sess.Revoked() {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sessionID, sessiondomain.RevokeReasonLogout, now); err != nil {
		s.logger.Error("logout revocation failed", "session_id", sessionID, "error", err)
		return ErrSystem
	}
	s.recordRevocation(ctx, sess.AccountID, sessionID, sessiondomain.RevokeReasonLogout, security.Fingerprint{}, now)
	return nil
}

// VerifyAccess checks the access token's signature and expiry, then the
// session's liveness. A token for a revoked or expired session fails even when
// cryptographically valid.
func (s *AuthService) VerifyAccess(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	active, err := s.sessions.CheckActive(ctx, claims.SessionID, s.now())
	if err != nil {
		s.logger.Error("session liveness check failed", "session_id", claims.SessionID, "error", err)
		return nil, ErrSystem
	}
	if !active {
		return nil, ErrInvalidCredentials
	}
	return &Claims{
		AccountID: claims.Subject,
		SessionID: claims.SessionID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ChangePassword verifies the current secret, writes the new hash, and revokes
// every other session of the account. The session used to authenticate the
// change stays alive.
func (s *AuthService) ChangePassword(ctx context.Context, sessionID, currentSecret, newSecret string) error {
	now := s.now()
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		return ErrSystem
	}
	if sess == nil || !sess.Active(now) {
		return ErrInvalidCredentials
	}
	account, err := s.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		s.logger.Error("account lookup failed", "account_id", sess.AccountID, "error", err)
		return ErrSystem
	}
	if account == nil {
		return ErrInvalidCredentials
	}
	if s.lockout.IsLocked(account, now) {
		return ErrAccountUnavailable
	}
	if err := s.hasher.Compare(account.PasswordHash, []byte(currentSecret)); err != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newSecret); err != nil {
		return err
	}
	newHash, err := s.hasher.Hash([]byte(newSecret))
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		return ErrSystem
	}
	err = s.casUpdateAccount(ctx, account.ID, func(a *accountdomain.Account) {
		a.PasswordHash = newHash
		t := now
		a.LastPasswordChangeAt = &t
	})
	if err != nil {
		s.logger.Error("password update failed", "account_id", account.ID, "error", err)
		return ErrSystem
	}

	revoked, revErr := s.sessions.RevokeAllExcept(ctx, account.ID, sessionID, sessiondomain.RevokeReasonPasswordChange, now)
	for _, id := range revoked {
		s.recordRevocation(ctx, account.ID, id, sessiondomain.RevokeReasonPasswordChange, security.Fingerprint{}, now)
	}
	if revErr != nil {
		// The other sessions may still be alive; the caller must not be told
		// the change completed.
		s.logger.Error("post-change session revocation failed", "account_id", account.ID, "error", revErr)
		s.recorder.Record(ctx, &eventdomain.SecurityEvent{
			AccountID:  account.ID,
			Type:       eventdomain.TypePasswordChanged,
			OccurredAt: now,
			Success:    false,
			Detail: map[string]any{
				"session_id":        sessionID,
				"sessions_revoked":  len(revoked),
				"revocation_failed": true,
			},
		})
		return ErrSystem
	}
	s.recorder.Record(ctx, &eventdomain.SecurityEvent{
		AccountID:  account.ID,
		Type:       eventdomain.TypePasswordChanged,
		OccurredAt: now,
		Success:    true,
		Detail: map[string]any{
			"session_id":       sessionID,
			"sessions_revoked": len(revoked),
		},
	})
	return nil
}

// AdminLock locks the account until the given time and revokes its active
// sessions. Recorded with the acting admin attached.
func (s *AuthService) AdminLock(ctx context.Context, accountID, actorID, reason string, until time.Time) error {
	now := s.now()
	if _, err := s.lockout.AdminLock(ctx, accountID, actorID, until, now); err != nil {
		s.logger.Error("admin lock failed", "account_id", accountID, "error", err)
		return ErrSystem
	}
	revoked, revErr := s.sessions.RevokeAllExcept(ctx, accountID, "", sessiondomain.RevokeReasonAdmin, now)
	for _, id := range revoked {
		s.recordRevocation(ctx, accountID, id, sessiondomain.RevokeReasonAdmin, security.Fingerprint{}, now)
	}
	if revErr != nil {
		// The lock is in place but live sessions may remain; surface the
		// failure so the admin retries.
		s.logger.Error("admin lock session revocation failed", "account_id", accountID, "error", revErr)
		return ErrSystem
	}
	if reason != "" {
		s.logger.Info("account locked by admin", "account_id", accountID, "actor_id", actorID, "reason", reason)
	}
	return nil
}

// AdminUnlock clears the lock and failure counters early.
func (s *AuthService) AdminUnlock(ctx context.Context, accountID, actorID string) error {
	if _, err := s.lockout.AdminUnlock(ctx, accountID, actorID, s.now()); err != nil {
		s.logger.Error("admin unlock failed", "account_id", accountID, "error", err)
		return ErrSystem
	}
	return nil
}

// ListSessions returns the account's active sessions for admin tooling.
func (s *AuthService) ListSessions(ctx context.Context, accountID string) ([]*sessiondomain.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, accountID, s.now())
	if err != nil {
		s.logger.Error("session listing failed", "account_id", accountID, "error", err)
		return nil, ErrSystem
	}
	return sessions, nil
}

// ExportAuditLog returns security events matching the filter in per-account
// insertion order.
func (s *AuthService) ExportAuditLog(ctx context.Context, f eventrepo.Filter) ([]*eventdomain.SecurityEvent, error) {
	events, err := s.events.List(ctx, f)
	if err != nil {
		s.logger.Error("audit export failed", "error", err)
		return nil, ErrSystem
	}
	return events, nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, accountID string, fp security.Fingerprint, now time.Time, cause string) {
	if s.metrics != nil {
		s.metrics.LoginFailure.Add(ctx, 1)
	}
	s.recorder.Record(ctx, &eventdomain.SecurityEvent{
		AccountID:         accountID,
		Type:              eventdomain.TypeLoginFailure,
		OccurredAt:        now,
		OriginFingerprint: fp.NetworkHash,
		Detail:            map[string]any{"cause": cause},
	})
}

func (s *AuthService) recordRevocation(ctx context.Context, accountID, sessionID string, reason sessiondomain.RevokeReason, fp security.Fingerprint, now time.Time) {
	if s.metrics != nil {
		s.metrics.SessionsRevoked.Add(ctx, 1)
	}
	s.recorder.Record(ctx, &eventdomain.SecurityEvent{
		AccountID:         accountID,
		Type:              eventdomain.TypeTokenRevoked,
		OccurredAt:        now,
		Success:           true,
		OriginFingerprint: fp.NetworkHash,
		Detail: map[string]any{
			"session_id": sessionID,
			"reason":     string(reason),
		},
	})
}

// casUpdateAccount retries the optimistic update a bounded number of times
// with jitter before giving up.
func (s *AuthService) casUpdateAccount(ctx context.Context, accountID string, apply func(*accountdomain.Account)) error {
	for attempt := 0; attempt <= casRetries; attempt++ {
		a, err := s.accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrInvalidCredentials
		}
		err = s.accounts.UpdateCAS(ctx, accountID, a.Version, apply)
		if err == nil {
			return nil
		}
		if !errors.Is(err, accountrepo.ErrVersionConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(20)+5) * time.Millisecond):
		}
	}
	return ErrSystem
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
