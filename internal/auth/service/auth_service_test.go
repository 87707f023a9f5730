package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
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
)

// In-memory fakes backing the orchestrator tests. Mutexed maps with the same
// CAS and conditional-update semantics as the postgres repositories.

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*accountdomain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[string]*accountdomain.Account)}
}

func (m *memAccountRepo) GetByID(_ context.Context, id string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAccountRepo) GetByEmail(_ context.Context, email string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccountRepo) Create(_ context.Context, a *accountdomain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memAccountRepo) UpdateCAS(_ context.Context, id string, expectedVersion int64, apply func(*accountdomain.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Version != expectedVersion {
		return accountrepo.ErrVersionConflict
	}
	apply(a)
	a.Version++
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*sessiondomain.Session
	// revokeAllErr makes RevokeAllByAccountExcept fail without touching rows,
	// simulating a storage outage mid use case.
	revokeAllErr error
}

func (m *memSessionRepo) failRevokeAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeAllErr = err
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*sessiondomain.Session)}
}

func (m *memSessionRepo) Create(_ context.Context, s *sessiondomain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) activeLocked(accountID string, now time.Time) []*sessiondomain.Session {
	var out []*sessiondomain.Session
	for _, s := range m.sessions {
		if s.AccountID == accountID && s.Active(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastRotatedAt.Before(out[j].LastRotatedAt) })
	return out
}

func (m *memSessionRepo) ListActiveByAccount(_ context.Context, accountID string, now time.Time) ([]*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range m.activeLocked(accountID, now) {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memSessionRepo) CountActiveByAccount(_ context.Context, accountID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeLocked(accountID, now)), nil
}

func (m *memSessionRepo) OldestActiveByAccount(_ context.Context, accountID string, now time.Time) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeLocked(accountID, now)
	if len(active) == 0 {
		return nil, nil
	}
	cp := *active[0]
	return &cp, nil
}

func (m *memSessionRepo) RotateRefresh(_ context.Context, id, expectedJti, newJti, newTokenHash string, at time.Time) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sessionrepo.ErrNotFound
	}
	if s.Revoked() {
		return nil, sessionrepo.ErrSessionTerminal
	}
	if s.CurrentRefreshJti != expectedJti {
		return nil, sessionrepo.ErrRefreshJtiMismatch
	}
	s.CurrentRefreshJti = newJti
	s.RefreshTokenHash = newTokenHash
	s.LastRotatedAt = at
	s.Version++
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) Revoke(_ context.Context, id string, reason sessiondomain.RevokeReason, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return sessionrepo.ErrNotFound
	}
	if s.Revoked() {
		return nil
	}
	t := at
	s.RevokedAt = &t
	s.RevokedReason = reason
	s.Version++
	return nil
}

func (m *memSessionRepo) RevokeAllByAccountExcept(_ context.Context, accountID, keepID string, reason sessiondomain.RevokeReason, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeAllErr != nil {
		return nil, m.revokeAllErr
	}
	var ids []string
	for _, s := range m.sessions {
		if s.AccountID != accountID || s.ID == keepID || !s.Active(at) {
			continue
		}
		t := at
		s.RevokedAt = &t
		s.RevokedReason = reason
		s.Version++
		ids = append(ids, s.ID)
	}
	return ids, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []*eventdomain.SecurityEvent
}

func (m *memEventRepo) Create(_ context.Context, e *eventdomain.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.events) + 1)
	m.events = append(m.events, &cp)
	e.ID = cp.ID
	return nil
}

func (m *memEventRepo) List(_ context.Context, f eventrepo.Filter) ([]*eventdomain.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*eventdomain.SecurityEvent
	for _, e := range m.events {
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if len(f.Types) > 0 {
			matched := false
			for _, t := range f.Types {
				if e.Type == t {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memEventRepo) countType(t eventdomain.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *AuthService
	accounts *memAccountRepo
	sessions *memSessionRepo
	events   *memEventRepo
	clock    *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const testPassword = "Horse-Battery-9-Staple"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	accounts := newMemAccountRepo()
	sessions := newMemSessionRepo()
	events := &memEventRepo{}

	hasher := security.NewHasher(4)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	recorder := eventpkg.NewRecorder(events, nil, nil, nil)
	lockoutEngine := lockout.NewEngine(lockout.DefaultPolicy(), accounts, recorder, nil)
	detector := hijack.NewDetector(hijack.NewOPAEvaluator("", nil), "log")
	reg := registry.New(sessions, nil, 5, nil)

	svc := NewAuthService(accounts, reg, lockoutEngine, detector, hasher, tokens, recorder, events, nil, nil)
	clock := &fakeClock{t: time.Now().UTC()}
	svc.now = clock.now

	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	now := clock.now()
	if err := accounts.Create(context.Background(), &accountdomain.Account{
		ID:           "a1",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("Create account: %v", err)
	}
	return &fixture{svc: svc, accounts: accounts, sessions: sessions, events: events, clock: clock}
}

var testFP = security.DeriveFingerprint("203.0.113.9", "client-x")

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	pair, err := f.svc.Login(context.Background(), "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatal("token pair incomplete")
	}
	if pair.AccountID != "a1" {
		t.Errorf("account id want a1, got %q", pair.AccountID)
	}
	if f.events.countType(eventdomain.TypeLoginSuccess) != 1 {
		t.Error("login_success event not recorded")
	}
	sess, _ := f.sessions.GetByID(context.Background(), pair.SessionID)
	if sess == nil {
		t.Fatal("session not created")
	}
	if sess.CurrentRefreshJti != pair.SessionID {
		t.Error("first refresh jti should equal the session id")
	}
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "nobody@example.com", testPassword, testFP)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if f.events.countType(eventdomain.TypeLoginFailure) != 1 {
		t.Error("login_failure event not recorded")
	}
}

func TestLogin_WrongSecret(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "alice@example.com", "wrong-secret", testFP)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	a, _ := f.accounts.GetByID(context.Background(), "a1")
	if a.FailedAttempts != 1 {
		t.Errorf("failed attempts want 1, got %d", a.FailedAttempts)
	}
}

func TestLogin_LockoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Login(ctx, "alice@example.com", "wrong-secret", testFP); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: want ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if f.events.countType(eventdomain.TypeLockout) != 1 {
		t.Error("lockout event not recorded")
	}

	// Even correct credentials are refused while locked, with the generic
	// unavailable error, never a lockout detail.
	_, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("locked login want ErrAccountUnavailable, got %v", err)
	}

	// The lock expires lazily; the next login with correct credentials works.
	f.clock.advance(16 * time.Minute)
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); err != nil {
		t.Fatalf("post-expiry login: %v", err)
	}
}

func TestLogin_SuccessResetsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = f.svc.Login(ctx, "alice@example.com", "wrong-secret", testFP)
	}
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); err != nil {
		t.Fatalf("Login: %v", err)
	}
	a, _ := f.accounts.GetByID(ctx, "a1")
	if a.FailedAttempts != 0 {
		t.Errorf("failure count should reset on success, got %d", a.FailedAttempts)
	}
}

func TestLogin_SessionCapEvictsOldest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var first string
	for i := 0; i < 5; i++ {
		pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		if i == 0 {
			first = pair.SessionID
		}
		f.clock.advance(time.Minute)
	}
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); err != nil {
		t.Fatalf("sixth login: %v", err)
	}
	s, _ := f.sessions.GetByID(ctx, first)
	if !s.Revoked() || s.RevokedReason != sessiondomain.RevokeReasonSessionCap {
		t.Errorf("oldest session should be evicted with session_cap, got %+v", s)
	}
	count, _ := f.sessions.CountActiveByAccount(ctx, "a1", f.clock.now())
	if count != 5 {
		t.Errorf("active sessions want 5, got %d", count)
	}
}

func TestRefresh_RotatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	next, err := f.svc.Refresh(ctx, pair.RefreshToken, testFP)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("rotation must mint a new refresh token")
	}
	if next.SessionID != pair.SessionID {
		t.Error("rotation must stay in the same session lineage")
	}
}

func TestRefresh_ReplayRevokesLineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	next, err := f.svc.Refresh(ctx, pair.RefreshToken, testFP)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the rotated-out token fails and kills the lineage.
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, testFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("replay want ErrInvalidCredentials, got %v", err)
	}
	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if !s.Revoked() || s.RevokedReason != sessiondomain.RevokeReasonReuse {
		t.Fatalf("lineage should be revoked for reuse, got %+v", s)
	}
	if f.events.countType(eventdomain.TypeHijackSuspected) == 0 {
		t.Error("hijack_suspected event not recorded")
	}

	// The winner's token is dead too: its lineage is gone.
	if _, err := f.svc.Refresh(ctx, next.RefreshToken, testFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("post-revocation refresh want ErrInvalidCredentials, got %v", err)
	}
}

func TestRefresh_ConcurrentExactlyOneSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken, testFP)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("want exactly one successful rotation, got %d", successes)
	}
}

func TestRefresh_NetworkMismatchLogModeSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	movedFP := security.DeriveFingerprint("198.51.100.4", "client-x")
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, movedFP); err != nil {
		t.Fatalf("log mode should allow the rotation: %v", err)
	}
	if f.events.countType(eventdomain.TypeHijackSuspected) != 1 {
		t.Error("network mismatch should record hijack_suspected")
	}
	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if s.Revoked() {
		t.Error("log mode must not revoke")
	}
}

func TestRefresh_NetworkMismatchRevokeMode(t *testing.T) {
	f := newFixture(t)
	// Swap in a revoke-mode detector.
	f.svc.detector = hijack.NewDetector(hijack.NewOPAEvaluator("", nil), "revoke")
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	movedFP := security.DeriveFingerprint("198.51.100.4", "client-x")
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, movedFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("revoke mode want ErrInvalidCredentials, got %v", err)
	}
	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if !s.Revoked() || s.RevokedReason != sessiondomain.RevokeReasonHijack {
		t.Errorf("revoke mode should terminate the session, got %+v", s)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Refresh(context.Background(), "garbage", testFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyAccess_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := f.svc.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.AccountID != "a1" || claims.SessionID != pair.SessionID || claims.Role != "user" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if err := f.svc.Logout(ctx, pair.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("revoked session: want ErrInvalidCredentials, got %v", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.SessionID); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if n := f.events.countType(eventdomain.TypeTokenRevoked); n != 1 {
		t.Errorf("token_revoked events want 1, got %d", n)
	}
	if err := f.svc.Logout(ctx, "absent"); err != nil {
		t.Fatalf("logout of unknown session should be a no-op: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.clock.advance(time.Minute)
	other, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	const newPassword = "Correct-Horse-77-Battery"
	if err := f.svc.ChangePassword(ctx, keep.SessionID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	kept, _ := f.sessions.GetByID(ctx, keep.SessionID)
	if kept.Revoked() {
		t.Error("the authenticating session must survive the change")
	}
	revoked, _ := f.sessions.GetByID(ctx, other.SessionID)
	if !revoked.Revoked() || revoked.RevokedReason != sessiondomain.RevokeReasonPasswordChange {
		t.Errorf("other sessions should be revoked with password_change, got %+v", revoked)
	}
	if f.events.countType(eventdomain.TypePasswordChanged) != 1 {
		t.Error("password_changed event not recorded")
	}

	// Old secret no longer works, new one does.
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old secret should fail, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice@example.com", newPassword, testFP); err != nil {
		t.Fatalf("new secret should work: %v", err)
	}
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	err = f.svc.ChangePassword(ctx, pair.SessionID, "wrong-secret", "Correct-Horse-77-Battery")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePassword_WeakNewSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.ChangePassword(ctx, pair.SessionID, testPassword, "short"); err == nil {
		t.Fatal("weak password should be rejected")
	}
}

func TestChangePassword_RevocationFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.clock.advance(time.Minute)
	other, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	f.sessions.failRevokeAll(errors.New("storage down"))
	err = f.svc.ChangePassword(ctx, keep.SessionID, testPassword, "Correct-Horse-77-Battery")
	if !errors.Is(err, ErrSystem) {
		t.Fatalf("revocation failure should surface as ErrSystem, got %v", err)
	}

	// The other session is still alive, so success must not have been reported.
	s, _ := f.sessions.GetByID(ctx, other.SessionID)
	if s.Revoked() {
		t.Fatal("fake revocation failure should leave the session untouched")
	}
	evs, err := f.events.List(ctx, eventrepo.Filter{
		Types: []eventdomain.EventType{eventdomain.TypePasswordChanged},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(evs) != 1 || evs[0].Success {
		t.Errorf("password_changed should be recorded unsuccessful, got %+v", evs)
	}
}

func TestAdminLock_RevocationFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.sessions.failRevokeAll(errors.New("storage down"))
	until := f.clock.now().Add(24 * time.Hour)
	if err := f.svc.AdminLock(ctx, "a1", "admin-1", "investigation", until); !errors.Is(err, ErrSystem) {
		t.Fatalf("revocation failure should surface as ErrSystem, got %v", err)
	}

	a, _ := f.accounts.GetByID(ctx, "a1")
	if !a.Locked(f.clock.now()) {
		t.Error("the lock itself should still be in place")
	}
	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if s.Revoked() {
		t.Error("fake revocation failure should leave the session untouched")
	}
}

func TestAdminLockAndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	until := f.clock.now().Add(24 * time.Hour)
	if err := f.svc.AdminLock(ctx, "a1", "admin-1", "investigation", until); err != nil {
		t.Fatalf("AdminLock: %v", err)
	}

	s, _ := f.sessions.GetByID(ctx, pair.SessionID)
	if !s.Revoked() || s.RevokedReason != sessiondomain.RevokeReasonAdmin {
		t.Errorf("admin lock should revoke sessions, got %+v", s)
	}
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("locked account login want ErrAccountUnavailable, got %v", err)
	}

	if err := f.svc.AdminUnlock(ctx, "a1", "admin-1"); err != nil {
		t.Fatalf("AdminUnlock: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); err != nil {
		t.Fatalf("post-unlock login: %v", err)
	}
	if f.events.countType(eventdomain.TypeUnlock) != 1 {
		t.Error("unlock event not recorded")
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Login(ctx, "alice@example.com", testPassword, testFP); err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		f.clock.advance(time.Minute)
	}
	sessions, err := f.svc.ListSessions(ctx, "a1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("want 3 active sessions, got %d", len(sessions))
	}
}

func TestExportAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.svc.Login(ctx, "alice@example.com", "wrong-secret", testFP)
	_, _ = f.svc.Login(ctx, "alice@example.com", testPassword, testFP)

	events, err := f.svc.ExportAuditLog(ctx, eventrepo.Filter{AccountID: "a1"})
	if err != nil {
		t.Fatalf("ExportAuditLog: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("want at least failure and success events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID < events[i-1].ID {
			t.Fatal("events must come back in insertion order")
		}
	}

	failures, err := f.svc.ExportAuditLog(ctx, eventrepo.Filter{
		AccountID: "a1",
		Types:     []eventdomain.EventType{eventdomain.TypeLoginFailure},
	})
	if err != nil {
		t.Fatalf("ExportAuditLog filtered: %v", err)
	}
	if len(failures) != 1 {
		t.Errorf("want 1 login_failure, got %d", len(failures))
	}
}

func TestLogin_EmptyInputs(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login(context.Background(), "", "", testFP); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}
