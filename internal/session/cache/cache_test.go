package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"authguard/core/internal/session/domain"
)

func newTestCache(t *testing.T) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, nil), mr
}

func activeSession(id string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:            id,
		AccountID:     "a1",
		CreatedAt:     now,
		LastRotatedAt: now,
		ExpiresAt:     now.Add(time.Hour),
		Version:       1,
	}
}

func TestStatusCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := activeSession("s1")
	c.Set(ctx, s, now)

	st, ok := c.Get(ctx, "s1")
	if !ok {
		t.Fatal("expected cache hit after Set")
	}
	if st.Revoked {
		t.Error("active session cached as revoked")
	}
	if !st.Active(now) {
		t.Error("cached status should report active")
	}
	if st.Version != 1 {
		t.Errorf("version want 1, got %d", st.Version)
	}
}

func TestStatusCache_GetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	if _, ok := c.Get(context.Background(), "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestStatusCache_RevokedSession(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := activeSession("s1")
	revokedAt := now
	s.RevokedAt = &revokedAt
	s.RevokedReason = domain.RevokeReasonLogout
	c.Set(ctx, s, now)

	st, ok := c.Get(ctx, "s1")
	if !ok {
		t.Fatal("expected hit")
	}
	if !st.Revoked {
		t.Error("revoked session cached as live")
	}
	if st.Active(now) {
		t.Error("revoked status should not report active")
	}
}

func TestStatusCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c.Set(ctx, activeSession("s1"), now)
	c.Set(ctx, activeSession("s2"), now)
	c.Invalidate(ctx, "s1", "s2")

	if _, ok := c.Get(ctx, "s1"); ok {
		t.Error("s1 should be gone after Invalidate")
	}
	if _, ok := c.Get(ctx, "s2"); ok {
		t.Error("s2 should be gone after Invalidate")
	}
}

func TestStatusCache_StaleWriteCannotClobberNewer(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A revocation bumped the row to version 3 and the snapshot was cached.
	revoked := activeSession("s1")
	revoked.Version = 3
	revokedAt := now
	revoked.RevokedAt = &revokedAt
	c.Set(ctx, revoked, now)

	// A reader that loaded the row before the revocation writes back its
	// stale, still-live snapshot. It must lose.
	stale := activeSession("s1")
	stale.Version = 2
	c.Set(ctx, stale, now)

	st, ok := c.Get(ctx, "s1")
	if !ok {
		t.Fatal("expected hit")
	}
	if !st.Revoked || st.Version != 3 {
		t.Errorf("stale write clobbered newer snapshot: %+v", st)
	}
}

func TestStatusCache_NewerWriteReplacesOlder(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c.Set(ctx, activeSession("s1"), now)

	rotated := activeSession("s1")
	rotated.Version = 2
	c.Set(ctx, rotated, now)

	st, ok := c.Get(ctx, "s1")
	if !ok {
		t.Fatal("expected hit")
	}
	if st.Version != 2 {
		t.Errorf("version want 2 after newer write, got %d", st.Version)
	}
}

func TestStatusCache_TTLBounded(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := activeSession("s1")
	s.ExpiresAt = now.Add(30 * 24 * time.Hour)
	c.Set(ctx, s, now)

	ttl := mr.TTL("authguard:session:status:s1")
	if ttl > 5*time.Minute {
		t.Errorf("ttl should be capped at 5m, got %v", ttl)
	}
	if ttl <= 0 {
		t.Errorf("ttl should be positive, got %v", ttl)
	}
}

func TestStatusCache_CorruptEntryTreatedAsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.Set("authguard:session:status:s1", "{not json")
	if _, ok := c.Get(ctx, "s1"); ok {
		t.Error("corrupt entry should be a miss")
	}
	if mr.Exists("authguard:session:status:s1") {
		t.Error("corrupt entry should be deleted on read")
	}
}

func TestStatusCache_RedisDownIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(client, nil)
	mr.Close()

	if _, ok := c.Get(context.Background(), "s1"); ok {
		t.Error("redis failure should read as a miss")
	}
	// Set and Invalidate must not panic either.
	c.Set(context.Background(), activeSession("s1"), time.Now())
	c.Invalidate(context.Background(), "s1")
}
