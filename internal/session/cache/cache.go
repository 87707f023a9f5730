// Package cache holds a Redis read-through cache of session liveness, used on
// the access-token verification hot path so most checks avoid a database read.
// The database stays authoritative: cache misses and Redis failures fall back
// to storage, and every rotation or revocation invalidates the entry.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"authguard/core/internal/session/domain"
)

const keyPrefix = "authguard:session:status:"

// maxTTL bounds staleness when a session outlives the cache entry.
const maxTTL = 5 * time.Minute

// Status is the cached liveness snapshot of one session.
type Status struct {
	Revoked   bool      `json:"revoked"`
	Version   int64     `json:"version"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the cached snapshot describes a live session.
func (s *Status) Active(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// setScript writes the snapshot only when it is at least as new as the cached
// one, comparing the version stamps server-side. Without the guard a slow
// writer holding a pre-rotation snapshot could clobber a fresher entry right
// after an invalidation.
var setScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, prev = pcall(cjson.decode, cur)
	if ok and prev.version and tonumber(prev.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// StatusCache caches session liveness in Redis. All methods are best-effort:
// Redis errors are logged and reported as misses, never surfaced to callers.
type StatusCache struct {
	client *redis.Client
	logger *slog.Logger
}

// New returns a StatusCache over the given Redis client.
func New(client *redis.Client, logger *slog.Logger) *StatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusCache{client: client, logger: logger}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Get returns the cached status for the session and whether it was present.
// A Redis error counts as a miss.
func (c *StatusCache) Get(ctx context.Context, sessionID string) (*Status, bool) {
	raw, err := c.client.Get(ctx, key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("session status cache read failed", "session_id", sessionID, "error", err)
		return nil, false
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		c.logger.Warn("session status cache entry corrupt", "session_id", sessionID, "error", err)
		_ = c.client.Del(ctx, key(sessionID)).Err()
		return nil, false
	}
	return &st, true
}

// Set stores the session's liveness snapshot unless a newer version is
// already cached. TTL is the remaining session lifetime capped at maxTTL;
// already-ended sessions get a short fixed TTL so repeated checks against a
// dead session still hit the cache.
func (c *StatusCache) Set(ctx context.Context, s *domain.Session, now time.Time) {
	st := Status{
		Revoked:   s.Revoked(),
		Version:   s.Version,
		ExpiresAt: s.ExpiresAt,
	}
	ttl := s.ExpiresAt.Sub(now)
	if ttl > maxTTL || st.Revoked {
		ttl = maxTTL
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	err = setScript.Run(ctx, c.client, []string{key(s.ID)}, raw, st.Version, ttl.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn("session status cache write failed", "session_id", s.ID, "error", err)
	}
}

// Invalidate drops the cached entry for the session. Called after every
// rotation and revocation so stale liveness never outlives a state change.
func (c *StatusCache) Invalidate(ctx context.Context, sessionIDs ...string) {
	if len(sessionIDs) == 0 {
		return
	}
	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("session status cache invalidate failed", "error", err)
	}
}
