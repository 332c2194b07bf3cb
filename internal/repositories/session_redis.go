package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/redis/go-redis/v9"
)

// Terminal sessions are kept this long past expiry so late refresh attempts
// still resolve to "revoked" rather than an unknown id.
const redisSessionGrace = 24 * time.Hour

const expireBatchSize = 500

const (
	rotateNotFound int64 = 0
	rotateInactive int64 = 1
	rotateMismatch int64 = 2
	rotateOK       int64 = 3
)

var rotateSessionLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local f = redis.call("HMGET", KEYS[1], "status", "expires_at", "refresh_hash")
if f[1] ~= "active" or tonumber(f[2]) <= tonumber(ARGV[3]) then
  return 1
end
if f[3] ~= ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[2], "last_activity_at", ARGV[3])
return 3
`)

var revokeSessionLua = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") ~= "active" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "revoked", "revoked_at", ARGV[3], "revoke_reason", ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

var revokeAllSessionsLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local status = redis.call("HGET", key, "status")
  if not status then
    redis.call("SREM", KEYS[1], id)
  elseif id ~= ARGV[2] and status == "active" then
    redis.call("HSET", key, "status", "revoked", "revoked_at", ARGV[4], "revoke_reason", ARGV[3])
    redis.call("ZREM", KEYS[2], id)
    n = n + 1
  end
end
return n
`)

var expireSessionsLua = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("HGET", key, "status") == "active" then
    redis.call("HSET", key, "status", "expired")
    n = n + 1
  end
  redis.call("ZREM", KEYS[1], id)
end
return {n, #ids}
`)

// RedisSessionStore keeps sessions in Redis hashes. Every state change runs
// as a Lua script so rotation and revocation are atomic per session.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "warden"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKeyPrefix() string { return s.prefix + ":session:" }

func (s *RedisSessionStore) sessionKey(id string) string { return s.sessionKeyPrefix() + id }

func (s *RedisSessionStore) accountKey(accountID string) string {
	return s.prefix + ":account_sessions:" + accountID
}

func (s *RedisSessionStore) expiryKey() string { return s.prefix + ":session_expiry" }

func unavailable(err error) error {
	return fmt.Errorf("%w: redis: %v", models.ErrTransientFailure, err)
}

func (s *RedisSessionStore) Create(ctx context.Context, sess *models.Session) error {
	key := s.sessionKey(sess.ID)
	expiresMs := sess.ExpiresAt.UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"account_id":         sess.AccountID,
			"refresh_hash":       sess.RefreshTokenHash,
			"status":             string(sess.Status),
			"device_fingerprint": sess.DeviceFingerprint,
			"ip_address":         sess.IPAddress,
			"user_agent":         sess.UserAgent,
			"remember_me":        strconv.FormatBool(sess.RememberMe),
			"created_at":         sess.CreatedAt.UnixMilli(),
			"last_activity_at":   sess.LastActivityAt.UnixMilli(),
			"expires_at":         expiresMs,
		})
		pipe.PExpireAt(ctx, key, sess.ExpiresAt.Add(redisSessionGrace))
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), sess.ID)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(expiresMs), Member: sess.ID})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}
	return sessionFromHash(id, fields)
}

func (s *RedisSessionStore) Rotate(ctx context.Context, id, presented, next string, now time.Time) error {
	status, err := rotateSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(id)},
		presented, next, now.UnixMilli(),
	).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch status {
	case rotateOK:
		return nil
	case rotateMismatch:
		return models.ErrTokenInvalid
	case rotateNotFound, rotateInactive:
		return models.ErrSessionRevoked
	default:
		return unavailable(fmt.Errorf("unexpected rotate status %d", status))
	}
}

func (s *RedisSessionStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	err := revokeSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.expiryKey()},
		id, reason, now.UnixMilli(),
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisSessionStore) RevokeAll(ctx context.Context, accountID, exceptID, reason string, now time.Time) (int64, error) {
	n, err := revokeAllSessionsLua.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.expiryKey()},
		s.sessionKeyPrefix(), exceptID, reason, now.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *RedisSessionStore) ListActive(ctx context.Context, accountID string, now time.Time) ([]*models.Session, error) {
	ids, err := s.client.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	sessions := make([]*models.Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := sessionFromHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if sess.IsUsable(now) {
			sessions = append(sessions, sess)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ExpireStale marks active sessions past expiry as expired, in batches.
func (s *RedisSessionStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		res, err := expireSessionsLua.Run(ctx, s.client,
			[]string{s.expiryKey()},
			s.sessionKeyPrefix(), now.UnixMilli(), expireBatchSize,
		).Int64Slice()
		if err != nil {
			return total, unavailable(err)
		}
		if len(res) != 2 {
			return total, unavailable(fmt.Errorf("unexpected expire reply %v", res))
		}
		total += res[0]
		if res[1] < expireBatchSize {
			return total, nil
		}
	}
}

func sessionFromHash(id string, f map[string]string) (*models.Session, error) {
	sess := &models.Session{
		ID:                id,
		AccountID:         f["account_id"],
		RefreshTokenHash:  f["refresh_hash"],
		Status:            models.SessionStatus(f["status"]),
		DeviceFingerprint: f["device_fingerprint"],
		IPAddress:         f["ip_address"],
		UserAgent:         f["user_agent"],
		RememberMe:        f["remember_me"] == "true",
		RevokeReason:      f["revoke_reason"],
	}

	var err error
	if sess.CreatedAt, err = parseMillis(f["created_at"]); err != nil {
		return nil, err
	}
	if sess.LastActivityAt, err = parseMillis(f["last_activity_at"]); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseMillis(f["expires_at"]); err != nil {
		return nil, err
	}
	if raw, ok := f["revoked_at"]; ok && raw != "" {
		at, err := parseMillis(raw)
		if err != nil {
			return nil, err
		}
		sess.RevokedAt = &at
	}
	return sess, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, unavailable(fmt.Errorf("corrupt session timestamp %q", raw))
	}
	return time.UnixMilli(ms).UTC(), nil
}
