package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/risk"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrWriteFailed wraps any Redis failure while mutating session state.
	ErrWriteFailed = errors.New("session store write failed")
	// ErrRedisUnavailable wraps Redis failures on read paths.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned when no record exists for a session ID.
	ErrNotFound = errors.New("session not found")
	// ErrInactive is returned by Touch for a session that is already deactivated.
	ErrInactive = errors.New("session inactive")
	// ErrCorrupt is returned when a stored record cannot be parsed.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrInvalidSession is returned by Create for records missing an ID or user.
	ErrInvalidSession = errors.New("invalid session record")
)

// DefaultRecordRetention is how long deactivated records stay readable.
const DefaultRecordRetention = 30 * 24 * time.Hour

const (
	statusMissing    int64 = 0
	statusApplied    int64 = 1
	statusInactive   int64 = 2
	statusNotExpired int64 = 3
)

// touchScript applies an activity timestamp monotonically.
// A newer timestamp owns the expiry; an equal one keeps the earlier expiry.
const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 2
end

local last = tonumber(redis.call("HGET", KEYS[1], "last") or "0")
local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
local at = tonumber(ARGV[2])
local deadline = tonumber(ARGV[3])

if at > last then
  last = at
  exp = deadline
elseif at == last and deadline < exp then
  exp = deadline
end
if exp < last then
  exp = last
end

local lvl = tonumber(redis.call("HGET", KEYS[1], "risk") or "0")
local incoming = tonumber(ARGV[5])
if incoming > lvl then
  lvl = incoming
end

redis.call("HSET", KEYS[1], "last", last, "exp", exp, "risk", lvl)
redis.call("PEXPIRE", KEYS[1], exp - last + tonumber(ARGV[4]))
local user_id = redis.call("HGET", KEYS[1], "uid") or ""
redis.call("ZADD", ARGV[6] .. user_id, last, ARGV[1])
redis.call("ZADD", KEYS[2], exp, ARGV[1])
return 1
`

var touchLua = redis.NewScript(touchScript)

// deactivateScript flips a session inactive once. With ARGV[6] == "1" it only
// does so when the stored expiry is at or before ARGV[3].
const deactivateScript = `
local session_key = KEYS[1]
local expiry_key = KEYS[2]
local session_id = ARGV[1]

if redis.call("EXISTS", session_key) == 0 then
  redis.call("ZREM", expiry_key, session_id)
  return 0
end
if redis.call("HGET", session_key, "active") ~= "1" then
  redis.call("ZREM", expiry_key, session_id)
  return 2
end

local now = tonumber(ARGV[3])
if ARGV[6] == "1" then
  local exp = tonumber(redis.call("HGET", session_key, "exp") or "0")
  if exp > now then
    return 3
  end
end

local user_id = redis.call("HGET", session_key, "uid") or ""
redis.call("HSET", session_key, "active", "0", "reason", ARGV[2], "deact", now)
redis.call("PEXPIRE", session_key, ARGV[4])
redis.call("ZREM", ARGV[5] .. user_id, session_id)
redis.call("ZREM", expiry_key, session_id)
return 1
`

var deactivateLua = redis.NewScript(deactivateScript)

// evictScript keeps at most ARGV[1]-1 active sessions for a user, evicting the
// least recently active first. Stale index entries are dropped on the way.
const evictScript = `
local user_key = KEYS[1]
local expiry_key = KEYS[2]
local max = tonumber(ARGV[1])
local session_prefix = ARGV[2]

local ids = redis.call("ZRANGE", user_key, 0, -1)
local live = {}
for _, id in ipairs(ids) do
  if redis.call("HGET", session_prefix .. id, "active") == "1" then
    table.insert(live, id)
  else
    redis.call("ZREM", user_key, id)
    redis.call("ZREM", expiry_key, id)
  end
end

local evicted = {}
local excess = #live - max + 1
for i = 1, excess do
  local id = live[i]
  local key = session_prefix .. id
  redis.call("HSET", key, "active", "0", "reason", ARGV[3], "deact", ARGV[4])
  redis.call("PEXPIRE", key, ARGV[5])
  redis.call("ZREM", user_key, id)
  redis.call("ZREM", expiry_key, id)
  table.insert(evicted, id)
end
return evicted
`

var evictLua = redis.NewScript(evictScript)

// restoreScript writes a full record only when none exists under KEYS[1].
// ARGV[1] holds the field/value count, followed by the pairs, the TTL in ms,
// the active flag, last activity, expiry and the session ID.
const restoreScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local n = tonumber(ARGV[1])
redis.call("HSET", KEYS[1], unpack(ARGV, 2, n + 1))
redis.call("PEXPIRE", KEYS[1], ARGV[n + 2])
if ARGV[n + 3] == "1" then
  redis.call("ZADD", KEYS[2], ARGV[n + 4], ARGV[n + 6])
  redis.call("ZADD", KEYS[3], ARGV[n + 5], ARGV[n + 6])
end
return 1
`

var restoreLua = redis.NewScript(restoreScript)

// Store is the Redis-backed session store.
//
// Records live in a hash per session. A per-user sorted set scored by last
// activity drives LRU eviction, and a global sorted set scored by expiry drives
// the sweeper. All mutations go through Lua scripts so concurrent writers and
// the sweeper never observe a half-applied change.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; retention bounds how long deactivated
// records are kept (DefaultRecordRetention when zero).
func NewStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "gg"
	}
	if retention <= 0 {
		retention = DefaultRecordRetention
	}
	return &Store{
		redis:     rdb,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *Store) key(sessionID string) string {
	return s.sessionPrefix() + sessionID
}

func (s *Store) sessionPrefix() string {
	return s.prefix + ":s:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) expiryKey() string {
	return s.prefix + ":x"
}

// Create persists sess and indexes it. An existing record with the same ID is overwritten.
//
// ExpiresAt is clamped to LastActivityAt when it would precede it.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return ErrInvalidSession
	}
	rec := *sess
	if rec.ExpiresAt.Before(rec.LastActivityAt) {
		rec.ExpiresAt = rec.LastActivityAt
	}

	sessionKey := s.key(rec.ID)
	ttl := rec.ExpiresAt.Sub(rec.LastActivityAt) + s.retention

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey)
		pipe.HSet(ctx, sessionKey, rec.fields()...)
		pipe.PExpire(ctx, sessionKey, ttl)
		if rec.Active {
			pipe.ZAdd(ctx, s.userKey(rec.UserID), redis.Z{Score: float64(toMillis(rec.LastActivityAt)), Member: rec.ID})
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(toMillis(rec.ExpiresAt)), Member: rec.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	sess.ExpiresAt = rec.ExpiresAt
	return nil
}

// Restore writes sess only when no record with its ID exists, so a record
// another writer created or revoked in the meantime is never overwritten.
// It reports whether the record was written.
func (s *Store) Restore(ctx context.Context, sess *Session) (bool, error) {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return false, ErrInvalidSession
	}
	rec := *sess
	if rec.ExpiresAt.Before(rec.LastActivityAt) {
		rec.ExpiresAt = rec.LastActivityAt
	}
	ttl := rec.ExpiresAt.Sub(rec.LastActivityAt) + s.retention
	active := "0"
	if rec.Active {
		active = "1"
	}

	fields := rec.fields()
	args := make([]interface{}, 0, len(fields)+6)
	args = append(args, len(fields))
	args = append(args, fields...)
	args = append(args, ttl.Milliseconds(), active, toMillis(rec.LastActivityAt), toMillis(rec.ExpiresAt), rec.ID)

	written, err := restoreLua.Run(ctx, s.redis,
		[]string{s.key(rec.ID), s.userKey(rec.UserID), s.expiryKey()},
		args...,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return written == 1, nil
}

// Get returns the record for sessionID, active or not.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	h, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return fromHash(sessionID, h)
}

// Touch records activity at `at` with the deadline computed for it and ratchets
// the stored risk level to the stricter of stored and level.
//
// Touch is idempotent and monotonic: replaying an older or equal timestamp never
// moves LastActivityAt backwards, and the stored expiry never precedes it.
func (s *Store) Touch(ctx context.Context, sessionID string, at, deadline time.Time, level risk.Level) error {
	if !level.Valid() {
		level = risk.Medium
	}
	status, err := touchLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.expiryKey()},
		sessionID,
		toMillis(at),
		toMillis(deadline),
		s.retention.Milliseconds(),
		int(level),
		s.userPrefix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	switch status {
	case statusMissing:
		return ErrNotFound
	case statusInactive:
		return ErrInactive
	default:
		return nil
	}
}

// Deactivate marks sessionID inactive with reason. It reports whether this call
// performed the transition; repeated calls keep the first reason.
func (s *Store) Deactivate(ctx context.Context, sessionID string, reason LogoutReason, now time.Time) (bool, error) {
	return s.deactivate(ctx, sessionID, reason, now, false)
}

// DeactivateIfExpired marks sessionID inactive with reason EXPIRED only when
// its stored expiry is at or before now.
func (s *Store) DeactivateIfExpired(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	return s.deactivate(ctx, sessionID, ReasonExpired, now, true)
}

func (s *Store) deactivate(ctx context.Context, sessionID string, reason LogoutReason, now time.Time, onlyExpired bool) (bool, error) {
	cond := "0"
	if onlyExpired {
		cond = "1"
	}
	status, err := deactivateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.expiryKey()},
		sessionID,
		string(reason),
		toMillis(now),
		s.retention.Milliseconds(),
		s.userPrefix(),
		cond,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	switch status {
	case statusMissing:
		return false, ErrNotFound
	case statusApplied:
		return true, nil
	default:
		return false, nil
	}
}

// EnforceConcurrencyLimit evicts the least recently active sessions of userID so
// that one more session fits under max. It returns the evicted IDs, oldest first.
// A max of zero or less disables the limit.
func (s *Store) EnforceConcurrencyLimit(ctx context.Context, userID string, max int, now time.Time) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	res, err := evictLua.Run(ctx, s.redis,
		[]string{s.userKey(userID), s.expiryKey()},
		max,
		s.sessionPrefix(),
		string(ReasonEvicted),
		toMillis(now),
		s.retention.Milliseconds(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return res, nil
}

// ListActive returns active sessions for userID, most recently active first.
// An empty userID lists every active session in the store.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	indexKey := s.expiryKey()
	if userID != "" {
		indexKey = s.userKey(userID)
	}
	ids, err := s.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sessions, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	active := sessions[:0]
	for _, sess := range sessions {
		if sess.Active {
			active = append(active, sess)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastActivityAt.After(active[j].LastActivityAt)
	})
	return active, nil
}

func (s *Store) getMany(ctx context.Context, ids []string) ([]*Session, error) {
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(h) == 0 {
			continue
		}
		sess, err := fromHash(ids[i], h)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Sweep deactivates up to batch sessions whose expiry is at or before now and
// returns their IDs. It is safe to run concurrently with Touch and Deactivate:
// each candidate is re-checked inside the deactivate script.
func (s *Store) Sweep(ctx context.Context, now time.Time, batch int) ([]string, error) {
	if batch <= 0 {
		batch = 500
	}
	ids, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(toMillis(now), 10),
		Count: int64(batch),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	swept := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.DeactivateIfExpired(ctx, id, now)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return swept, err
		}
		if ok {
			swept = append(swept, id)
		}
	}
	return swept, nil
}

// ActiveCount returns the number of indexed active sessions store-wide.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	n, err := s.redis.ZCard(ctx, s.expiryKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
