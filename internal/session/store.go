package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when Redis cannot be reached or times
// out. Callers may retry.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrNotFound is returned when the session id maps to no live entry.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyRotated is returned by Rotate when the entry was revoked or
// rotated before this call. It signals refresh-token reuse.
var ErrAlreadyRotated = errors.New("session already rotated")

// ErrCorrupt is returned when a stored entry blob cannot be parsed.
var ErrCorrupt = errors.New("session entry corrupt")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

const (
	revokeStatusMissing        int64 = 0
	revokeStatusAlreadyRevoked int64 = 1
	revokeStatusRevoked        int64 = 2
)

const readBE64 = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end
`

// Revoke flips the trailing revoked-at field in place, preserving the
// remaining TTL. Already-revoked and missing entries are no-ops.
const revokeScript = readBE64 + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local n = #data
if n < 27 then
  return 0
end
local revoked = read_be64(data, n - 7)
if not revoked or revoked ~= 0 then
  return 1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
redis.call("SET", KEYS[1], string.sub(data, 1, n - 8) .. ARGV[1], "PX", ttl)
return 2
`

// Rotate is the registry's single linearization point. It revokes the
// old entry and writes the successor in one atomic script so that only
// one of N concurrent callers can observe revoked-at == 0.
//
// ARGV: 1 now-unix, 2 revoked-at BE8, 3 created-at BE8, 4 expires-at BE8,
// 5 ttl-millis, 6 user index prefix, 7 new session id, 8 zero BE8.
const rotateScript = readBE64 + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
local n = #data
if n < 27 then
  return {4}
end
local revoked = read_be64(data, n - 7)
if not revoked then
  return {4}
end
if revoked ~= 0 then
  return {2}
end
local expires = read_be64(data, n - 15)
if not expires then
  return {4}
end
if expires <= tonumber(ARGV[1]) then
  return {1}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return {1}
end
local ulen = string.byte(data, 2)
if not ulen then
  return {4}
end
local user_key = ARGV[6] .. string.sub(data, 3, 2 + ulen)

redis.call("SET", KEYS[1], string.sub(data, 1, n - 8) .. ARGV[2], "PX", ttl)

local newblob = string.sub(data, 1, n - 24) .. ARGV[3] .. ARGV[4] .. ARGV[8]
redis.call("SET", KEYS[2], newblob, "PX", tonumber(ARGV[5]))
redis.call("SADD", user_key, ARGV[7])
redis.call("PEXPIRE", user_key, tonumber(ARGV[5]))

return {3, newblob}
`

var (
	revokeLua = redis.NewScript(revokeScript)
	rotateLua = redis.NewScript(rotateScript)
)

// Store persists registry entries in Redis. All methods bound their
// Redis round-trips with the configured operation timeout and report
// transport failures as [ErrStoreUnavailable].
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// NewStore creates a [Store]. prefix namespaces all keys; opTimeout
// bounds each Redis operation (0 disables the bound).
func NewStore(client redis.UniversalClient, prefix string, opTimeout time.Duration) *Store {
	if prefix == "" {
		prefix = "us"
	}
	return &Store{
		redis:     client,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Create allocates a fresh entry for the identity and stores it with
// the given lifetime.
func (s *Store) Create(ctx context.Context, userID, role string, ttl time.Duration) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now()
	sess := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(userID), sess.SessionID)
		pipe.PExpire(ctx, s.userKey(userID), ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return sess, nil
}

// Get fetches an entry without mutating it. Missing and TTL-expired
// entries return [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess.SessionID = sessionID

	if time.Now().Unix() >= sess.ExpiresAt && sess.RevokedAt == 0 {
		return nil, ErrNotFound
	}

	return sess, nil
}

// IsActive reports whether the entry exists, is unrevoked, and is not
// past expiry.
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Active(time.Now()), nil
}

// Revoke sets revoked-at on the entry. Idempotent: revoking a missing
// or already-revoked entry is not an error, and the original revoked-at
// timestamp is never overwritten.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		be64(time.Now().Unix()),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Rotate atomically revokes oldSessionID and creates a successor entry
// for the same identity with a fresh lifetime. Exactly one of N
// concurrent callers succeeds; the rest get [ErrAlreadyRotated].
func (s *Store) Rotate(ctx context.Context, oldSessionID string, ttl time.Duration) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now()
	newSessionID := uuid.NewString()

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(oldSessionID), s.key(newSessionID)},
		now.Unix(),
		be64(now.Unix()),
		be64(now.Unix()),
		be64(now.Add(ttl).Unix()),
		ttl.Milliseconds(),
		s.userPrefix(),
		newSessionID,
		be64(0),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, ErrNotFound
	case rotateStatusRevoked:
		return nil, ErrAlreadyRotated
	case rotateStatusCorrupt:
		return nil, ErrCorrupt
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated entry payload", ErrStoreUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated entry payload", ErrStoreUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		sess.SessionID = newSessionID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

// RevokeAllForUser revokes every tracked session of the identity and
// returns how many entries transitioned to revoked. Used as the
// defensive response to reuse detection and for logout-all.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	nowBytes := be64(time.Now().Unix())
	revoked := 0
	for _, sessionID := range sessionIDs {
		status, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, nowBytes).Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if status == revokeStatusRevoked {
			revoked++
		}
	}

	return revoked, nil
}

// ActiveSessionIDs returns the tracked session ids for an identity.
// The index may contain ids of revoked or expired entries; callers
// needing certainty must check IsActive per id.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func be64(v int64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return out[:]
}
