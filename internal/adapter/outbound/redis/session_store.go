package redis

import (
	"context"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/session"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultIndexTTL is the lifetime of a user's jti index; it is extended on
// every Register and should be at least the refresh token lifetime.
const DefaultIndexTTL = 31 * 24 * time.Hour

// revokeAllScript deletes every indexed session key of one user and the
// index itself atomically. Returns the number of live keys removed. The jti
// keys are derived from ARGV rather than passed in KEYS; they share the
// index's {user} hash tag, so the script stays within one cluster slot.
var revokeAllScript = goredis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return n
`)

// SessionStore implements session.Store.
//
// Each active jti is a key sess:{<user>}:<jti> with the token's TTL. A set
// sessidx:{<user>} indexes the jtis of a user for RevokeAll; entries whose key
// already expired are harmless.
type SessionStore struct {
	c        *Client
	indexTTL time.Duration
}

// NewSessionStore creates a session store. A non-positive indexTTL selects DefaultIndexTTL.
func NewSessionStore(c *Client, indexTTL time.Duration) *SessionStore {
	if indexTTL <= 0 {
		indexTTL = DefaultIndexTTL
	}
	return &SessionStore{c: c, indexTTL: indexTTL}
}

// Register sets the jti key and adds it to the user's index.
func (s *SessionStore) Register(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := session.Validate(userID, jti, ttl); err != nil {
		return err
	}
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	idx := session.IndexKey(userID)
	_, err := s.c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, session.Key(userID, jti), 1, ttl)
		pipe.SAdd(ctx, idx, jti)
		pipe.Expire(ctx, idx, s.indexTTL)
		return nil
	})
	if err != nil {
		return unavailable(session.ErrStoreUnavailable, err)
	}
	return nil
}

// IsActive reports whether the jti key exists.
func (s *SessionStore) IsActive(ctx context.Context, userID, jti string) (bool, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	n, err := s.c.rdb.Exists(ctx, session.Key(userID, jti)).Result()
	if err != nil {
		return false, unavailable(session.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Revoke deletes the jti key and its index entry.
func (s *SessionStore) Revoke(ctx context.Context, userID, jti string) error {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	_, err := s.c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, session.Key(userID, jti))
		pipe.SRem(ctx, session.IndexKey(userID), jti)
		return nil
	})
	if err != nil {
		return unavailable(session.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every jti of userID in one script call.
func (s *SessionStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	prefix := session.Key(userID, "")
	n, err := revokeAllScript.Run(ctx, s.c.rdb, []string{session.IndexKey(userID)}, prefix).Int()
	if err != nil {
		return 0, unavailable(session.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.c.Ping(ctx); err != nil {
		return unavailable(session.ErrStoreUnavailable, err)
	}
	return nil
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
