package redis

import (
	"context"
	"errors"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/csrf"
	goredis "github.com/redis/go-redis/v9"
)

// CSRFStore implements csrf.BindingStore under csrf:{sid}.
type CSRFStore struct {
	c *Client
}

// NewCSRFStore creates a CSRF binding store.
func NewCSRFStore(c *Client) *CSRFStore {
	return &CSRFStore{c: c}
}

// Bind stores token for sessionID, replacing any previous value.
func (s *CSRFStore) Bind(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	if err := s.c.rdb.Set(ctx, csrf.Key(sessionID), token, ttl).Err(); err != nil {
		return unavailable(csrf.ErrStoreUnavailable, err)
	}
	return nil
}

// Lookup returns the token bound to sessionID.
func (s *CSRFStore) Lookup(ctx context.Context, sessionID string) (string, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	tok, err := s.c.rdb.Get(ctx, csrf.Key(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", csrf.ErrNoBinding
	}
	if err != nil {
		return "", unavailable(csrf.ErrStoreUnavailable, err)
	}
	return tok, nil
}

// Delete removes the binding of sessionID.
func (s *CSRFStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	if err := s.c.rdb.Del(ctx, csrf.Key(sessionID)).Err(); err != nil {
		return unavailable(csrf.ErrStoreUnavailable, err)
	}
	return nil
}

// Compile-time interface verification.
var _ csrf.BindingStore = (*CSRFStore)(nil)
