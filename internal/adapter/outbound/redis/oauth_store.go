package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/oauth"
	goredis "github.com/redis/go-redis/v9"
)

// jsonStore keeps JSON values under a key prefix and hands each out once.
type jsonStore[T any] struct {
	c      *Client
	prefix string
}

func (s *jsonStore[T]) key(id string) string {
	return s.prefix + ":" + id
}

func (s *jsonStore[T]) put(ctx context.Context, id string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", s.prefix, err)
	}
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	if err := s.c.rdb.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return unavailable(oauth.ErrStoreUnavailable, err)
	}
	return nil
}

// pop reads and deletes the key with GETDEL, so concurrent callers
// cannot both receive the value.
func (s *jsonStore[T]) pop(ctx context.Context, id string) (T, error) {
	var zero T
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	data, err := s.c.rdb.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return zero, oauth.ErrNotFound
	}
	if err != nil {
		return zero, unavailable(oauth.ErrStoreUnavailable, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("unmarshal %s entry: %w", s.prefix, err)
	}
	return v, nil
}

// CodeStore implements oauth.CodeStore.
type CodeStore struct {
	s jsonStore[oauth.Identity]
}

// NewCodeStore creates an exchange code store.
func NewCodeStore(c *Client) *CodeStore {
	return &CodeStore{s: jsonStore[oauth.Identity]{c: c, prefix: oauth.CodeKeyPrefix}}
}

// Put stores id under code for ttl.
func (s *CodeStore) Put(ctx context.Context, code string, id oauth.Identity, ttl time.Duration) error {
	return s.s.put(ctx, code, id, ttl)
}

// Pop atomically returns and deletes the identity under code.
func (s *CodeStore) Pop(ctx context.Context, code string) (oauth.Identity, error) {
	return s.s.pop(ctx, code)
}

// StateStore implements oauth.StateStore.
type StateStore struct {
	s jsonStore[oauth.Pending]
}

// NewStateStore creates a provider state store.
func NewStateStore(c *Client) *StateStore {
	return &StateStore{s: jsonStore[oauth.Pending]{c: c, prefix: oauth.StateKeyPrefix}}
}

// Put stores p under state for ttl.
func (s *StateStore) Put(ctx context.Context, state string, p oauth.Pending, ttl time.Duration) error {
	return s.s.put(ctx, state, p, ttl)
}

// Pop atomically returns and deletes the pending entry under state.
func (s *StateStore) Pop(ctx context.Context, state string) (oauth.Pending, error) {
	return s.s.pop(ctx, state)
}

// Compile-time interface verification.
var (
	_ oauth.CodeStore  = (*CodeStore)(nil)
	_ oauth.StateStore = (*StateStore)(nil)
)
