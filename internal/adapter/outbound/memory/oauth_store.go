package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/oauth"
)

// MemoryCodeStore implements oauth.CodeStore.
type MemoryCodeStore struct {
	codes   *expiringMap[oauth.Identity]
	janitor *janitor
}

// NewCodeStore creates a new in-memory exchange code store.
func NewCodeStore(opts ...Option) *MemoryCodeStore {
	o := buildOptions(opts)
	return &MemoryCodeStore{
		codes:   newExpiringMap[oauth.Identity](o.now),
		janitor: newJanitor(o.cleanupInterval),
	}
}

// Put stores id under code for ttl.
func (s *MemoryCodeStore) Put(ctx context.Context, code string, id oauth.Identity, ttl time.Duration) error {
	s.codes.set(code, id, ttl)
	return nil
}

// Pop returns and deletes the identity under code in one critical section.
func (s *MemoryCodeStore) Pop(ctx context.Context, code string) (oauth.Identity, error) {
	id, ok := s.codes.pop(code)
	if !ok {
		return oauth.Identity{}, oauth.ErrNotFound
	}
	return id, nil
}

// StartCleanup starts the background sweep of expired codes.
func (s *MemoryCodeStore) StartCleanup(ctx context.Context) {
	s.janitor.start(ctx, func() {
		if n := s.codes.sweep(); n > 0 {
			slog.Debug("cleaned expired oauth codes", "count", n)
		}
	})
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (s *MemoryCodeStore) Stop() {
	s.janitor.stop()
}

// Size returns the number of stored codes, expired or not.
func (s *MemoryCodeStore) Size() int {
	return s.codes.size()
}

// MemoryStateStore implements oauth.StateStore.
type MemoryStateStore struct {
	states  *expiringMap[oauth.Pending]
	janitor *janitor
}

// NewStateStore creates a new in-memory provider state store.
func NewStateStore(opts ...Option) *MemoryStateStore {
	o := buildOptions(opts)
	return &MemoryStateStore{
		states:  newExpiringMap[oauth.Pending](o.now),
		janitor: newJanitor(o.cleanupInterval),
	}
}

// Put stores p under state for ttl.
func (s *MemoryStateStore) Put(ctx context.Context, state string, p oauth.Pending, ttl time.Duration) error {
	s.states.set(state, p, ttl)
	return nil
}

// Pop returns and deletes the pending entry under state.
func (s *MemoryStateStore) Pop(ctx context.Context, state string) (oauth.Pending, error) {
	p, ok := s.states.pop(state)
	if !ok {
		return oauth.Pending{}, oauth.ErrNotFound
	}
	return p, nil
}

// StartCleanup starts the background sweep of expired states.
func (s *MemoryStateStore) StartCleanup(ctx context.Context) {
	s.janitor.start(ctx, func() { s.states.sweep() })
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (s *MemoryStateStore) Stop() {
	s.janitor.stop()
}

// Compile-time interface verification.
var (
	_ oauth.CodeStore  = (*MemoryCodeStore)(nil)
	_ oauth.StateStore = (*MemoryStateStore)(nil)
)
