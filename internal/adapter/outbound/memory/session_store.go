package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/session"
)

// MemorySessionStore implements session.Store with a per-user map of jti expiries.
type MemorySessionStore struct {
	sessions map[string]map[string]time.Time // userID -> jti -> expiresAt
	mu       sync.RWMutex
	now      func() time.Time
	janitor  *janitor
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore(opts ...Option) *MemorySessionStore {
	o := buildOptions(opts)
	return &MemorySessionStore{
		sessions: make(map[string]map[string]time.Time),
		now:      o.now,
		janitor:  newJanitor(o.cleanupInterval),
	}
}

// StartCleanup starts the background goroutine removing expired jtis.
// Call Stop() to stop it gracefully.
func (s *MemorySessionStore) StartCleanup(ctx context.Context) {
	s.janitor.start(ctx, s.cleanup)
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySessionStore) Stop() {
	s.janitor.stop()
}

func (s *MemorySessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for userID, jtis := range s.sessions {
		for jti, exp := range jtis {
			if !now.Before(exp) {
				delete(jtis, jti)
				cleaned++
			}
		}
		if len(jtis) == 0 {
			delete(s.sessions, userID)
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned expired sessions", "count", cleaned)
	}
}

// Register marks jti active for userID until ttl elapses.
func (s *MemorySessionStore) Register(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := session.Validate(userID, jti, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jtis, ok := s.sessions[userID]
	if !ok {
		jtis = make(map[string]time.Time)
		s.sessions[userID] = jtis
	}
	jtis[jti] = s.now().Add(ttl)
	return nil
}

// IsActive reports whether jti is registered and unexpired for userID.
func (s *MemorySessionStore) IsActive(ctx context.Context, userID, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.sessions[userID][jti]
	if !ok {
		return false, nil
	}
	return s.now().Before(exp), nil
}

// Revoke removes one jti.
func (s *MemorySessionStore) Revoke(ctx context.Context, userID, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jtis, ok := s.sessions[userID]; ok {
		delete(jtis, jti)
		if len(jtis) == 0 {
			delete(s.sessions, userID)
		}
	}
	return nil
}

// RevokeAll removes every jti of userID.
func (s *MemorySessionStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, exp := range s.sessions[userID] {
		if now.Before(exp) {
			n++
		}
	}
	delete(s.sessions, userID)
	return n, nil
}

// Ping always succeeds.
func (s *MemorySessionStore) Ping(ctx context.Context) error {
	return nil
}

// Size returns the number of jtis currently stored, expired or not.
// Useful for testing cleanup behavior.
func (s *MemorySessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, jtis := range s.sessions {
		n += len(jtis)
	}
	return n
}

// Compile-time interface verification.
var _ session.Store = (*MemorySessionStore)(nil)
