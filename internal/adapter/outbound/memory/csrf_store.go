package memory

import (
	"context"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/csrf"
)

// MemoryCSRFStore implements csrf.BindingStore.
type MemoryCSRFStore struct {
	bindings *expiringMap[string]
	janitor  *janitor
}

// NewCSRFStore creates a new in-memory CSRF binding store.
func NewCSRFStore(opts ...Option) *MemoryCSRFStore {
	o := buildOptions(opts)
	return &MemoryCSRFStore{
		bindings: newExpiringMap[string](o.now),
		janitor:  newJanitor(o.cleanupInterval),
	}
}

// Bind sets the token of sessionID, replacing any previous one.
func (s *MemoryCSRFStore) Bind(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	s.bindings.set(sessionID, token, ttl)
	return nil
}

// Lookup returns the bound token or csrf.ErrNoBinding.
func (s *MemoryCSRFStore) Lookup(ctx context.Context, sessionID string) (string, error) {
	tok, ok := s.bindings.get(sessionID)
	if !ok {
		return "", csrf.ErrNoBinding
	}
	return tok, nil
}

// Delete removes the binding of sessionID.
func (s *MemoryCSRFStore) Delete(ctx context.Context, sessionID string) error {
	s.bindings.remove(sessionID)
	return nil
}

// StartCleanup starts the background sweep of expired bindings.
func (s *MemoryCSRFStore) StartCleanup(ctx context.Context) {
	s.janitor.start(ctx, func() { s.bindings.sweep() })
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (s *MemoryCSRFStore) Stop() {
	s.janitor.stop()
}

// Compile-time interface verification.
var _ csrf.BindingStore = (*MemoryCSRFStore)(nil)
