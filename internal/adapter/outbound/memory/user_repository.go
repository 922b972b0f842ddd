package memory

import (
	"context"
	"sync"

	"github.com/codetutor/tutorgate/internal/domain/user"
)

// UserRepository implements user.Repository with in-memory maps.
// Thread-safe for concurrent access. For development/testing only.
type UserRepository struct {
	users    map[string]*user.User // ID -> User
	byEmail  map[string]string     // normalized email -> ID
	byLinked map[string]string     // provider + "\x00" + subject -> ID
	mu       sync.RWMutex
}

// NewUserRepository creates a new in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:    make(map[string]*user.User),
		byEmail:  make(map[string]string),
		byLinked: make(map[string]string),
	}
}

func linkKey(provider, subject string) string {
	return provider + "\x00" + subject
}

// GetByID returns a copy of the user with id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	// Return a copy to prevent mutation
	uCopy := *u
	return &uCopy, nil
}

// GetByEmail returns a copy of the user registered under email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[user.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, user.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// GetByProvider returns a copy of the user linked to provider/subject.
func (r *UserRepository) GetByProvider(ctx context.Context, provider, subject string) (*user.User, error) {
	r.mu.RLock()
	id, ok := r.byLinked[linkKey(provider, subject)]
	r.mu.RUnlock()
	if !ok {
		return nil, user.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Create stores a copy of u.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := user.NormalizeEmail(u.Email)
	if _, taken := r.byEmail[email]; taken {
		return user.ErrEmailTaken
	}

	uCopy := *u
	uCopy.Email = email
	r.users[u.ID] = &uCopy
	r.byEmail[email] = u.ID
	if u.Provider != "" {
		r.byLinked[linkKey(u.Provider, u.ProviderSubject)] = u.ID
	}
	return nil
}

// Update replaces the stored copy of u, reindexing email and provider link.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.users[u.ID]
	if !ok {
		return user.ErrNotFound
	}
	email := user.NormalizeEmail(u.Email)
	if owner, taken := r.byEmail[email]; taken && owner != u.ID {
		return user.ErrEmailTaken
	}

	delete(r.byEmail, old.Email)
	if old.Provider != "" {
		delete(r.byLinked, linkKey(old.Provider, old.ProviderSubject))
	}

	uCopy := *u
	uCopy.Email = email
	r.users[u.ID] = &uCopy
	r.byEmail[email] = u.ID
	if u.Provider != "" {
		r.byLinked[linkKey(u.Provider, u.ProviderSubject)] = u.ID
	}
	return nil
}

// Ping always succeeds.
func (r *UserRepository) Ping(ctx context.Context) error {
	return nil
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Compile-time interface verification.
var _ user.Repository = (*UserRepository)(nil)
