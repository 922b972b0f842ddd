package user

import "context"

// Lookup is the narrow read the request pipeline needs.
type Lookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Repository persists users.
// Implementations: SQLite (prod), in-memory (dev/test).
type Repository interface {
	Lookup

	// GetByEmail returns ErrNotFound if no user has the normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByProvider returns ErrNotFound if no user is linked to provider/subject.
	GetByProvider(ctx context.Context, provider, subject string) (*User, error)

	// Create inserts u. Returns ErrEmailTaken on a duplicate email.
	Create(ctx context.Context, u *User) error

	// Update saves all mutable fields of u. Returns ErrNotFound if absent,
	// ErrEmailTaken if the new email belongs to another user.
	Update(ctx context.Context, u *User) error

	// Ping checks the backing store.
	Ping(ctx context.Context) error
}
