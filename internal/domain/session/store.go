package session

import (
	"context"
	"time"
)

// Store is the registry of active token ids.
// Implementations: Redis (prod), in-memory (dev/test).
type Store interface {
	// Register marks jti as active for userID for ttl.
	Register(ctx context.Context, userID, jti string, ttl time.Duration) error

	// IsActive reports whether jti is still registered for userID.
	// A store failure returns false together with an error wrapping ErrStoreUnavailable.
	IsActive(ctx context.Context, userID, jti string) (bool, error)

	// Revoke removes a single jti. Revoking an unknown jti is not an error.
	Revoke(ctx context.Context, userID, jti string) error

	// RevokeAll removes every active jti of userID and returns how many were removed.
	RevokeAll(ctx context.Context, userID string) (int, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// Validate checks Register arguments. Shared by all implementations.
func Validate(userID, jti string, ttl time.Duration) error {
	if userID == "" || jti == "" || ttl <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
