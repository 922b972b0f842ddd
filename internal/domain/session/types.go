// Package session tracks which issued token ids are still live for each user.
//
// A token is only honoured while its jti is registered here. Revocation is
// deletion; natural expiry is the store's TTL. Implementations keep a per-user
// index so that revoking every session of one user touches only that user's keys.
package session

import (
	"errors"
	"fmt"
)

// Key prefixes owned by the session store. No other component writes under them.
const (
	KeyPrefix      = "sess"
	IndexKeyPrefix = "sessidx"
)

// Key returns the per-jti key for userID. The user id is a hash tag so a
// user's jti keys and index land in one cluster slot.
func Key(userID, jti string) string {
	return fmt.Sprintf("%s:{%s}:%s", KeyPrefix, userID, jti)
}

// IndexKey returns the key of the per-user jti index.
func IndexKey(userID string) string {
	return fmt.Sprintf("%s:{%s}", IndexKeyPrefix, userID)
}

var (
	// ErrInvalidArgument is returned when a user id or jti is empty or the ttl is not positive.
	ErrInvalidArgument = errors.New("session: user id, jti and positive ttl are required")
	// ErrStoreUnavailable wraps any failure to reach the backing store.
	// Callers on a security path must treat it as "not active".
	ErrStoreUnavailable = errors.New("session store unavailable")
)
