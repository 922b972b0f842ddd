// Package oauth implements the hand-off between an external identity provider
// and a first-party session.
//
// After the provider callback, the identity is parked under a short-lived,
// single-use code. The browser receives the code in a URL fragment and trades
// it for session cookies exactly once.
package oauth

import (
	"context"
	"errors"
	"time"
)

// Keyspaces owned by the oauth stores.
const (
	CodeKeyPrefix  = "oauth:code"
	StateKeyPrefix = "oauth:state"
)

// DefaultCodeTTL is the lifetime of an exchange code.
const DefaultCodeTTL = 60 * time.Second

// DefaultStateTTL bounds how long a user may spend on the provider consent page.
const DefaultStateTTL = 10 * time.Minute

var (
	// ErrInvalidOrExpiredCode covers unknown, consumed, expired and provider-mismatched codes alike.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrInvalidState is returned when a callback carries an unknown or replayed state.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrUnknownProvider is returned for a provider name that is not configured.
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrNotFound is returned by store Pop when the key is absent.
	ErrNotFound = errors.New("oauth entry not found")
	// ErrStoreUnavailable wraps store failures.
	ErrStoreUnavailable = errors.New("oauth store unavailable")
)

// Identity is what a provider asserted about the user.
type Identity struct {
	Provider      string    `json:"provider"`
	Subject       string    `json:"sub"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Name          string    `json:"name,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Pending is the server-side half of an in-flight provider redirect.
type Pending struct {
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
}

// CodeStore holds exchange codes. Pop must read and delete in a single atomic step.
type CodeStore interface {
	Put(ctx context.Context, code string, id Identity, ttl time.Duration) error
	Pop(ctx context.Context, code string) (Identity, error)
}

// StateStore holds provider redirect state. Pop must be atomic.
type StateStore interface {
	Put(ctx context.Context, state string, p Pending, ttl time.Duration) error
	Pop(ctx context.Context, state string) (Pending, error)
}

// Provider is an external identity provider.
type Provider interface {
	Name() string
	// AuthCodeURL returns the provider consent URL for state and PKCE verifier.
	AuthCodeURL(ctx context.Context, state, verifier string) (string, error)
	// Identify redeems the provider's authorization code.
	Identify(ctx context.Context, code, verifier string) (Identity, error)
}
