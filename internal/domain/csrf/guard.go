// Package csrf implements double-submit cookie protection bound to a session.
//
// The token is written to a script-readable cookie and must be echoed in the
// X-CSRF-Token header on every state-changing request. The server also keeps
// the token bound to the session id, so a cookie planted from an
// unauthenticated context cannot be replayed against a real session.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// CookieName is the readable cookie carrying the token.
	CookieName = "csrf_token"
	// HeaderName is the request header that must echo the cookie.
	HeaderName = "X-CSRF-Token"
	// KeyPrefix is the store keyspace owned by the guard.
	KeyPrefix = "csrf"
)

// Key returns the binding key for a session id.
func Key(sessionID string) string {
	return KeyPrefix + ":" + sessionID
}

var (
	// ErrNoBinding is returned by BindingStore.Lookup when the session has no token.
	ErrNoBinding = errors.New("no csrf token bound to session")
	// ErrStoreUnavailable wraps binding store failures.
	ErrStoreUnavailable = errors.New("csrf store unavailable")
)

// BindingStore keeps the server-side copy of each session's token.
type BindingStore interface {
	Bind(ctx context.Context, sessionID, token string, ttl time.Duration) error
	Lookup(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config controls cookie attributes and binding lifetime.
type Config struct {
	// TTL should match the refresh token lifetime.
	TTL    time.Duration
	Secure bool
}

// Guard issues, verifies and clears CSRF tokens.
type Guard struct {
	store BindingStore
	cfg   Config
}

// NewGuard creates a Guard.
func NewGuard(store BindingStore, cfg Config) *Guard {
	return &Guard{store: store, cfg: cfg}
}

// Issue generates a new token for sessionID, replacing any previous one,
// and sets the csrf_token cookie.
func (g *Guard) Issue(ctx context.Context, w http.ResponseWriter, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: session id is required")
	}
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	if err := g.store.Bind(ctx, sessionID, token, g.cfg.TTL); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // the SPA reads it to build the header
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(g.cfg.TTL.Seconds()),
	})
	return token, nil
}

// Verify reports whether header and cookie match each other and the token
// bound to sessionID. A store failure returns false with a non-nil error.
func (g *Guard) Verify(ctx context.Context, sessionID, header, cookie string) (bool, error) {
	if sessionID == "" || header == "" || cookie == "" {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
		return false, nil
	}

	bound, err := g.store.Lookup(ctx, sessionID)
	if errors.Is(err, ErrNoBinding) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(cookie), []byte(bound)) == 1, nil
}

// VerifyRequest is Verify with header and cookie read from r.
func (g *Guard) VerifyRequest(ctx context.Context, sessionID string, r *http.Request) (bool, error) {
	header, cookie := FromRequest(r)
	return g.Verify(ctx, sessionID, header, cookie)
}

// Clear drops the binding and expires the cookie.
func (g *Guard) Clear(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	if sessionID == "" {
		return nil
	}
	return g.store.Delete(ctx, sessionID)
}

// FromRequest returns the header and cookie token values of r.
func FromRequest(r *http.Request) (header, cookie string) {
	header = r.Header.Get(HeaderName)
	if c, err := r.Cookie(CookieName); err == nil {
		cookie = c.Value
	}
	return header, cookie
}

// RequiresCheck returns true for state-changing methods.
func RequiresCheck(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// generateToken returns 32 random bytes hex-encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
