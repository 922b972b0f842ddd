// Package token signs and verifies the compact JWTs carried in session cookies.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	// TypeAccess is a short-lived token presented on every request.
	TypeAccess Type = "access"
	// TypeRefresh is a long-lived token used only to mint new access tokens.
	TypeRefresh Type = "refresh"
)

// IsValid returns true if t is a known token type.
func (t Type) IsValid() bool {
	return t == TypeAccess || t == TypeRefresh
}

// Claims is the full claim set embedded in every token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type Type   `json:"type"`
	// SessionID is the jti of the refresh token the session was started with.
	// Access tokens minted by a refresh carry the same value.
	SessionID string `json:"sid,omitempty"`
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// JTI returns the token id used as the revocation handle.
func (c *Claims) JTI() string {
	return c.ID
}

// ExpiresIn returns the remaining lifetime relative to now, or zero if already past.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IssueParams describes a token to mint.
type IssueParams struct {
	Subject   string
	Role      string
	Type      Type
	TTL       time.Duration
	SessionID string
}

// Signed is a freshly minted token and the claims it carries.
type Signed struct {
	Value  string
	Claims *Claims
}
