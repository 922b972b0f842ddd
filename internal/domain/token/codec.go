package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the minimum accepted HMAC secret length.
const MinSecretBytes = 32

// Option configures a Codec.
type Option func(*Codec)

// WithNowFunc overrides the clock used for iat/nbf/exp and for verification.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithLeeway allows a small clock skew when checking nbf and exp.
func WithLeeway(d time.Duration) Option {
	return func(c *Codec) {
		c.leeway = d
	}
}

// Codec signs and verifies HS256 tokens for a fixed issuer and audience.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewCodec creates a Codec. The secret must be at least MinSecretBytes long.
func NewCodec(secret []byte, issuer, audience string, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	c := &Codec{
		secret:   append([]byte(nil), secret...),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue mints a signed token with a fresh jti.
func (c *Codec) Issue(p IssueParams) (Signed, error) {
	if p.Subject == "" {
		return Signed{}, errors.New("token subject is required")
	}
	if !p.Type.IsValid() {
		return Signed{}, fmt.Errorf("unknown token type %q", p.Type)
	}
	if p.TTL <= 0 {
		return Signed{}, errors.New("token ttl must be positive")
	}

	jti, err := generateJTI()
	if err != nil {
		return Signed{}, fmt.Errorf("generate jti: %w", err)
	}

	now := c.now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   p.Subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
		Role:      p.Role,
		Type:      p.Type,
		SessionID: p.SessionID,
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Signed{}, fmt.Errorf("sign token: %w", err)
	}
	return Signed{Value: value, Claims: claims}, nil
}

// Verify checks signature, time window, issuer and audience.
// Each failure maps to its own sentinel error so callers can tell
// a token from another service apart from a tampered one.
func (c *Codec) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, c.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Issuer != c.issuer {
		return nil, ErrWrongIssuer
	}
	if !audienceContains(claims.Audience, c.audience) {
		return nil, ErrWrongAudience
	}
	if claims.ID == "" || claims.Subject == "" || !claims.Type.IsValid() {
		return nil, ErrMalformed
	}
	return claims, nil
}

// VerifyType is Verify plus a check on the type claim.
func (c *Codec) VerifyType(raw string, want Type) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (c *Codec) key(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.secret, nil
}

// classify maps jwt parser errors onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	default:
		return ErrMalformed
	}
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint returns a short, log-safe digest of a jti.
func Fingerprint(jti string) string {
	return strconv.FormatUint(xxhash.Sum64String(jti), 16)
}
