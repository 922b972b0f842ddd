package token

import "errors"

var (
	// ErrSecretTooShort is returned at construction when the signing secret has fewer than MinSecretBytes bytes.
	ErrSecretTooShort = errors.New("token secret must be at least 32 bytes")

	// ErrMalformed is returned when the token cannot be parsed at all.
	ErrMalformed = errors.New("malformed token")
	// ErrInvalidSignature is returned when the signature does not verify or the algorithm is unexpected.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned when now is at or past exp.
	ErrExpired = errors.New("token expired")
	// ErrNotYetValid is returned when now is before nbf.
	ErrNotYetValid = errors.New("token not yet valid")
	// ErrWrongIssuer is returned when iss does not name this service.
	ErrWrongIssuer = errors.New("token issued by another service")
	// ErrWrongAudience is returned when aud does not include this API.
	ErrWrongAudience = errors.New("token intended for another audience")
	// ErrWrongType is returned by VerifyType when the type claim differs.
	ErrWrongType = errors.New("unexpected token type")
)
