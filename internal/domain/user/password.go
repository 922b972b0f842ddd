package user

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// argon2idParams uses the OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// dummyHash is compared against when the account does not exist so that
// unknown emails cost the same as wrong passwords.
var dummyHash string

func init() {
	h, err := argon2id.CreateHash("tutorgate-dummy-password", argon2idParams)
	if err != nil {
		panic(fmt.Sprintf("create dummy argon2id hash: %v", err))
	}
	dummyHash = h
}

// HashPassword returns an Argon2id PHC hash of password.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// VerifyPassword compares password with a stored hash. An empty hash
// (provider-only account) never matches but still spends the hashing time.
func VerifyPassword(password, storedHash string) (bool, error) {
	if storedHash == "" {
		_, _ = safeCompare(password, dummyHash)
		return false, nil
	}
	return safeCompare(password, storedHash)
}

// BurnPasswordCheck performs a throwaway comparison.
func BurnPasswordCheck(password string) {
	_, _ = safeCompare(password, dummyHash)
}

// safeCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The library panics on hashes with zero rounds or parallelism.
func safeCompare(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}
