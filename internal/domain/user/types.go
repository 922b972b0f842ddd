// Package user contains the account model consumed by the credential layer.
package user

import (
	"errors"
	"strings"
	"time"
)

// Role selects a rate-limit tier and feeds route policies.
type Role string

const (
	// RoleStandard is the default tier for new accounts.
	RoleStandard Role = "standard"
	// RoleElevated has higher request and cost allowances.
	RoleElevated Role = "elevated"
	// RoleAdmin can manage other accounts.
	RoleAdmin Role = "admin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleStandard, RoleElevated, RoleAdmin:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when registering or changing to an email already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidRole is returned for roles outside the known set.
	ErrInvalidRole = errors.New("invalid role")
)

// User is an application account.
type User struct {
	ID    string
	Email string
	Name  string
	Role  Role
	// EmailVerified is true once the address is confirmed, or when a provider vouched for it.
	EmailVerified bool
	// PasswordHash is an Argon2id PHC string; empty for provider-only accounts.
	PasswordHash string
	// Provider and ProviderSubject link the account to an external identity.
	Provider        string
	ProviderSubject string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Profile is the public view of a user returned in response bodies.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
