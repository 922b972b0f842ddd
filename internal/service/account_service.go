package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/user"
)

// AccountService errors.
var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
)

// SessionRevoker ends every session of a user. credential.Issuer implements it.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=12,max=256"`
	Name     string `json:"name" validate:"max=100"`
}

// SeedUser is a user created by an operator, e.g. from an import file.
type SeedUser struct {
	Email         string    `yaml:"email" validate:"required,email,max=254"`
	Name          string    `yaml:"name" validate:"max=100"`
	Role          user.Role `yaml:"role" validate:"omitempty,oneof=standard elevated admin"`
	Password      string    `yaml:"password" validate:"omitempty,min=12,max=256"`
	EmailVerified bool      `yaml:"email_verified"`
}

// AccountService owns registration, password login and the account
// mutations that must end every existing session.
type AccountService struct {
	users    user.Repository
	sessions SessionRevoker
	recorder audit.Recorder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccountService creates an AccountService. A nil recorder discards events.
func NewAccountService(users user.Repository, sessions SessionRevoker, recorder audit.Recorder, logger *slog.Logger) *AccountService {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &AccountService{
		users:    users,
		sessions: sessions,
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Register creates a standard, unverified account with a password.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	in.Email = user.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, formatFieldErrors(err))
	}

	hash, err := user.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &user.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		Role:         user.RoleStandard,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.recorder.Record(audit.NewEvent(ctx, audit.EventRegister, audit.OutcomeSuccess, u.ID))
	return u, nil
}

// Authenticate checks an email and password. Unknown emails spend the same
// hashing time as known ones.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		user.BurnPasswordCheck(password)
		s.recorder.Record(audit.NewEvent(ctx, audit.EventLoginFailed, audit.OutcomeFailure, "").With("reason", "unknown_email"))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	ok, err := user.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", "user_id", u.ID, "error", err)
	}
	if !ok {
		s.recorder.Record(audit.NewEvent(ctx, audit.EventLoginFailed, audit.OutcomeFailure, u.ID).With("reason", "bad_password"))
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every session of the user.
func (s *AccountService) ChangePassword(ctx context.Context, userID, current, next string) (*user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok, _ := user.VerifyPassword(current, u.PasswordHash); !ok {
		return nil, ErrInvalidCredentials
	}
	if err := s.validate.Var(next, "required,min=12,max=256"); err != nil {
		return nil, fmt.Errorf("%w: new password must be 12 to 256 characters", ErrValidation)
	}

	hash, err := user.HashPassword(next)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	s.recorder.Record(audit.NewEvent(ctx, audit.EventPasswordChange, audit.OutcomeSuccess, u.ID))
	return u, s.revokeAll(ctx, u.ID, "password_change")
}

// ChangeEmail moves the account to a new address, which starts unverified,
// and revokes every session.
func (s *AccountService) ChangeEmail(ctx context.Context, userID, password, newEmail string) (*user.User, error) {
	newEmail = user.NormalizeEmail(newEmail)
	if err := s.validate.Var(newEmail, "required,email,max=254"); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok, _ := user.VerifyPassword(password, u.PasswordHash); !ok {
		return nil, ErrInvalidCredentials
	}

	u.Email = newEmail
	u.EmailVerified = false
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	s.recorder.Record(audit.NewEvent(ctx, audit.EventEmailChange, audit.OutcomeSuccess, u.ID))
	return u, s.revokeAll(ctx, u.ID, "email_change")
}

// SetRole changes the role of userID and revokes every session so new
// tokens carry the new role.
func (s *AccountService) SetRole(ctx context.Context, userID string, role user.Role) (*user.User, error) {
	if !role.IsValid() {
		return nil, user.ErrInvalidRole
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role == role {
		return u, nil
	}

	prev := u.Role
	u.Role = role
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	s.recorder.Record(audit.NewEvent(ctx, audit.EventRoleChange, audit.OutcomeSuccess, u.ID).
		With("from", string(prev)).With("to", string(role)))
	return u, s.revokeAll(ctx, u.ID, "role_change")
}

// RevokeSessions ends every session of userID on operator request.
func (s *AccountService) RevokeSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.recorder.Record(audit.NewEvent(ctx, audit.EventSessionsRevoked, audit.OutcomeSuccess, userID).
		With("reason", "operator").With("count", fmt.Sprint(n)))
	return n, nil
}

// Seed creates or updates an account from operator input. Existing accounts
// keep their id; a role change revokes their sessions.
func (s *AccountService) Seed(ctx context.Context, in SeedUser) (*user.User, bool, error) {
	in.Email = user.NormalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = user.RoleStandard
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrValidation, formatFieldErrors(err))
	}

	hash := ""
	if in.Password != "" {
		h, err := user.HashPassword(in.Password)
		if err != nil {
			return nil, false, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, user.ErrNotFound):
		now := time.Now().UTC()
		u := &user.User{
			ID:            uuid.NewString(),
			Email:         in.Email,
			Name:          in.Name,
			Role:          in.Role,
			EmailVerified: in.EmailVerified,
			PasswordHash:  hash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, false, err
		}
		s.recorder.Record(audit.NewEvent(ctx, audit.EventRegister, audit.OutcomeSuccess, u.ID).With("source", "seed"))
		return u, true, nil
	case err != nil:
		return nil, false, err
	}

	roleChanged := existing.Role != in.Role
	existing.Name = in.Name
	existing.Role = in.Role
	existing.EmailVerified = in.EmailVerified
	if hash != "" {
		existing.PasswordHash = hash
	}
	if err := s.users.Update(ctx, existing); err != nil {
		return nil, false, err
	}
	if roleChanged || hash != "" {
		if err := s.revokeAll(ctx, existing.ID, "seed_update"); err != nil {
			return nil, false, err
		}
	}
	return existing, false, nil
}

func (s *AccountService) revokeAll(ctx context.Context, userID, reason string) error {
	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke sessions after account change",
			"user_id", userID, "reason", reason, "error", err)
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.recorder.Record(audit.NewEvent(ctx, audit.EventSessionsRevoked, audit.OutcomeSuccess, userID).
		With("reason", reason).With("count", fmt.Sprint(n)))
	return nil
}

// formatFieldErrors renders validator errors as "field: tag" pairs.
func formatFieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
