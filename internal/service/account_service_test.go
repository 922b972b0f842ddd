package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/memory"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/user"
)

// fakeRevoker counts RevokeAll calls per user.
type fakeRevoker struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeRevoker) RevokeAll(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[userID]++
	return 2, nil
}

func (f *fakeRevoker) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

// eventLog is a synchronous audit.Recorder.
type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Record(e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) has(typ audit.EventType) bool {
	for _, got := range l.types() {
		if got == typ {
			return true
		}
	}
	return false
}

const testPassword = "correct horse battery"

func newAccountService(t *testing.T) (*AccountService, *memory.UserRepository, *fakeRevoker, *eventLog) {
	t.Helper()
	repo := memory.NewUserRepository()
	rev := &fakeRevoker{}
	log := &eventLog{}
	return NewAccountService(repo, rev, log, discardLogger()), repo, rev, log
}

func registerUser(t *testing.T, svc *AccountService) *user.User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Email:    "  Ada@Example.com ",
		Password: testPassword,
		Name:     "Ada",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return u
}

func TestAccountService_Register(t *testing.T) {
	t.Parallel()

	svc, repo, _, log := newAccountService(t)
	u := registerUser(t, svc)

	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalized", u.Email)
	}
	if u.Role != user.RoleStandard || u.EmailVerified {
		t.Errorf("Role = %q, EmailVerified = %v; want standard, unverified", u.Role, u.EmailVerified)
	}
	if u.PasswordHash == "" || u.PasswordHash == testPassword {
		t.Error("password not hashed")
	}
	if repo.Count() != 1 {
		t.Errorf("Count() = %d, want 1", repo.Count())
	}
	if !log.has(audit.EventRegister) {
		t.Error("register event not recorded")
	}

	_, err := svc.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: testPassword})
	if !errors.Is(err, user.ErrEmailTaken) {
		t.Errorf("duplicate Register() error = %v, want ErrEmailTaken", err)
	}
}

func TestAccountService_RegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newAccountService(t)
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing email", RegisterInput{Password: testPassword}},
		{"bad email", RegisterInput{Email: "not-an-email", Password: testPassword}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAccountService_Authenticate(t *testing.T) {
	t.Parallel()

	svc, _, _, log := newAccountService(t)
	registered := registerUser(t, svc)
	ctx := context.Background()

	u, err := svc.Authenticate(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if u.ID != registered.ID {
		t.Errorf("Authenticate() id = %q, want %q", u.ID, registered.ID)
	}

	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong password!!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}

	failures := 0
	for _, typ := range log.types() {
		if typ == audit.EventLoginFailed {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("login_failed events = %d, want 2", failures)
	}
}

func TestAccountService_ChangePasswordRevokesSessions(t *testing.T) {
	t.Parallel()

	svc, _, rev, log := newAccountService(t)
	u := registerUser(t, svc)
	ctx := context.Background()

	if _, err := svc.ChangePassword(ctx, u.ID, "wrong password!!", "another long password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("ChangePassword(wrong current) error = %v", err)
	}
	if rev.count(u.ID) != 0 {
		t.Fatal("sessions revoked on a rejected change")
	}

	if _, err := svc.ChangePassword(ctx, u.ID, testPassword, "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ChangePassword(short) error = %v, want ErrValidation", err)
	}

	if _, err := svc.ChangePassword(ctx, u.ID, testPassword, "another long password"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
	if rev.count(u.ID) != 1 {
		t.Errorf("RevokeAll calls = %d, want 1", rev.count(u.ID))
	}
	if !log.has(audit.EventSessionsRevoked) {
		t.Error("session revoke event not recorded")
	}
	if _, err := svc.Authenticate(ctx, "ada@example.com", "another long password"); err != nil {
		t.Errorf("Authenticate(new password) error: %v", err)
	}
}

func TestAccountService_ChangeEmail(t *testing.T) {
	t.Parallel()

	svc, repo, rev, _ := newAccountService(t)
	u := registerUser(t, svc)
	ctx := context.Background()

	updated, err := svc.ChangeEmail(ctx, u.ID, testPassword, "Ada.L@Example.com")
	if err != nil {
		t.Fatalf("ChangeEmail() error: %v", err)
	}
	if updated.Email != "ada.l@example.com" || updated.EmailVerified {
		t.Errorf("ChangeEmail() = %q verified=%v", updated.Email, updated.EmailVerified)
	}
	if rev.count(u.ID) != 1 {
		t.Errorf("RevokeAll calls = %d, want 1", rev.count(u.ID))
	}
	if _, err := repo.GetByEmail(ctx, "ada@example.com"); !errors.Is(err, user.ErrNotFound) {
		t.Errorf("old email still resolves: %v", err)
	}
}

func TestAccountService_SetRole(t *testing.T) {
	t.Parallel()

	svc, _, rev, log := newAccountService(t)
	u := registerUser(t, svc)
	ctx := context.Background()

	if _, err := svc.SetRole(ctx, u.ID, "superuser"); !errors.Is(err, user.ErrInvalidRole) {
		t.Errorf("SetRole(invalid) error = %v", err)
	}
	if _, err := svc.SetRole(ctx, u.ID, user.RoleStandard); err != nil {
		t.Fatalf("SetRole(same) error: %v", err)
	}
	if rev.count(u.ID) != 0 {
		t.Error("unchanged role revoked sessions")
	}

	updated, err := svc.SetRole(ctx, u.ID, user.RoleElevated)
	if err != nil {
		t.Fatalf("SetRole() error: %v", err)
	}
	if updated.Role != user.RoleElevated {
		t.Errorf("Role = %q, want elevated", updated.Role)
	}
	if rev.count(u.ID) != 1 {
		t.Errorf("RevokeAll calls = %d, want 1", rev.count(u.ID))
	}
	if !log.has(audit.EventRoleChange) {
		t.Error("role change event not recorded")
	}
}

func TestAccountService_RevokeFailureSurfaces(t *testing.T) {
	t.Parallel()

	repo := memory.NewUserRepository()
	rev := &fakeRevoker{}
	svc := NewAccountService(repo, rev, nil, discardLogger())
	u := registerUser(t, svc)

	rev.err = errors.New("redis down")
	if _, err := svc.SetRole(context.Background(), u.ID, user.RoleAdmin); err == nil {
		t.Error("SetRole() must report a failed revocation")
	}
	if _, err := svc.RevokeSessions(context.Background(), u.ID); err == nil {
		t.Error("RevokeSessions() must report a failed revocation")
	}
}

func TestAccountService_Seed(t *testing.T) {
	t.Parallel()

	svc, _, rev, _ := newAccountService(t)
	ctx := context.Background()

	u, created, err := svc.Seed(ctx, SeedUser{Email: "Grace@Example.com", Name: "Grace", EmailVerified: true})
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if !created || u.Role != user.RoleStandard || !u.EmailVerified {
		t.Errorf("Seed() = %+v created=%v", u, created)
	}

	again, created, err := svc.Seed(ctx, SeedUser{Email: "grace@example.com", Name: "Grace H", Role: user.RoleAdmin, Password: testPassword})
	if err != nil {
		t.Fatalf("Seed(update) error: %v", err)
	}
	if created || again.ID != u.ID {
		t.Errorf("Seed(update) created=%v id=%q, want existing %q", created, again.ID, u.ID)
	}
	if again.Role != user.RoleAdmin || again.Name != "Grace H" {
		t.Errorf("Seed(update) = %+v", again)
	}
	if rev.count(u.ID) != 1 {
		t.Errorf("RevokeAll calls = %d, want 1", rev.count(u.ID))
	}
	if _, err := svc.Authenticate(ctx, "grace@example.com", testPassword); err != nil {
		t.Errorf("Authenticate(seeded password) error: %v", err)
	}

	if _, _, err := svc.Seed(ctx, SeedUser{Email: "x@example.com", Role: "root"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Seed(bad role) error = %v, want ErrValidation", err)
	}
}
