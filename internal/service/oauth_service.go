package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/oauth"
	"github.com/codetutor/tutorgate/internal/domain/user"
)

// stateBytes gives 256 bits of entropy per provider state.
const stateBytes = 32

// OAuthService runs the provider leg (start and callback) and the
// exchange of single-use codes for application users.
type OAuthService struct {
	providers map[string]oauth.Provider
	states    oauth.StateStore
	stateTTL  time.Duration
	exchange  *oauth.Exchange
	users     user.Repository
	recorder  audit.Recorder
	frontend  string
	logger    *slog.Logger
}

// OAuthConfig holds the OAuthService settings.
type OAuthConfig struct {
	FrontendURL string
	StateTTL    time.Duration
}

// NewOAuthService creates an OAuthService. A nil recorder discards events.
func NewOAuthService(
	providers []oauth.Provider,
	states oauth.StateStore,
	exchange *oauth.Exchange,
	users user.Repository,
	recorder audit.Recorder,
	cfg OAuthConfig,
	logger *slog.Logger,
) *OAuthService {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = oauth.DefaultStateTTL
	}
	if recorder == nil {
		recorder = audit.Discard
	}
	byName := make(map[string]oauth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &OAuthService{
		providers: byName,
		states:    states,
		stateTTL:  cfg.StateTTL,
		exchange:  exchange,
		users:     users,
		recorder:  recorder,
		frontend:  cfg.FrontendURL,
		logger:    logger,
	}
}

// Providers returns the configured provider names, sorted.
func (s *OAuthService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start parks a fresh state and PKCE verifier and returns the provider's
// authorization URL.
func (s *OAuthService) Start(ctx context.Context, providerName string) (string, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return "", oauth.ErrUnknownProvider
	}

	state, err := oauth.RandomString(stateBytes)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	if err := s.states.Put(ctx, state, oauth.Pending{Provider: providerName, Verifier: verifier}, s.stateTTL); err != nil {
		return "", err
	}
	return p.AuthCodeURL(ctx, state, verifier)
}

// Callback completes the provider leg and returns where to send the browser.
// The URL is always usable: on failure it is the frontend error fragment and
// the error is returned for logging only.
func (s *OAuthService) Callback(ctx context.Context, providerName, state, code, providerErr string) (string, error) {
	fail := func(err error) (string, error) {
		return oauth.ErrorURL(s.frontend), err
	}

	p, ok := s.providers[providerName]
	if !ok {
		return fail(oauth.ErrUnknownProvider)
	}

	// Pop the state first so a failed callback cannot be retried with it.
	pending, err := s.states.Pop(ctx, state)
	if errors.Is(err, oauth.ErrNotFound) {
		return fail(oauth.ErrInvalidState)
	}
	if err != nil {
		return fail(err)
	}
	if pending.Provider != providerName {
		return fail(oauth.ErrInvalidState)
	}
	if providerErr != "" {
		return fail(fmt.Errorf("provider returned error: %s", providerErr))
	}
	if code == "" {
		return fail(errors.New("provider callback has no code"))
	}

	id, err := p.Identify(ctx, code, pending.Verifier)
	if err != nil {
		return fail(err)
	}

	exCode, err := s.exchange.IssueCode(ctx, id)
	if err != nil {
		return fail(err)
	}
	return oauth.CallbackURL(s.frontend, exCode, providerName), nil
}

// Exchange redeems code once and returns the application user for the
// identity it carried, creating or linking the account as needed.
func (s *OAuthService) Exchange(ctx context.Context, code, providerName string) (*user.User, error) {
	id, err := s.exchange.Redeem(ctx, code, providerName)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidOrExpiredCode) {
			s.recorder.Record(audit.NewEvent(ctx, audit.EventOAuthRejected, audit.OutcomeFailure, "").With("provider", providerName))
		}
		return nil, err
	}

	u, err := s.findOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recorder.Record(audit.NewEvent(ctx, audit.EventOAuthExchange, audit.OutcomeSuccess, u.ID).With("provider", providerName))
	return u, nil
}

// findOrCreate resolves an identity to a user: by provider link first, then
// by a provider-verified email (linking that account), else a new account.
func (s *OAuthService) findOrCreate(ctx context.Context, id oauth.Identity) (*user.User, error) {
	u, err := s.users.GetByProvider(ctx, id.Provider, id.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("look up linked user: %w", err)
	}

	id.Email = user.NormalizeEmail(id.Email)
	if id.Email != "" {
		existing, err := s.users.GetByEmail(ctx, id.Email)
		switch {
		case err == nil:
			// Only a verified address may claim an existing account.
			if !id.EmailVerified || existing.Provider != "" {
				return nil, user.ErrEmailTaken
			}
			existing.Provider = id.Provider
			existing.ProviderSubject = id.Subject
			existing.EmailVerified = true
			if err := s.users.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("link provider: %w", err)
			}
			s.logger.Info("linked provider identity to existing account",
				"user_id", existing.ID, "provider", id.Provider)
			return existing, nil
		case !errors.Is(err, user.ErrNotFound):
			return nil, fmt.Errorf("look up user by email: %w", err)
		}
	}

	email := id.Email
	if email == "" {
		// Providers that withhold the address still need a unique key.
		email = fmt.Sprintf("%s+%s@users.noreply.invalid", id.Provider, id.Subject)
	}
	now := time.Now().UTC()
	created := &user.User{
		ID:              uuid.NewString(),
		Email:           email,
		Name:            id.Name,
		Role:            user.RoleStandard,
		EmailVerified:   id.EmailVerified && id.Email != "",
		Provider:        id.Provider,
		ProviderSubject: id.Subject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, created); err != nil {
		return nil, err
	}
	s.recorder.Record(audit.NewEvent(ctx, audit.EventRegister, audit.OutcomeSuccess, created.ID).With("provider", id.Provider))
	return created, nil
}
