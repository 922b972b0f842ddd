package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/sqlite"
	"github.com/codetutor/tutorgate/internal/config"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/user"
	"github.com/codetutor/tutorgate/internal/service"
)

// operatorEnv is what the offline account commands share: the user database,
// the session store for revocation and a synchronous audit trail.
type operatorEnv struct {
	users    *sqlite.UserRepository
	accounts *service.AccountService
	logger   *slog.Logger
	closers  []func() error
}

func openOperatorEnv(ctx context.Context) (*operatorEnv, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Server, cfg.DevMode)
	env := &operatorEnv{logger: logger}

	users, closeUsers, err := openUsers(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}
	env.users = users
	env.closers = append(env.closers, closeUsers)

	if cfg.Store.Driver == "memory" {
		logger.Warn("memory store: session revocation only affects this process, not a running server")
	}
	kv, err := openKVStores(ctx, cfg.Store, logger)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	env.closers = append(env.closers, kv.close)

	auditBackend, err := newAuditStore(cfg.Audit, logger)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("failed to open audit output: %w", err)
	}
	env.closers = append(env.closers, auditBackend.Close)

	recorder := audit.RecorderFunc(func(e audit.Event) {
		if err := auditBackend.Append(context.WithoutCancel(ctx), e); err != nil {
			logger.Error("failed to write audit event", "type", e.Type, "error", err)
		}
	})
	env.accounts = service.NewAccountService(users, kv.sessions, recorder, logger)
	return env, nil
}

// close releases resources in reverse order of acquisition.
func (e *operatorEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error("close failed", "error", err)
		}
	}
}

// userByEmail resolves an operator-supplied email to an account.
func (e *operatorEnv) userByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := e.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	return u, err
}

// operatorContext marks audit events as coming from the CLI.
func operatorContext(ctx context.Context) context.Context {
	host, _ := os.Hostname()
	return audit.WithMeta(ctx, audit.Meta{RequestID: "cli", RemoteIP: "local:" + host})
}
