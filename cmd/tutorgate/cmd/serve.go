package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/codetutor/tutorgate/internal/adapter/inbound/http"
	auditstore "github.com/codetutor/tutorgate/internal/adapter/outbound/audit"
	"github.com/codetutor/tutorgate/internal/adapter/outbound/cel"
	"github.com/codetutor/tutorgate/internal/adapter/outbound/oidc"
	"github.com/codetutor/tutorgate/internal/config"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/credential"
	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/oauth"
	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	"github.com/codetutor/tutorgate/internal/domain/token"
	"github.com/codetutor/tutorgate/internal/service"
	"github.com/codetutor/tutorgate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the tutorgate HTTP server.

Examples:
  # Local development: memory store, generated secret, debug logging
  tutorgate serve --dev

  # Production with a config file
  tutorgate --config /etc/tutorgate/tutorgate.yaml serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	devMode  bool
	echoCost float64
	tlsCert  string
	tlsKey   string
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (memory store, generated secret, debug logging)")
	serveCmd.Flags().Float64Var(&echoCost, "echo-cost", 0.01, "Cost charged per call by the built-in echo tutor")
	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file (serve HTTPS directly)")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg.Server, cfg.DevMode)
	slog.SetDefault(logger)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("dev mode enabled: do not expose this instance")
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("tutorgate stopped")
	return nil
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Tracing.Enabled {
		providers, err := telemetry.NewProviders(os.Stderr, "tutorgate", Version)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		providers.SetGlobal()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Stores
	kv, err := openKVStores(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() { _ = kv.close() }()

	users, closeUsers, err := openUsers(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open user database: %w", err)
	}
	defer func() { _ = closeUsers() }()

	// Audit trail
	auditBackend, err := newAuditStore(cfg.Audit, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit output: %w", err)
	}
	auditSvc := service.NewAuditService(auditBackend, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushInterval),
	)
	// Detached from ctx so events recorded during shutdown are still flushed by Stop.
	auditSvc.Start(context.WithoutCancel(ctx))
	defer func() {
		auditSvc.Stop()
		if err := auditBackend.Close(); err != nil {
			logger.Error("audit store close failed", "error", err)
		}
	}()

	// Credentials
	codec, err := token.NewCodec([]byte(cfg.Token.Secret), cfg.Token.Issuer, cfg.Token.Audience)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	secure := cfg.Server.Production
	issuer := credential.NewIssuer(codec, kv.sessions, credential.Config{
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Secure:     secure,
	})
	guard := csrf.NewGuard(kv.csrf, csrf.Config{TTL: cfg.Token.RefreshTTL, Secure: secure})
	limiter := ratelimit.NewLimiter(kv.counter, kv.ledger, buildTiers(cfg.RateLimit))

	// Accounts and OAuth
	accounts := service.NewAccountService(users, issuer, auditSvc, logger)
	oauthSvc := service.NewOAuthService(
		buildProviders(cfg.OAuth.Providers),
		kv.states,
		oauth.NewExchange(kv.codes, cfg.OAuth.CodeTTL),
		users,
		auditSvc,
		service.OAuthConfig{FrontendURL: cfg.Server.FrontendURL, StateTTL: cfg.OAuth.StateTTL},
		logger,
	)

	deps := httpadapter.Deps{
		Issuer:   issuer,
		CSRF:     guard,
		Limiter:  limiter,
		Users:    users,
		Accounts: accounts,
		OAuth:    oauthSvc,
		Tutor:    &service.EchoTutor{CostPerCall: echoCost},
		Recorder: auditSvc,
		Health: httpadapter.NewHealthChecker(Version).
			AddCheck("kv_store", kv.sessions).
			AddCheck("user_db", users).
			WithAuditQueue(auditSvc),
	}
	if len(cfg.Policies) > 0 {
		policy, err := buildPolicy(cfg.Policies)
		if err != nil {
			return err
		}
		deps.Policy = policy
	}

	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithTrustProxyHeaders(cfg.Server.TrustProxyHeaders),
		httpadapter.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}
	if tlsCert != "" && tlsKey != "" {
		opts = append(opts, httpadapter.WithTLS(tlsCert, tlsKey))
	}
	server := httpadapter.NewServer(deps, opts...)

	logger.Info("tutorgate ready",
		"addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Driver,
		"providers", len(cfg.OAuth.Providers),
		"policies", len(cfg.Policies),
		"rate_limit", cfg.RateLimit.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		watchAuditDrops(gctx, auditSvc, time.Minute, logger)
		return nil
	})
	return g.Wait()
}

// newLogger builds the process logger. DevMode forces debug.
func newLogger(cfg config.ServerConfig, dev bool) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newAuditStore selects the audit backend from the output setting.
func newAuditStore(cfg config.AuditConfig, logger *slog.Logger) (audit.Store, error) {
	if dir := cfg.AuditDir(); dir != "" {
		return auditstore.NewFileStore(auditstore.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.RetentionDays,
		}, logger)
	}
	return auditstore.NewLogStore(logger), nil
}

func buildProviders(cfgs []config.ProviderConfig) []oauth.Provider {
	providers := make([]oauth.Provider, 0, len(cfgs))
	for _, p := range cfgs {
		providers = append(providers, oidc.New(oidc.Config{
			Name:         p.Name,
			IssuerURL:    p.IssuerURL,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
		}))
	}
	return providers
}

func buildPolicy(cfgs []config.PolicyConfig) (*cel.PolicyEvaluator, error) {
	rules := make([]cel.Rule, 0, len(cfgs))
	for _, p := range cfgs {
		rules = append(rules, cel.Rule{Name: p.Name, PathPrefix: p.PathPrefix, Condition: p.Condition})
	}
	eval, err := cel.NewPolicyEvaluator(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}
	return eval, nil
}

// dropCounter is the part of AuditService watchAuditDrops reads.
type dropCounter interface {
	DroppedEvents() int64
}

// watchAuditDrops logs a warning whenever audit events were dropped since the last tick.
func watchAuditDrops(ctx context.Context, c dropCounter, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.DroppedEvents(); n > last {
				logger.Warn("audit events dropped", "since_last_check", n-last, "total", n)
				last = n
			}
		}
	}
}
