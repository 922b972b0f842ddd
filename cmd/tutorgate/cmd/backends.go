package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/memory"
	"github.com/codetutor/tutorgate/internal/adapter/outbound/redis"
	"github.com/codetutor/tutorgate/internal/adapter/outbound/sqlite"
	"github.com/codetutor/tutorgate/internal/config"
	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/oauth"
	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	"github.com/codetutor/tutorgate/internal/domain/session"
)

// kvStores are the key-value backed ports, all from one driver.
type kvStores struct {
	sessions session.Store
	csrf     csrf.BindingStore
	counter  ratelimit.WindowCounter
	ledger   ratelimit.CostLedger
	codes    oauth.CodeStore
	states   oauth.StateStore
	close    func() error
}

// openKVStores builds the stores for cfg.Store.Driver. Memory stores start
// their janitors on ctx; close stops them.
func openKVStores(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*kvStores, error) {
	switch cfg.Driver {
	case "redis":
		c, err := redis.NewClient(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			OpTimeout: cfg.Redis.OpTimeout,
		})
		if err != nil {
			return nil, err
		}
		// An unreachable store at boot is logged, not fatal: requests fail
		// closed and /health reports it until redis comes back.
		if err := c.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		return &kvStores{
			sessions: redis.NewSessionStore(c, 0),
			csrf:     redis.NewCSRFStore(c),
			counter:  redis.NewWindowCounter(c),
			ledger:   redis.NewCostLedger(c),
			codes:    redis.NewCodeStore(c),
			states:   redis.NewStateStore(c),
			close:    c.Close,
		}, nil

	case "memory":
		logger.Warn("using in-memory store: sessions and limits are per process and lost on restart")
		sessions := memory.NewSessionStore()
		bindings := memory.NewCSRFStore()
		counter := memory.NewWindowCounter()
		ledger := memory.NewCostLedger()
		codes := memory.NewCodeStore()
		states := memory.NewStateStore()

		sessions.StartCleanup(ctx)
		bindings.StartCleanup(ctx)
		counter.StartCleanup(ctx)
		ledger.StartCleanup(ctx)
		codes.StartCleanup(ctx)
		states.StartCleanup(ctx)

		return &kvStores{
			sessions: sessions,
			csrf:     bindings,
			counter:  counter,
			ledger:   ledger,
			codes:    codes,
			states:   states,
			close: func() error {
				sessions.Stop()
				bindings.Stop()
				counter.Stop()
				ledger.Stop()
				codes.Stop()
				states.Stop()
				return nil
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// openUsers opens the sqlite user database. Caller must call the returned close.
func openUsers(ctx context.Context, path string) (*sqlite.UserRepository, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return sqlite.NewUserRepository(db), db.Close, nil
}

// buildTiers converts the rate limit section into the limiter table.
// With rate limiting disabled the table is empty and every request passes.
func buildTiers(cfg config.RateLimitConfig) ratelimit.Tiers {
	if !cfg.Enabled {
		return ratelimit.Tiers{}
	}
	tiers := ratelimit.Tiers{
		Buckets:      make(map[string]map[string]ratelimit.Limit, len(cfg.Buckets)),
		Metered:      make(map[string]bool, len(cfg.Metered)),
		DailyCostCap: make(map[string]float64, len(cfg.DailyCostCap)),
		Anonymous:    ratelimit.Limit{Requests: cfg.Anonymous.Requests, Window: cfg.Anonymous.Window},
	}
	for bucket, roles := range cfg.Buckets {
		limits := make(map[string]ratelimit.Limit, len(roles))
		for role, l := range roles {
			limits[role] = ratelimit.Limit{Requests: l.Requests, Window: l.Window}
		}
		tiers.Buckets[bucket] = limits
	}
	for _, bucket := range cfg.Metered {
		tiers.Metered[bucket] = true
	}
	for role, amount := range cfg.DailyCostCap {
		tiers.DailyCostCap[role] = amount
	}
	return tiers
}
