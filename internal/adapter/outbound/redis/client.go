// Package redis provides Redis-backed implementations of the shared-state
// ports: session registry, OAuth codes and states, CSRF bindings, sliding
// rate-limit windows and the daily cost ledger.
//
// Every operation runs under the client's op timeout. Failures are wrapped
// in the owning domain's ErrStoreUnavailable so callers fail closed.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds a single store operation.
const DefaultOpTimeout = 250 * time.Millisecond

// Config holds connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	OpTimeout time.Duration
}

// Client wraps a go-redis client with the op timeout applied by every store.
type Client struct {
	rdb       *goredis.Client
	opTimeout time.Duration
}

// NewClient creates a client. It does not connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return newClient(goredis.NewClient(opts), cfg.OpTimeout), nil
}

func newClient(rdb *goredis.Client, opTimeout time.Duration) *Client {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Client{rdb: rdb, opTimeout: opTimeout}
}

// withTimeout derives the per-operation context.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// unavailable wraps err in the domain sentinel.
func unavailable(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
