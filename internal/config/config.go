// Package config provides configuration types for tutorgate.
//
// Configuration is file based (tutorgate.yaml) with TUTORGATE_* environment
// overrides for scalar keys. Lists and maps (providers, policies, rate limit
// buckets) are only read from the file.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Token configures signing and lifetimes of access and refresh tokens.
	Token TokenConfig `yaml:"token" mapstructure:"token"`

	// Store selects the key-value backend for sessions, codes, CSRF bindings
	// and rate limit state.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Database configures the user database.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// OAuth configures the external identity providers.
	OAuth OAuthConfig `yaml:"oauth" mapstructure:"oauth"`

	// RateLimit configures per-bucket request windows and daily cost caps.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Policies are route rules evaluated after authentication.
	// A request matching a rule's path prefix must satisfy its condition.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// Audit configures where security audit events are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures OpenTelemetry spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development defaults (generated secret, memory store).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// Production turns on Secure cookies and the production configuration rules.
	Production bool `yaml:"production" mapstructure:"production"`

	// FrontendURL is the browser application origin used for OAuth redirects.
	FrontendURL string `yaml:"frontend_url" mapstructure:"frontend_url" validate:"required,url"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,min=1s"`

	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP name the client.
	// Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// TokenConfig configures the token codec and issuer.
type TokenConfig struct {
	// Secret is the HMAC key. At least 32 bytes.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required,secret_len"`

	Issuer   string `yaml:"issuer" mapstructure:"issuer" validate:"required"`
	Audience string `yaml:"audience" mapstructure:"audience" validate:"required"`

	// AccessTTL defaults to 24h.
	AccessTTL time.Duration `yaml:"access_ttl" mapstructure:"access_ttl" validate:"min=1m"`
	// RefreshTTL defaults to 720h.
	RefreshTTL time.Duration `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"gtefield=AccessTTL"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	// Driver is "redis" or "memory". The memory driver keeps state per process.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,store_driver"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`

	// OpTimeout bounds every store call. Defaults to 250ms.
	OpTimeout time.Duration `yaml:"op_timeout" mapstructure:"op_timeout" validate:"omitempty,min=1ms"`
}

// DatabaseConfig configures the sqlite user database.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// OAuthConfig configures the OAuth provider leg.
type OAuthConfig struct {
	// CodeTTL is the lifetime of the single-use exchange code. Defaults to 60s.
	CodeTTL time.Duration `yaml:"code_ttl" mapstructure:"code_ttl" validate:"omitempty,min=1s,max=10m"`

	// StateTTL is the lifetime of a pending authorization. Defaults to 10m.
	StateTTL time.Duration `yaml:"state_ttl" mapstructure:"state_ttl" validate:"omitempty,min=1m"`

	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers" validate:"omitempty,dive"`
}

// ProviderConfig configures one OpenID Connect provider.
type ProviderConfig struct {
	// Name appears in routes: /auth/oauth/{name}/start.
	Name         string   `yaml:"name" mapstructure:"name" validate:"required,alphanum"`
	IssuerURL    string   `yaml:"issuer_url" mapstructure:"issuer_url" validate:"required,url"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url" mapstructure:"redirect_url" validate:"required,url"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`
}

// RateLimitConfig configures the limiter tiers.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Buckets maps bucket -> role -> limit.
	Buckets map[string]map[string]LimitConfig `yaml:"buckets" mapstructure:"buckets" validate:"omitempty,dive,dive"`

	// Metered lists buckets whose calls consume the daily cost budget.
	Metered []string `yaml:"metered" mapstructure:"metered"`

	// DailyCostCap maps role -> maximum spend per UTC day.
	DailyCostCap map[string]float64 `yaml:"daily_cost_cap" mapstructure:"daily_cost_cap" validate:"omitempty,dive,gt=0"`

	// Anonymous limits register, login, refresh and the OAuth entry points per client address.
	Anonymous LimitConfig `yaml:"anonymous" mapstructure:"anonymous"`
}

// LimitConfig is a sliding-window allowance.
type LimitConfig struct {
	Requests int           `yaml:"requests" mapstructure:"requests" validate:"min=1"`
	Window   time.Duration `yaml:"window" mapstructure:"window" validate:"min=1s"`
}

// PolicyConfig is a single route rule.
type PolicyConfig struct {
	// Name identifies the rule in logs and audit events.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// PathPrefix selects the routes the rule applies to.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,startswith=/"`

	// Condition is a CEL expression over user_id, role, email_verified, method and path.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`
}

// AuditConfig configures security audit output.
type AuditConfig struct {
	// Output is "stdout" (the structured log) or "file:///absolute/dir".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// RetentionDays is the number of days to keep audit files. Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// ChannelSize is the buffer size for the audit channel. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of events to batch before writing. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending events are flushed. Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,min=10ms"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	// Enabled exports pipeline spans as JSON to stderr.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultPolicies guards the tutor chat behind a verified email.
func DefaultPolicies() []PolicyConfig {
	return []PolicyConfig{
		{
			Name:       "verified-email",
			PathPrefix: "/api/chat",
			Condition:  `email_verified || role == "admin"`,
		},
		{
			Name:       "verified-email-hint",
			PathPrefix: "/api/hint",
			Condition:  `email_verified || role == "admin"`,
		},
	}
}

// SetDefaults applies default values to unset optional fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Token.Issuer == "" {
		c.Token.Issuer = "tutorgate"
	}
	if c.Token.Audience == "" {
		c.Token.Audience = "tutorgate-api"
	}
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = 24 * time.Hour
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = 720 * time.Hour
	}

	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Store.Redis.OpTimeout == 0 {
		c.Store.Redis.OpTimeout = 250 * time.Millisecond
	}

	if c.Database.Path == "" {
		c.Database.Path = "tutorgate.db"
	}

	if c.OAuth.CodeTTL == 0 {
		c.OAuth.CodeTTL = 60 * time.Second
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = 10 * time.Minute
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if len(c.RateLimit.Metered) == 0 {
		c.RateLimit.Metered = []string{"chat", "hint"}
	}
	if c.RateLimit.Anonymous.Requests == 0 {
		c.RateLimit.Anonymous = LimitConfig{Requests: 30, Window: time.Minute}
	}

	if c.Policies == nil {
		c.Policies = DefaultPolicies()
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = time.Second
	}
}

// SetDevDefaults fills what a local run needs without a config file.
// Applied after SetDefaults and before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"
	if c.Server.FrontendURL == "" {
		c.Server.FrontendURL = "http://localhost:5173"
	}

	// A generated secret invalidates every session on restart.
	if c.Token.Secret == "" {
		c.Token.Secret = GenerateSecret()
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if len(c.RateLimit.Buckets) == 0 {
		c.RateLimit.Buckets = map[string]map[string]LimitConfig{
			"chat": {
				"standard": {Requests: 10, Window: time.Minute},
				"elevated": {Requests: 30, Window: time.Minute},
			},
			"hint": {
				"standard": {Requests: 20, Window: time.Minute},
				"elevated": {Requests: 60, Window: time.Minute},
			},
		}
	}
	if len(c.RateLimit.DailyCostCap) == 0 {
		c.RateLimit.DailyCostCap = map[string]float64{
			"standard": 1.00,
			"elevated": 5.00,
		}
	}
}

// GenerateSecret returns 48 random bytes, base64 encoded.
func GenerateSecret() string {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.StdEncoding.EncodeToString(b)
}

// AuditDir returns the directory of a file:// audit output, or "".
func (c AuditConfig) AuditDir() string {
	const prefix = "file://"
	if len(c.Output) > len(prefix) && c.Output[:len(prefix)] == prefix {
		return c.Output[len(prefix):]
	}
	return ""
}
