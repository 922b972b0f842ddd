package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for tutorgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("tutorgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TUTORGATE_TOKEN_SECRET
	viper.SetEnvPrefix("TUTORGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".tutorgate"),
		"/etc/tutorgate",
	})
}

// findConfigFileInPaths searches the given directories for tutorgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tutorgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar keys for environment variable support.
// Example: TUTORGATE_STORE_REDIS_ADDR overrides store.redis.addr
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.log_format",
		"server.production",
		"server.frontend_url",
		"server.shutdown_timeout",
		"server.trust_proxy_headers",

		"token.secret",
		"token.issuer",
		"token.audience",
		"token.access_ttl",
		"token.refresh_ttl",

		"store.driver",
		"store.redis.addr",
		"store.redis.password",
		"store.redis.db",
		"store.redis.op_timeout",

		"database.path",

		"oauth.code_ttl",
		"oauth.state_ttl",

		"rate_limit.enabled",

		"audit.output",
		"audit.retention_days",

		"tracing.enabled",
		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
	// Providers, policies and rate limit buckets are lists and maps; use the config file.
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
