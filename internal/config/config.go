// Package config loads and validates client configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all client configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Poll      PollConfig      `mapstructure:"poll"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CredStore CredStoreConfig `mapstructure:"credstore"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Stub      StubConfig      `mapstructure:"stub"`
}

// APIConfig locates the audit backend.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StreamConfig controls push channel reconnect behavior.
type StreamConfig struct {
	MaxReconnects    int `mapstructure:"max_reconnects"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// PollConfig controls fallback polling budgets.
type PollConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	MaxWallClockSec  int `mapstructure:"max_wall_clock_seconds"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// AuthConfig controls token refresh coordination.
type AuthConfig struct {
	RefreshToken         string `mapstructure:"refresh_token"`
	RefreshMarginSeconds int    `mapstructure:"refresh_margin_seconds"`
	LockTTLSeconds       int    `mapstructure:"lock_ttl_seconds"`
	ClaimRecheckMs       int    `mapstructure:"claim_recheck_ms"`
}

// CredStoreConfig selects where the shared session credentials live.
type CredStoreConfig struct {
	// Driver is one of "sqlite", "postgres", or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database location (sqlite driver).
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string (postgres driver).
	DSN string `mapstructure:"dsn"`
	// Session names the logical session (postgres driver).
	Session string `mapstructure:"session"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StubConfig controls the local development stub server.
type StubConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGHTRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.sightrank.io")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("stream.max_reconnects", 3)
	v.SetDefault("stream.backoff_initial_ms", 2000)
	v.SetDefault("stream.backoff_max_ms", 10000)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.max_wall_clock_seconds", 240)
	v.SetDefault("poll.backoff_initial_ms", 2000)
	v.SetDefault("poll.backoff_max_ms", 16000)
	v.SetDefault("auth.refresh_margin_seconds", 30)
	v.SetDefault("auth.lock_ttl_seconds", 10)
	v.SetDefault("auth.claim_recheck_ms", 150)
	v.SetDefault("credstore.driver", "sqlite")
	v.SetDefault("credstore.path", "sightrank-credentials.db")
	v.SetDefault("credstore.session", "default")
	v.SetDefault("logging.development", true)
	v.SetDefault("stub.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.Stream.MaxReconnects <= 0 {
		return fmt.Errorf("stream.max_reconnects must be > 0")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be > 0")
	}
	if c.Auth.LockTTLSeconds <= 0 {
		return fmt.Errorf("auth.lock_ttl_seconds must be > 0")
	}
	switch c.CredStore.Driver {
	case "sqlite":
		if c.CredStore.Path == "" {
			return fmt.Errorf("credstore.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.CredStore.DSN == "" {
			return fmt.Errorf("credstore.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown credstore.driver %q", c.CredStore.Driver)
	}
	return nil
}

// StreamBackoff converts the stream backoff settings into durations.
func (c Config) StreamBackoff() (base, cap time.Duration) {
	return time.Duration(c.Stream.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Stream.BackoffMaxMs) * time.Millisecond
}

// PollBackoff converts the poll backoff settings into durations.
func (c Config) PollBackoff() (base, cap time.Duration) {
	return time.Duration(c.Poll.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Poll.BackoffMaxMs) * time.Millisecond
}
