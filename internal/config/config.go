// Package config loads and validates boardsync configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/boardsync/internal/auth"
	"github.com/haasonsaas/boardsync/internal/ratelimit"
)

// Config is the main configuration structure for boardsync.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Sync          SyncConfig          `yaml:"sync"`
	Storage       StorageConfig       `yaml:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// SyncConfig tunes the synchronization channel.
type SyncConfig struct {
	// HeartbeatInterval is the server-side ping cadence.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// PongTimeout is how long a silent connection survives before the
	// read deadline treats it as a connectivity fault.
	PongTimeout time.Duration `yaml:"pong_timeout"`
	// SweepInterval is the cadence of the janitor sweeps (session expiry,
	// rate-limit eviction, history pruning).
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// HistoryRetention bounds how many accepted operations a board keeps
	// beyond the lowest version any connected member still needs.
	HistoryRetention int `yaml:"history_retention"`
}

type StorageConfig struct {
	// OperationLog is the SQLite path for the durable operation log.
	// Empty selects the in-memory store.
	OperationLog string `yaml:"operation_log"`
}

type RateLimitConfig struct {
	API  LimitConfig `yaml:"api"`
	Auth LimitConfig `yaml:"auth"`
	Sync LimitConfig `yaml:"sync"`
	// Channel budgets in-channel messages per connected user.
	Channel LimitConfig `yaml:"channel"`
}

type LimitConfig struct {
	Max     int           `yaml:"max"`
	Window  time.Duration `yaml:"window"`
	Enabled *bool         `yaml:"enabled"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 8080,
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			SessionTTL: 7 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       45 * time.Second,
			SweepInterval:     time.Minute,
			HistoryRetention:  1000,
		},
		RateLimit: RateLimitConfig{
			API:     LimitConfig{Max: 100, Window: time.Minute},
			Auth:    LimitConfig{Max: 10, Window: 5 * time.Minute},
			Sync:    LimitConfig{Max: 30, Window: time.Minute},
			Channel: LimitConfig{Max: 120, Window: time.Second},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json"},
			Tracing: TracingConfig{SamplingRate: 1.0},
		},
	}
}

// Load reads a YAML config file, expanding ${ENV} references, and merges it
// over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http_port %d", c.Server.HTTPPort)
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("config: access_ttl must be positive")
	}
	if c.Auth.SessionTTL < c.Auth.AccessTTL {
		return fmt.Errorf("config: session_ttl shorter than access_ttl")
	}
	if c.Sync.HeartbeatInterval <= 0 || c.Sync.PongTimeout <= c.Sync.HeartbeatInterval {
		return fmt.Errorf("config: pong_timeout must exceed heartbeat_interval")
	}
	if c.Observability.Tracing.SamplingRate < 0 || c.Observability.Tracing.SamplingRate > 1 {
		return fmt.Errorf("config: sampling_rate must be in [0,1]")
	}
	return nil
}

// AuthManagerConfig converts to the auth package's config.
func (c *Config) AuthManagerConfig() auth.Config {
	return auth.Config{
		JWTSecret:  c.Auth.JWTSecret,
		AccessTTL:  c.Auth.AccessTTL,
		SessionTTL: c.Auth.SessionTTL,
	}
}

// LimiterSet builds the configured limiters.
func (c *Config) LimiterSet() *ratelimit.Set {
	return ratelimit.NewSet(
		toLimit(c.RateLimit.API, ratelimit.DefaultAPIConfig()),
		toLimit(c.RateLimit.Auth, ratelimit.DefaultAuthConfig()),
		toLimit(c.RateLimit.Sync, ratelimit.DefaultSyncConfig()),
		toLimit(c.RateLimit.Channel, ratelimit.DefaultChannelConfig()),
	)
}

func toLimit(in LimitConfig, fallback ratelimit.Config) ratelimit.Config {
	out := fallback
	if in.Max > 0 {
		out.Max = in.Max
	}
	if in.Window > 0 {
		out.Window = in.Window
	}
	out.Enabled = in.Enabled == nil || *in.Enabled
	return out
}
