package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("default port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Sync.HeartbeatInterval != 30*time.Second {
		t.Errorf("default heartbeat = %v", cfg.Sync.HeartbeatInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
auth:
  jwt_secret: s3cret
  access_ttl: 5m
  session_ttl: 24h
rate_limit:
  sync:
    max: 7
    window: 30s
observability:
  logging:
    level: debug
    format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Errorf("access_ttl = %v", cfg.Auth.AccessTTL)
	}
	// Untouched sections keep defaults.
	if cfg.RateLimit.API.Max != 100 {
		t.Errorf("api max = %d", cfg.RateLimit.API.Max)
	}

	set := cfg.LimiterSet()
	for i := 0; i < 7; i++ {
		if ok, _ := set.Sync.Allow("k"); !ok {
			t.Fatalf("sync call %d denied", i+1)
		}
	}
	if ok, _ := set.Sync.Allow("k"); ok {
		t.Error("8th sync call should be denied with max 7")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BOARDSYNC_TEST_SECRET", "from-env")
	path := writeConfig(t, "auth:\n  jwt_secret: ${BOARDSYNC_TEST_SECRET}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
		{"zero access ttl", func(c *Config) { c.Auth.AccessTTL = 0 }},
		{"session shorter than access", func(c *Config) { c.Auth.SessionTTL = time.Second }},
		{"pong timeout below heartbeat", func(c *Config) { c.Sync.PongTimeout = time.Second }},
		{"sampling rate out of range", func(c *Config) { c.Observability.Tracing.SamplingRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
