package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://api.sightrank.io" {
		t.Fatalf("unexpected api.base_url %q", cfg.API.BaseURL)
	}
	if cfg.Stream.MaxReconnects != 3 {
		t.Fatalf("unexpected stream.max_reconnects %d", cfg.Stream.MaxReconnects)
	}
	if cfg.Poll.MaxAttempts != 30 {
		t.Fatalf("unexpected poll.max_attempts %d", cfg.Poll.MaxAttempts)
	}
	if cfg.CredStore.Driver != "sqlite" {
		t.Fatalf("unexpected credstore.driver %q", cfg.CredStore.Driver)
	}
	if cfg.Auth.LockTTLSeconds != 10 {
		t.Fatalf("unexpected auth.lock_ttl_seconds %d", cfg.Auth.LockTTLSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
api:
  base_url: http://localhost:8080
  timeout_seconds: 5
stream:
  max_reconnects: 5
  backoff_initial_ms: 500
  backoff_max_ms: 4000
poll:
  max_attempts: 10
credstore:
  driver: memory
auth:
  refresh_token: rt-dev
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected api.base_url %q", cfg.API.BaseURL)
	}
	if cfg.Stream.MaxReconnects != 5 {
		t.Fatalf("unexpected stream.max_reconnects %d", cfg.Stream.MaxReconnects)
	}
	if cfg.Auth.RefreshToken != "rt-dev" {
		t.Fatalf("unexpected auth.refresh_token %q", cfg.Auth.RefreshToken)
	}
	// Unset keys keep their defaults.
	if cfg.Poll.BackoffMaxMs != 16000 {
		t.Fatalf("unexpected poll.backoff_max_ms %d", cfg.Poll.BackoffMaxMs)
	}

	base, cap := cfg.StreamBackoff()
	if base != 500*time.Millisecond || cap != 4*time.Second {
		t.Fatalf("unexpected stream backoff %v / %v", base, cap)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"empty base url", "api:\n  base_url: \"\"\n"},
		{"zero timeout", "api:\n  timeout_seconds: 0\n"},
		{"zero reconnects", "stream:\n  max_reconnects: 0\n"},
		{"zero poll attempts", "poll:\n  max_attempts: 0\n"},
		{"zero lock ttl", "auth:\n  lock_ttl_seconds: 0\n"},
		{"unknown driver", "credstore:\n  driver: etcd\n"},
		{"sqlite without path", "credstore:\n  driver: sqlite\n  path: \"\"\n"},
		{"postgres without dsn", "credstore:\n  driver: postgres\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
