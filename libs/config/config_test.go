package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("auth", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "auth" {
		t.Fatalf("expected service name auth, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.WriteTimeout != 10*time.Second {
		t.Fatalf("expected write timeout 10s, got %s", cfg.HTTP.WriteTimeout)
	}
	if !cfg.IsLocal() {
		t.Fatalf("expected dev env to be local")
	}
	if len(cfg.HTTP.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies, got %v", cfg.HTTP.TrustedProxies)
	}
}

func TestLoadTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("CMMS_HTTP_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")

	cfg, err := Load("auth", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 || cfg.HTTP.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies %v", cfg.HTTP.TrustedProxies)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("env: staging\nlog_level: debug\nhttp:\n  port: 9000\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CMMS_HTTP_PORT", "9100")

	cfg, err := Load("notifier", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "staging" || cfg.LogLevel != "debug" {
		t.Fatalf("expected file values, got env=%q level=%q", cfg.Env, cfg.LogLevel)
	}
	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected env override port 9100, got %d", cfg.HTTP.Port)
	}
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("CMMS_ENV", "qa")
	if _, err := Load("auth", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for unknown env")
	}
}
