package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func inTempDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	return dir
}

func TestLoadServerDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.RateLimitWindow != time.Hour || cfg.RateLimitMax != 10 {
		t.Fatalf("unexpected rate limit %s/%d", cfg.RateLimitWindow, cfg.RateLimitMax)
	}
	if !cfg.OpenAIFlexTier || !cfg.TrustProxyHeaders {
		t.Fatalf("expected flex tier and proxy headers to default on: %+v", cfg)
	}
	if cfg.AllowPrivateAddresses {
		t.Fatalf("expected private addresses to be refused by default")
	}
}

func TestLoadServerFromEnvironment(t *testing.T) {
	inTempDir(t)
	t.Setenv("RATE_LIMIT_WINDOW", "90s")
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("TRUST_PROXY_HEADERS", "false")
	t.Setenv("ALLOW_PRIVATE_ADDRESSES", "true")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}

	if cfg.RateLimitWindow != 90*time.Second || cfg.RateLimitMax != 3 || cfg.TrustProxyHeaders ||
		!cfg.AllowPrivateAddresses {
		t.Fatalf("environment was not applied: %+v", cfg)
	}
}

func TestLoadServerRejectsZeroWindow(t *testing.T) {
	inTempDir(t)
	t.Setenv("RATE_LIMIT_WINDOW", "0s")

	if _, err := LoadServer(); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestLoadClientReadsDotEnv(t *testing.T) {
	dir := inTempDir(t)

	content := "SERVER_URL=https://pagesum.example\nSTORE_BACKEND=memory\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("SERVER_URL")
		_ = os.Unsetenv("STORE_BACKEND")
	})

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient returned error: %v", err)
	}

	if cfg.ServerURL != "https://pagesum.example" || cfg.StoreBackend != BackendMemory {
		t.Fatalf(".env was not applied: %+v", cfg)
	}
	if cfg.DBPath != "pagesum.sqlite" {
		t.Fatalf("unexpected default db path %q", cfg.DBPath)
	}
}

func TestLoadClientRejectsUnknownBackend(t *testing.T) {
	inTempDir(t)
	t.Setenv("STORE_BACKEND", "mongo")

	if _, err := LoadClient(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
