package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	s := cfg.Shortener
	if s.TokenLength != 5 {
		t.Errorf("expected token length 5, got %d", s.TokenLength)
	}
	if s.MaxRetryDepth != 5 {
		t.Errorf("expected max retry depth 5, got %d", s.MaxRetryDepth)
	}
	if s.ReservedPoolTarget != 10 {
		t.Errorf("expected pool target 10, got %d", s.ReservedPoolTarget)
	}
	if s.AvailableTokens != 4 {
		t.Errorf("expected 4 available tokens, got %d", s.AvailableTokens)
	}
	if s.Validity != 5*365*24*time.Hour {
		t.Errorf("expected five year validity, got %s", s.Validity)
	}
	if s.UseCache || s.AsyncUsageLogging {
		t.Errorf("expected cache and async usage disabled by default")
	}
	if cfg.Cache.Backend != CacheBackendRedis {
		t.Errorf("expected redis cache backend, got %q", cfg.Cache.Backend)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Server.Addr)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := strings.Join([]string{
		"shortener:",
		"  token_length: 7",
		"  validity: 48h",
		"  use_cache: true",
		"cache:",
		"  backend: local",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SHORTENER_MAX_RETRY_DEPTH", "9")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Shortener.TokenLength != 7 {
		t.Errorf("expected yaml token length 7, got %d", cfg.Shortener.TokenLength)
	}
	if cfg.Shortener.Validity != 48*time.Hour {
		t.Errorf("expected 48h validity, got %s", cfg.Shortener.Validity)
	}
	if !cfg.Shortener.UseCache {
		t.Errorf("expected use_cache from yaml")
	}
	if cfg.Cache.Backend != CacheBackendLocal {
		t.Errorf("expected local backend, got %q", cfg.Cache.Backend)
	}
	if cfg.Shortener.MaxRetryDepth != 9 {
		t.Errorf("expected env override 9, got %d", cfg.Shortener.MaxRetryDepth)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("expected legacy env PG_HOST, got %q", cfg.Postgres.Host)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected APP_ENV=production to be honoured")
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Shortener: ShortenerConfig{
			TokenLength:   0,
			MaxRetryDepth: 0,
			Validity:      0,
		},
		Cache: CacheConfig{Backend: "memcached"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"token_length", "max_retry_depth", "validity", "not_found_url", "cache.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}
