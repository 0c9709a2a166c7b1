package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDevProfileDefaults(t *testing.T) {
	t.Setenv("APP_PROFILE", "dev")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("TOKEN_HASH_PEPPER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load dev config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		t.Fatal("expected sqlite fallback DSN in dev profile")
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected default refresh TTL of 7 days, got %v", cfg.RefreshTokenTTL)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access TTL of 15m, got %v", cfg.AccessTokenTTL)
	}
	if cfg.SweepInterval != 0 {
		t.Fatalf("expected sweeper disabled by default, got %v", cfg.SweepInterval)
	}
}

func TestLoadProdProfileRequiresSecrets(t *testing.T) {
	t.Setenv("APP_PROFILE", "prod")
	t.Setenv("DATABASE_URL", "postgres://localhost/tokens")
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("TOKEN_HASH_PEPPER", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "validate config:") {
		t.Fatalf("expected validation error for weak secrets, got %v", err)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("APP_PROFILE", "dev")
	t.Setenv("REFRESH_TOKEN_TTL", "not-a-duration")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse REFRESH_TOKEN_TTL") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestValidateAccessTTLShorterThanRefreshTTL(t *testing.T) {
	cfg := &Config{
		DatabaseURL:     "postgres://localhost/tokens",
		JWTAccessSecret: strings.Repeat("a", 32),
		TokenHashPepper: strings.Repeat("p", 16),
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected access TTL >= refresh TTL to be rejected")
	}
}
