package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile  string
	HTTPAddr string

	DatabaseURL string
	RedisAddr   string

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string
	TokenHashPepper string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SweepInterval time.Duration

	AuthRateLimitRPM int
	APIRateLimitRPM  int
	CORSOrigins      []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment, applies defaults and
// validates the result. Secrets have no defaults outside the dev profile.
func Load() (*Config, error) {
	cfg, err := load()
	recordConfigValidationEvent(context.Background(), profileOrDefault(cfg), outcome(err), classifyConfigLoadError(err))
	return cfg, err
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:     getEnv("APP_PROFILE", "dev"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		JWTIssuer:       getEnv("JWT_ISSUER", "token-lifecycle-service"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "token-lifecycle-service"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),
		TokenHashPepper: os.Getenv("TOKEN_HASH_PEPPER"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "token-lifecycle-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.AccessTokenTTL, err = getDuration("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = getDuration("TOKEN_SWEEP_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsExportInterval, err = getDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.AuthRateLimitRPM, err = getInt("AUTH_RATE_LIMIT_RPM", 30); err != nil {
		return cfg, err
	}
	if cfg.APIRateLimitRPM, err = getInt("API_RATE_LIMIT_RPM", 300); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsEnabled, err = getBool("OTEL_METRICS_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELTracesEnabled, err = getBool("OTEL_TRACES_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELLogsEnabled, err = getBool("OTEL_LOGS_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELExporterOTLPInsecure, err = getBool("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return cfg, err
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if cfg.Profile == "dev" {
		cfg.applyDevDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// dev runs against sqlite with static secrets so a checkout works with no env.
func (c *Config) applyDevDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = "file:token-lifecycle-dev.db?cache=shared"
	}
	if c.JWTAccessSecret == "" {
		c.JWTAccessSecret = "dev-access-secret-0123456789abcdef"
	}
	if c.TokenHashPepper == "" {
		c.TokenHashPepper = "dev-pepper-0123456789abcdef"
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.TokenHashPepper) < 16 {
		return fmt.Errorf("validate config: TOKEN_HASH_PEPPER must be at least 16 bytes")
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("validate config: REFRESH_TOKEN_TTL must be positive")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("validate config: JWT_ACCESS_TTL must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("validate config: access TTL must be shorter than refresh TTL")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("validate config: TOKEN_SWEEP_INTERVAL must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func profileOrDefault(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Profile
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
