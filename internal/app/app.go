package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sessioncore/token-lifecycle-service/internal/config"
	"github.com/sessioncore/token-lifecycle-service/internal/domain"
	"github.com/sessioncore/token-lifecycle-service/internal/health"
	"github.com/sessioncore/token-lifecycle-service/internal/http/handler"
	"github.com/sessioncore/token-lifecycle-service/internal/http/router"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/repository"
	"github.com/sessioncore/token-lifecycle-service/internal/security"
	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Janitor       *service.JanitorService
	Readiness     *health.ProbeRunner

	db    *gorm.DB
	redis *redis.Client
}

// Build wires the full dependency graph from configuration. Redis-backed
// collaborators degrade to in-process fallbacks when REDIS_ADDR is unset,
// which keeps the dev profile a single binary.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logg, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logg, loggerProvider)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.RefreshToken{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	var negCache service.NegativeLookupCacheStore
	var stateStore service.OAuthStateStore
	var abuseGuard handler.AbuseGuard
	if redisClient != nil {
		negCache = service.NewRedisNegativeLookupCacheStore(redisClient, "")
		stateStore = service.NewRedisOAuthStateStore(redisClient, "")
		abuseGuard = service.NewRedisAuthAbuseGuard(redisClient, "", service.AuthAbusePolicy{
			FreeAttempts: 5,
			BaseDelay:    time.Second,
			Multiplier:   2,
			MaxDelay:     5 * time.Minute,
			ResetWindow:  30 * time.Minute,
		})
	} else {
		negCache = service.NewInMemoryNegativeLookupCacheStore()
		stateStore = service.NewInMemoryOAuthStateStore()
	}

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
	tokenRepo := repository.NewTokenRepository(db)

	directory := service.NewInMemoryUserDirectory()
	if cfg.Profile == "dev" {
		directory.Seed(1, []string{"user", "admin"})
	}

	tokens := service.NewTokenService(jwtMgr, tokenRepo, directory, negCache, cfg.TokenHashPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	revocation := service.NewRevocationService(tokenRepo)
	sessions := service.NewSessionService(tokenRepo, revocation)
	janitor := service.NewJanitorService(tokenRepo, logg)

	provider := service.NewGoogleOAuthProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	oauth := service.NewOAuthService(provider, stateStore, directory)

	cookies := handler.CookieConfig{
		Secure:    cfg.Profile != "dev",
		AccessTTL: cfg.AccessTokenTTL,
	}

	checkers := []health.Checker{health.NewGormChecker("database", db)}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisChecker("redis", redisClient))
	}
	readiness := health.NewProbeRunner(5*time.Second, 2*time.Second, checkers...)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(oauth, tokens, revocation, abuseGuard, cookies),
		SessionHandler:   handler.NewSessionHandler(sessions, tokens, cookies),
		AdminHandler:     handler.NewAdminHandler(revocation),
		JWTManager:       jwtMgr,
		CORSOrigins:      cfg.CORSOrigins,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}

	return &App{
		Config:        cfg,
		Logger:        logg,
		Server:        server,
		Observability: runtime,
		Janitor:       janitor,
		Readiness:     readiness,
		db:            db,
		redis:         redisClient,
	}, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var db *gorm.DB
	var err error
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.DatabaseURL), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Run serves HTTP and, when configured, the periodic token sweeper, until the
// context is cancelled. Shutdown drains the server and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr, "profile", a.Config.Profile)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.Config.SweepInterval > 0 {
		g.Go(func() error {
			a.Logger.Info("token sweeper starting", "interval", a.Config.SweepInterval)
			if err := a.Janitor.RunPeriodic(ctx, a.Config.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("token sweeper: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return a.Close()
	})

	return g.Wait()
}

// Close drains the HTTP server and releases every backend handle. Run calls
// it on context cancellation; one-shot subcommands call it directly.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain http server: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
	}
	a.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}
