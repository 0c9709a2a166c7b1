package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/repository"
)

// JanitorService purges dead refresh-token records. A record is dead once its
// expiry has passed: used, revoked and abandoned tokens all qualify, and an
// unexpired record never matches the delete predicate. The trigger is
// external (CLI subcommand or the optional periodic loop); a missed sweep only
// defers cleanup.
type JanitorService struct {
	tokenRepo repository.TokenRepository
	logger    *slog.Logger
}

func NewJanitorService(tokenRepo repository.TokenRepository, logger *slog.Logger) *JanitorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JanitorService{tokenRepo: tokenRepo, logger: logger}
}

func (s *JanitorService) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.tokenRepo.DeleteExpired(time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	observability.RecordSweep(deleted)
	s.logger.InfoContext(ctx, "token sweep completed", "deleted", deleted)
	return deleted, nil
}

// RunPeriodic sweeps on a fixed interval until the context is cancelled.
// Sweep errors are logged and the loop keeps going; the store owns retries.
func (s *JanitorService) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "token sweep failed", "error", err)
			}
		}
	}
}
