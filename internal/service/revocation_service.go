package service

import (
	"context"
	"fmt"

	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/repository"
)

// RevocationService kills tokens: one record, a whole rotation family, or
// everything a user holds. Every operation is a conditional bulk update
// (is_revoked = false guard), so repeated calls are no-ops rather than errors,
// and none of them look at is_used.
type RevocationService struct {
	tokenRepo repository.TokenRepository
}

func NewRevocationService(tokenRepo repository.TokenRepository) *RevocationService {
	return &RevocationService{tokenRepo: tokenRepo}
}

func (s *RevocationService) RevokeToken(ctx context.Context, tokenID uint, reason string) error {
	if reason == "" {
		reason = "manual_revoke"
	}
	changed, err := s.tokenRepo.RevokeByID(tokenID, reason)
	if err != nil {
		return fmt.Errorf("revoke token %d: %w", tokenID, err)
	}
	if changed {
		observability.RecordRevocation("token", 1)
		observability.AuditEvent(ctx, "token.revoked", "token_id", tokenID, "reason", reason)
	}
	return nil
}

func (s *RevocationService) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	if reason == "" {
		reason = "family_revoke"
	}
	count, err := s.tokenRepo.RevokeByFamilyID(familyID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke family %s: %w", familyID, err)
	}
	if count > 0 {
		observability.RecordRevocation("family", count)
		observability.AuditEvent(ctx, "token.family_revoked", "family_id", familyID, "count", count, "reason", reason)
	}
	return count, nil
}

func (s *RevocationService) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	if reason == "" {
		reason = "user_sign_out_all"
	}
	count, err := s.tokenRepo.RevokeByUserID(userID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke all for user %d: %w", userID, err)
	}
	if count > 0 {
		observability.RecordRevocation("user", count)
		observability.AuditEvent(ctx, "token.user_revoked", "user_id", userID, "count", count, "reason", reason)
	}
	return count, nil
}
