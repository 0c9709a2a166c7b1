package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sessioncore/token-lifecycle-service/internal/domain"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/repository"
	"github.com/sessioncore/token-lifecycle-service/internal/security"
)

var (
	// ErrUnknownRefreshToken and ErrRefreshTokenExpired are collapsed into one
	// client-visible failure at the HTTP boundary so probing cannot distinguish
	// "never existed" from "expired".
	ErrUnknownRefreshToken       = errors.New("unknown refresh token")
	ErrRefreshTokenExpired       = errors.New("refresh token expired")
	ErrRefreshTokenRevoked       = errors.New("refresh token revoked")
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

const negativeHashCacheNamespace = "token_hash"

type SessionMeta struct {
	UserAgent string
	IP        string
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	FamilyID         string
	RefreshExpiresAt time.Time
}

type TokenService struct {
	jwtMgr      *security.JWTManager
	tokenRepo   repository.TokenRepository
	directory   UserDirectory
	negCache    NegativeLookupCacheStore
	negCacheTTL time.Duration
	pepper      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewTokenService(
	jwtMgr *security.JWTManager,
	tokenRepo repository.TokenRepository,
	directory UserDirectory,
	negCache NegativeLookupCacheStore,
	pepper string,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	if negCache == nil {
		negCache = NewNoopNegativeLookupCacheStore()
	}
	return &TokenService{
		jwtMgr:      jwtMgr,
		tokenRepo:   tokenRepo,
		directory:   directory,
		negCache:    negCache,
		negCacheTTL: 5 * time.Minute,
		pepper:      pepper,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

// Issue opens a new rotation family for the user: one fresh opaque secret, one
// store insert. If the insert fails no token reaches the caller.
func (s *TokenService) Issue(ctx context.Context, userID uint, roles []string, meta SessionMeta) (*TokenPair, error) {
	pair, record, err := s.mint(userID, roles, uuid.NewString(), meta)
	if err != nil {
		observability.RecordTokenIssue("error")
		return nil, err
	}
	if err := s.tokenRepo.Create(record); err != nil {
		observability.RecordTokenIssue("error")
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	observability.RecordTokenIssue("success")
	observability.AuditEvent(ctx, "token.issued", "user_id", userID, "family_id", pair.FamilyID)
	return pair, nil
}

// Rotate exchanges a presented refresh token for a successor in the same
// family. Preconditions run in order: unknown, revoked, expired, already used.
// A used token presented again is treated as theft and revokes the entire
// family; that cascade is part of the error contract, not optional cleanup.
// The mark-used transition itself is a conditional update in the store, so of
// N concurrent calls with the same token exactly one wins and the rest land in
// reuse detection.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string, meta SessionMeta) (*TokenPair, uint, error) {
	hash := security.HashRefreshToken(refreshToken, s.pepper)

	if hit, err := s.negCache.Get(ctx, negativeHashCacheNamespace, hash); err == nil && hit {
		observability.RecordTokenRotation("unknown_cached")
		return nil, 0, ErrUnknownRefreshToken
	}

	record, err := s.tokenRepo.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			_ = s.negCache.Set(ctx, negativeHashCacheNamespace, hash, s.negCacheTTL)
			observability.RecordTokenRotation("unknown")
			return nil, 0, ErrUnknownRefreshToken
		}
		observability.RecordTokenRotation("error")
		return nil, 0, err
	}

	if record.IsRevoked {
		observability.RecordTokenRotation("revoked")
		return nil, 0, ErrRefreshTokenRevoked
	}
	if record.Expired(time.Now()) {
		observability.RecordTokenRotation("expired")
		return nil, 0, ErrRefreshTokenExpired
	}
	if record.IsUsed {
		return nil, 0, s.handleReuse(ctx, record, meta)
	}

	roles, err := s.directory.Lookup(record.UserID)
	if err != nil {
		observability.RecordTokenRotation("error")
		return nil, 0, fmt.Errorf("lookup user %d: %w", record.UserID, err)
	}

	pair, successor, err := s.mint(record.UserID, roles, record.FamilyID, meta)
	if err != nil {
		observability.RecordTokenRotation("error")
		return nil, 0, err
	}

	if err := s.tokenRepo.ConsumeAndReplace(record.ID, successor); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) {
			// lost the race against a concurrent presentation of the same token
			return nil, 0, s.handleReuse(ctx, record, meta)
		}
		observability.RecordTokenRotation("error")
		return nil, 0, fmt.Errorf("consume refresh token: %w", err)
	}

	observability.RecordTokenRotation("success")
	return pair, record.UserID, nil
}

// Logout retires the family behind a presented refresh token. Unknown tokens
// are ignored so logout stays idempotent even after a sweep already removed
// the record.
func (s *TokenService) Logout(ctx context.Context, refreshToken string) error {
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	record, err := s.tokenRepo.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	revoked, err := s.tokenRepo.RevokeByFamilyID(record.FamilyID, "user_sign_out")
	if err != nil {
		return fmt.Errorf("revoke family %s on logout: %w", record.FamilyID, err)
	}
	if revoked > 0 {
		observability.RecordRevocation("family", revoked)
		observability.AuditEvent(ctx, "token.sign_out", "user_id", record.UserID, "family_id", record.FamilyID, "count", revoked)
	}
	return nil
}

// FamilyOf resolves the rotation family a live refresh token belongs to.
func (s *TokenService) FamilyOf(refreshToken string) (string, error) {
	record, err := s.tokenRepo.FindByHash(security.HashRefreshToken(refreshToken, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return "", ErrUnknownRefreshToken
		}
		return "", err
	}
	return record.FamilyID, nil
}

func (s *TokenService) handleReuse(ctx context.Context, record *domain.RefreshToken, meta SessionMeta) error {
	revoked, err := s.tokenRepo.RevokeByFamilyID(record.FamilyID, "reuse_detected")
	if err != nil {
		observability.RecordTokenRotation("error")
		return fmt.Errorf("revoke family %s after reuse: %w", record.FamilyID, err)
	}
	observability.RecordTokenRotation("reuse_detected")
	observability.RecordReuseDetection(revoked)
	observability.AuditEvent(ctx, "token.reuse_detected",
		"user_id", record.UserID,
		"family_id", record.FamilyID,
		"token_id", record.ID,
		"revoked_count", revoked,
		"ip", meta.IP,
		"user_agent", meta.UserAgent,
	)
	return ErrRefreshTokenReuseDetected
}

func (s *TokenService) mint(userID uint, roles []string, familyID string, meta SessionMeta) (*TokenPair, *domain.RefreshToken, error) {
	access, err := s.jwtMgr.SignAccessToken(userID, roles, s.accessTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := security.NewRefreshSecret()
	if err != nil {
		return nil, nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, nil, fmt.Errorf("generate csrf token: %w", err)
	}
	expiresAt := time.Now().Add(s.refreshTTL)
	record := &domain.RefreshToken{
		UserID:    userID,
		TokenHash: security.HashRefreshToken(refresh, s.pepper),
		FamilyID:  familyID,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		ExpiresAt: expiresAt,
	}
	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		CSRFToken:        csrf,
		FamilyID:         familyID,
		RefreshExpiresAt: expiresAt,
	}
	return pair, record, nil
}
