package service

import (
	"context"
	"errors"
	"time"

	"github.com/sessioncore/token-lifecycle-service/internal/repository"
)

type SessionView struct {
	ID         uint       `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UserAgent  string     `json:"user_agent"`
	IP         string     `json:"ip"`
}

var ErrSessionNotFound = errors.New("session not found")

// SessionService projects store state into the user-facing session list. One
// row per family: the newest non-revoked record in the chain, since that is
// the record the device will present next. The row id is the only internal
// identifier ever shown to clients, and only so it can be passed back to
// RevokeSession.
type SessionService struct {
	tokenRepo  repository.TokenRepository
	revocation *RevocationService
}

func NewSessionService(tokenRepo repository.TokenRepository, revocation *RevocationService) *SessionService {
	return &SessionService{tokenRepo: tokenRepo, revocation: revocation}
}

func (s *SessionService) ListSessions(userID uint) ([]SessionView, error) {
	tokens, err := s.tokenRepo.ListLiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	// tokens come back newest first; keep the first record seen per family
	seen := make(map[string]bool, len(tokens))
	views := make([]SessionView, 0, len(tokens))
	for _, t := range tokens {
		if seen[t.FamilyID] {
			continue
		}
		seen[t.FamilyID] = true
		views = append(views, SessionView{
			ID:         t.ID,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
			LastUsedAt: t.UsedAt,
			UserAgent:  t.UserAgent,
			IP:         t.IP,
		})
	}
	return views, nil
}

// RevokeOtherSessions revokes every live family of the user except the one
// the calling device holds, reported as revoked family count.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID uint, keepFamilyID string) (int64, error) {
	tokens, err := s.tokenRepo.ListLiveByUserID(userID)
	if err != nil {
		return 0, err
	}
	seen := map[string]bool{keepFamilyID: true}
	var families int64
	for _, t := range tokens {
		if seen[t.FamilyID] {
			continue
		}
		seen[t.FamilyID] = true
		if _, err := s.revocation.RevokeFamily(ctx, t.FamilyID, "user_revoked_other_sessions"); err != nil {
			return families, err
		}
		families++
	}
	return families, nil
}

// RevokeSession checks that the token belongs to the requesting user, then
// revokes its whole family so the device cannot continue with a successor.
func (s *SessionService) RevokeSession(ctx context.Context, userID, tokenID uint) error {
	token, err := s.tokenRepo.FindByIDForUser(userID, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	_, err = s.revocation.RevokeFamily(ctx, token.FamilyID, "user_session_revoked")
	return err
}
