package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sessioncore/token-lifecycle-service/internal/security"
)

func newTestSessionService(repo *inMemoryTokenRepo) *SessionService {
	return NewSessionService(repo, NewRevocationService(repo))
}

func TestListSessionsOneRowPerFamily(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	sessions := newTestSessionService(repo)

	// family one rotated twice, family two fresh
	pair, err := svc.Issue(context.Background(), 42, []string{"user"}, SessionMeta{UserAgent: "laptop", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	next, _, err := svc.Rotate(context.Background(), pair.RefreshToken, SessionMeta{UserAgent: "laptop", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, _, err := svc.Rotate(context.Background(), next.RefreshToken, SessionMeta{UserAgent: "laptop", IP: "10.0.0.1"}); err != nil {
		t.Fatalf("rotate 2: %v", err)
	}
	if _, err := svc.Issue(context.Background(), 42, []string{"user"}, SessionMeta{UserAgent: "phone", IP: "10.0.0.2"}); err != nil {
		t.Fatalf("second issue: %v", err)
	}

	views, err := sessions.ListSessions(42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected one row per family, got %d rows", len(views))
	}
	agents := map[string]bool{}
	for _, v := range views {
		agents[v.UserAgent] = true
	}
	if !agents["laptop"] || !agents["phone"] {
		t.Fatalf("expected one laptop and one phone row, got %+v", views)
	}
}

func TestListSessionsSkipsRevokedAndExpired(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	sessions := newTestSessionService(repo)

	pair, err := svc.Issue(context.Background(), 42, []string{"user"}, testMeta())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := svc.Issue(context.Background(), 42, []string{"user"}, testMeta())
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	repo.expire(hashForTest(svc, expired.RefreshToken))

	if _, err := NewRevocationService(repo).RevokeFamily(context.Background(), pair.FamilyID, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	views, err := sessions.ListSessions(42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected empty session list, got %+v", views)
	}
}

func TestRevokeSessionKillsWholeFamily(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	sessions := newTestSessionService(repo)

	pair, err := svc.Issue(context.Background(), 42, []string{"user"}, testMeta())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	next, _, err := svc.Rotate(context.Background(), pair.RefreshToken, testMeta())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	views, err := sessions.ListSessions(42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one session, got %d", len(views))
	}

	if err := sessions.RevokeSession(context.Background(), 42, views[0].ID); err != nil {
		t.Fatalf("revoke session: %v", err)
	}

	// the device's current token is dead, not just the listed record
	_, _, err = svc.Rotate(context.Background(), next.RefreshToken, testMeta())
	if !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked after session revoke, got %v", err)
	}
}

func TestRevokeSessionOwnershipEnforced(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	sessions := newTestSessionService(repo)

	pair, err := svc.Issue(context.Background(), 42, []string{"user"}, testMeta())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rec, err := repo.FindByHash(hashForTest(svc, pair.RefreshToken))
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	err = sessions.RevokeSession(context.Background(), 7, rec.ID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for foreign token, got %v", err)
	}
	got, _ := repo.FindByIDForUser(42, rec.ID)
	if got.IsRevoked {
		t.Fatal("foreign revoke attempt must not touch the token")
	}
}

func TestRevokeSessionUnknownID(t *testing.T) {
	repo := newInMemoryTokenRepo()
	sessions := newTestSessionService(repo)

	err := sessions.RevokeSession(context.Background(), 42, 12345)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeOtherSessionsKeepsCurrentFamily(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	sessions := newTestSessionService(repo)

	current, err := svc.Issue(context.Background(), 42, []string{"user"}, SessionMeta{UserAgent: "laptop"})
	if err != nil {
		t.Fatalf("issue current: %v", err)
	}
	other1, err := svc.Issue(context.Background(), 42, []string{"user"}, SessionMeta{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("issue other1: %v", err)
	}
	other2, err := svc.Issue(context.Background(), 42, []string{"user"}, SessionMeta{UserAgent: "tablet"})
	if err != nil {
		t.Fatalf("issue other2: %v", err)
	}

	families, err := sessions.RevokeOtherSessions(context.Background(), 42, current.FamilyID)
	if err != nil {
		t.Fatalf("revoke others: %v", err)
	}
	if families != 2 {
		t.Fatalf("expected 2 families revoked, got %d", families)
	}

	if _, _, err := svc.Rotate(context.Background(), current.RefreshToken, testMeta()); err != nil {
		t.Fatalf("current session must keep rotating: %v", err)
	}
	for _, tok := range []string{other1.RefreshToken, other2.RefreshToken} {
		if _, _, err := svc.Rotate(context.Background(), tok, testMeta()); !errors.Is(err, ErrRefreshTokenRevoked) {
			t.Fatalf("expected other session revoked, got %v", err)
		}
	}
}

func hashForTest(svc *TokenService, token string) string {
	return security.HashRefreshToken(token, svc.pepper)
}
