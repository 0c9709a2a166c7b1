package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sessioncore/token-lifecycle-service/internal/security"
)

// loginAsAdmin promotes the identity in the directory after its first login,
// then logs in again so the fresh access token carries the admin role.
func loginAsAdmin(t *testing.T, s *testServer, email string) session {
	t.Helper()
	first := s.login(t, email)
	s.directory.Seed(first.userID, []string{"user", "admin"})
	return s.login(t, email)
}

func (s *testServer) adminPost(t *testing.T, sess session, path string) (*http.Response, envelope) {
	t.Helper()
	headers := map[string]string{
		"Authorization": "Bearer " + sess.accessToken,
		"X-CSRF-Token":  sess.csrfToken,
	}
	cookies := []*http.Cookie{{Name: "csrf_token", Value: sess.csrfToken}}
	resp := s.do(t, http.MethodPost, path, cookies, headers, `{"reason":"compromised"}`)
	env := decodeEnvelope(t, resp)
	resp.Body.Close()
	return resp, env
}

func TestAdminRevokeUserTokens(t *testing.T) {
	s := newLifecycleServer(t)
	admin := loginAsAdmin(t, s, "root@example.com")
	victim := s.login(t, "victim@example.com")

	resp, env := s.adminPost(t, admin, fmt.Sprintf("/api/v1/admin/users/%d/revoke-tokens", victim.userID))
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("admin revoke failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	rr, _, _ := s.refresh(t, victim)
	if rr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("victim session should be dead, got %d", rr.StatusCode)
	}

	// the admin's own session is untouched
	rr, _, _ = s.refresh(t, admin)
	if rr.StatusCode != http.StatusOK {
		t.Fatalf("admin session should survive, got %d", rr.StatusCode)
	}
}

func TestAdminRevokeFamily(t *testing.T) {
	s := newLifecycleServer(t)
	admin := loginAsAdmin(t, s, "root@example.com")
	victim := s.login(t, "victim@example.com")

	rec, err := s.repo.FindByHash(security.HashRefreshToken(victim.refreshToken, testPepper))
	if err != nil {
		t.Fatalf("find victim token: %v", err)
	}

	resp, env := s.adminPost(t, admin, "/api/v1/admin/families/"+rec.FamilyID+"/revoke")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("family revoke failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	rr, _, _ := s.refresh(t, victim)
	if rr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("victim family should be dead, got %d", rr.StatusCode)
	}
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	s := newLifecycleServer(t)
	user := s.login(t, "plain@example.com")

	resp, env := s.adminPost(t, user, fmt.Sprintf("/api/v1/admin/users/%d/revoke-tokens", user.userID))
	if resp.StatusCode != http.StatusForbidden || errorCodeOf(env) != "FORBIDDEN" {
		t.Fatalf("non-admin: status=%d code=%q", resp.StatusCode, errorCodeOf(env))
	}
}

func TestAdminRevokeIsIdempotent(t *testing.T) {
	s := newLifecycleServer(t)
	admin := loginAsAdmin(t, s, "root@example.com")
	victim := s.login(t, "victim@example.com")

	path := fmt.Sprintf("/api/v1/admin/users/%d/revoke-tokens", victim.userID)
	resp, env := s.adminPost(t, admin, path)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first revoke: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	resp, env = s.adminPost(t, admin, path)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second revoke must also succeed: status=%d error=%+v", resp.StatusCode, env.Error)
	}
}
