package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHashRefreshTokenIsDeterministicAndPepperBound(t *testing.T) {
	h1 := HashRefreshToken("tok", "pepper-a")
	h2 := HashRefreshToken("tok", "pepper-a")
	if h1 != h2 {
		t.Fatal("expected deterministic hash for same token and pepper")
	}
	if h1 == HashRefreshToken("tok", "pepper-b") {
		t.Fatal("expected different pepper to change the hash")
	}
	if h1 == HashRefreshToken("tok2", "pepper-a") {
		t.Fatal("expected different token to change the hash")
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha256 length 64, got %d", len(h1))
	}
}

func TestNewCSRFTokenUnique(t *testing.T) {
	a, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("csrf token: %v", err)
	}
	b, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("csrf token: %v", err)
	}
	if a == "" || a == b {
		t.Fatal("expected distinct non-empty csrf tokens")
	}
}

func TestGetCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "v1"})
	if got := GetCookie(r, "refresh_token"); got != "v1" {
		t.Fatalf("unexpected cookie value %q", got)
	}
	if got := GetCookie(r, "missing"); got != "" {
		t.Fatalf("expected empty for missing cookie, got %q", got)
	}
}

func TestNewRefreshSecretUnique(t *testing.T) {
	a, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("refresh secret: %v", err)
	}
	b, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("refresh secret: %v", err)
	}
	if a == "" || a == b {
		t.Fatal("expected distinct non-empty refresh secrets")
	}
	if len(a) < 40 {
		t.Fatalf("expected at least 256 bits encoded, got %d chars", len(a))
	}
}

func TestJWTManagerRoundTrip(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")

	access, err := mgr.SignAccessToken(42, []string{"user"}, time.Minute)
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	claims, err := mgr.ParseAccessToken(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "42" || claims.TokenType != "access" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	other := NewJWTManager("iss", "aud", "00000000000000000000000000000000")
	if _, err := other.ParseAccessToken(access); err == nil {
		t.Fatal("expected token signed with different secret to be rejected")
	}
}
