package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

// CookieConfig carries the deployment-dependent cookie attributes. Secure is
// off only in the dev profile.
type CookieConfig struct {
	Secure    bool
	Domain    string
	AccessTTL time.Duration
}

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
	csrfTokenCookie    = "csrf_token"

	// refresh token only travels to the auth endpoints
	refreshCookiePath = "/api/v1/auth"
)

func setAuthCookies(w http.ResponseWriter, cfg CookieConfig, pair *service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(cfg.AccessTTL),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Domain:   cfg.Domain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	// readable by the frontend for the double-submit header
	http.SetCookie(w, &http.Cookie{
		Name:     csrfTokenCookie,
		Value:    pair.CSRFToken,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: false,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	expire := func(name, path string, httpOnly bool) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: httpOnly,
			Secure:   cfg.Secure,
		})
	}
	expire(accessTokenCookie, "/", true)
	expire(refreshTokenCookie, refreshCookiePath, true)
	expire(csrfTokenCookie, "/", false)
}

func requestMeta(r *http.Request) service.SessionMeta {
	return service.SessionMeta{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
