package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sessioncore/token-lifecycle-service/internal/http/middleware"
	"github.com/sessioncore/token-lifecycle-service/internal/http/response"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/security"
	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

// AbuseGuard is the optional cooldown collaborator for the refresh endpoint.
type AbuseGuard interface {
	Check(ctx context.Context, scope service.AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope service.AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope service.AuthAbuseScope, identity, ip string) error
}

type AuthHandler struct {
	oauth      *service.OAuthService
	tokens     *service.TokenService
	revocation *service.RevocationService
	abuseGuard AbuseGuard
	cookies    CookieConfig
}

func NewAuthHandler(
	oauth *service.OAuthService,
	tokens *service.TokenService,
	revocation *service.RevocationService,
	abuseGuard AbuseGuard,
	cookies CookieConfig,
) *AuthHandler {
	return &AuthHandler{
		oauth:      oauth,
		tokens:     tokens,
		revocation: revocation,
		abuseGuard: abuseGuard,
		cookies:    cookies,
	}
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.oauth.LoginURL(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not start login", nil)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing state or code", nil)
		return
	}
	userID, roles, err := h.oauth.HandleCallback(r.Context(), state, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOAuthStateInvalid):
			response.Error(w, r, http.StatusUnauthorized, "OAUTH_STATE_INVALID", "login state invalid or already used", nil)
		case errors.Is(err, service.ErrEmailNotVerified):
			response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "provider email is not verified", nil)
		case errors.Is(err, service.ErrOAuthProviderFailed):
			response.Error(w, r, http.StatusBadGateway, "OAUTH_PROVIDER_FAILED", "identity provider request failed", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		}
		return
	}

	pair, err := h.tokens.Issue(r.Context(), userID, roles, requestMeta(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not establish session", nil)
		return
	}
	observability.Audit(r, "auth.login", "user_id", userID)
	setAuthCookies(w, h.cookies, pair)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":      userID,
		"access_token": pair.AccessToken,
		"csrf_token":   pair.CSRFToken,
		"expires_at":   pair.RefreshExpiresAt,
	})
}

// Refresh rotates the presented refresh token. Unknown and expired tokens get
// the same client-visible answer so the endpoint cannot be used as an oracle
// for which token values exist.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh := h.refreshTokenFrom(r)
	if refresh == "" {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or expired", nil)
		return
	}
	ip := clientIP(r)

	if h.abuseGuard != nil {
		cooldown, err := h.abuseGuard.Check(r.Context(), service.AuthAbuseScopeRefresh, "", ip)
		if err == nil && cooldown > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(cooldown))
			response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed attempts", nil)
			return
		}
	}

	pair, userID, err := h.tokens.Rotate(r.Context(), refresh, requestMeta(r))
	if err != nil {
		h.registerRefreshFailure(r.Context(), ip)
		switch {
		case errors.Is(err, service.ErrUnknownRefreshToken), errors.Is(err, service.ErrRefreshTokenExpired):
			response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or expired", nil)
		case errors.Is(err, service.ErrRefreshTokenRevoked):
			clearAuthCookies(w, h.cookies)
			response.Error(w, r, http.StatusUnauthorized, "REFRESH_TOKEN_REVOKED", "refresh token has been revoked", nil)
		case errors.Is(err, service.ErrRefreshTokenReuseDetected):
			clearAuthCookies(w, h.cookies)
			response.Error(w, r, http.StatusUnauthorized, "REFRESH_REUSE_DETECTED", "refresh token reuse detected, session terminated", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not refresh session", nil)
		}
		return
	}

	if h.abuseGuard != nil {
		_ = h.abuseGuard.Reset(r.Context(), service.AuthAbuseScopeRefresh, "", ip)
	}
	setAuthCookies(w, h.cookies, pair)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":      userID,
		"access_token": pair.AccessToken,
		"csrf_token":   pair.CSRFToken,
		"expires_at":   pair.RefreshExpiresAt,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if refresh := h.refreshTokenFrom(r); refresh != "" {
		if err := h.tokens.Logout(r.Context(), refresh); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
			return
		}
	}
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		observability.Audit(r, "auth.logout", "user_id", userID)
	}
	clearAuthCookies(w, h.cookies)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// LogoutAll revokes every live refresh token the user holds, across devices.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	count, err := h.revocation.RevokeAllForUser(r.Context(), userID, "user_sign_out_all")
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
		return
	}
	observability.Audit(r, "auth.logout_all", "user_id", userID, "revoked", count)
	clearAuthCookies(w, h.cookies)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "logged_out", "revoked": count})
}

func (h *AuthHandler) refreshTokenFrom(r *http.Request) string {
	if v := security.GetCookie(r, refreshTokenCookie); v != "" {
		return v
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			return body.RefreshToken
		}
	}
	return ""
}

func (h *AuthHandler) registerRefreshFailure(ctx context.Context, ip string) {
	if h.abuseGuard == nil {
		return
	}
	_, _ = h.abuseGuard.RegisterFailure(ctx, service.AuthAbuseScopeRefresh, "", ip)
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
