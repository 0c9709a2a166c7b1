package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sessioncore/token-lifecycle-service/internal/http/middleware"
	"github.com/sessioncore/token-lifecycle-service/internal/http/response"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/security"
	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
	tokens   *service.TokenService
	cookies  CookieConfig
}

func NewSessionHandler(sessions *service.SessionService, tokens *service.TokenService, cookies CookieConfig) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens, cookies: cookies}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	views, err := h.sessions.ListSessions(userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not list sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	sessionID, err := strconv.ParseUint(chi.URLParam(r, "session_id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	if err := h.sessions.RevokeSession(r.Context(), userID, uint(sessionID)); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke session", nil)
		return
	}
	observability.Audit(r, "session.revoked", "user_id", userID, "session_id", sessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

// RevokeOthers signs the user out everywhere except the calling device, which
// is identified by the refresh cookie it presents.
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	refresh := security.GetCookie(r, refreshTokenCookie)
	if refresh == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "current session could not be identified", nil)
		return
	}
	keepFamily, err := h.tokens.FamilyOf(refresh)
	if err != nil {
		if errors.Is(err, service.ErrUnknownRefreshToken) {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "current session could not be identified", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke sessions", nil)
		return
	}
	families, err := h.sessions.RevokeOtherSessions(r.Context(), userID, keepFamily)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke sessions", nil)
		return
	}
	observability.Audit(r, "session.revoked_others", "user_id", userID, "families", families)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "revoked", "families": families})
}
