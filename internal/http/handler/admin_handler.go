package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sessioncore/token-lifecycle-service/internal/http/response"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"
	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

// AdminHandler exposes the operator-facing revocation surface. All operations
// are idempotent: revoking what is already revoked reports zero changes.
type AdminHandler struct {
	revocation *service.RevocationService
}

func NewAdminHandler(revocation *service.RevocationService) *AdminHandler {
	return &AdminHandler{revocation: revocation}
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func decodeReason(r *http.Request) string {
	var body revokeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body.Reason
}

func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid token id", nil)
		return
	}
	if err := h.revocation.RevokeToken(r.Context(), uint(tokenID), decodeReason(r)); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke token", nil)
		return
	}
	observability.Audit(r, "admin.token_revoked", "token_id", tokenID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AdminHandler) RevokeFamily(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "family_id")
	if familyID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing family id", nil)
		return
	}
	count, err := h.revocation.RevokeFamily(r.Context(), familyID, decodeReason(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke family", nil)
		return
	}
	observability.Audit(r, "admin.family_revoked", "family_id", familyID, "count", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "revoked", "count": count})
}

func (h *AdminHandler) RevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	count, err := h.revocation.RevokeAllForUser(r.Context(), uint(userID), decodeReason(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke user tokens", nil)
		return
	}
	observability.Audit(r, "admin.user_tokens_revoked", "user_id", userID, "count", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "revoked", "count": count})
}
