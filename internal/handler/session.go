package handler

import (
	"net/http"

	"github.com/openclaw/auth-broker-go/internal/audit"
	"github.com/openclaw/auth-broker-go/internal/middleware"
	"github.com/openclaw/auth-broker-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// POST /v1/access-token
func (h *SessionHandler) AccessToken(w http.ResponseWriter, r *http.Request) {
	sessionToken := middleware.GetSessionToken(r.Context())

	result, err := h.sessionService.GetAccessToken(r.Context(), sessionToken)
	if err != nil {
		writeError(w, r, err, "failed to issue access token")
		return
	}

	if result.Refreshed {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventTokenRefresh, SessionToken: sessionToken})
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionToken := middleware.GetSessionToken(r.Context())

	if err := h.sessionService.Logout(r.Context(), sessionToken); err != nil {
		writeError(w, r, err, "failed to log out")
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, SessionToken: sessionToken})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
