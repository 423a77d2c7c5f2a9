package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs server-side failures with their cause and writes the
// client-safe error body.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := httputil.StatusFromCode(apperrors.GetCode(err))
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	}
	httputil.WriteError(w, err)
}
