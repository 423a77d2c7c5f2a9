package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/auth-broker-go/internal/audit"
	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/httputil"
	"github.com/openclaw/auth-broker-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
	}
}

// POST /v1/pair
func (h *PairingHandler) StartPairing(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairingService.StartPairing(r.Context())
	if err != nil {
		writeError(w, r, err, "failed to start pairing")
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventPairStart,
		PairID: result.PairID,
	})

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/callback
func (h *PairingHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	result, err := h.pairingService.HandleCallback(r.Context(), params)
	if err != nil {
		status := httputil.StatusFromCode(apperrors.GetCode(err))
		if status == http.StatusBadRequest {
			renderPage(w, status, pageBadRequest)
			return
		}
		log.Error().Err(err).Str("pairId", params.State).Msg("callback failed")
		renderPage(w, status, pageError)
		return
	}

	switch result.Outcome {
	case service.CallbackConnected:
		audit.LogFromRequest(r, audit.Event{Type: audit.EventPairComplete, PairID: result.PairID})
		renderPage(w, http.StatusOK, pageConnected)
	case service.CallbackAlreadyConnected:
		renderPage(w, http.StatusOK, pageAlreadyConnected)
	case service.CallbackNotRecognized:
		renderPage(w, http.StatusNotFound, pageNotRecognized)
	default:
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventPairFailed,
			PairID:  result.PairID,
			Details: map[string]any{"reason": result.Message},
		})
		page := pageFailed
		page.Detail = result.Message
		renderPage(w, http.StatusBadRequest, page)
	}
}

// GET /v1/pair/{pairId}
func (h *PairingHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pairId")

	result, err := h.pairingService.PollStatus(r.Context(), pairID)
	if err != nil {
		writeError(w, r, err, "failed to read pairing status")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
