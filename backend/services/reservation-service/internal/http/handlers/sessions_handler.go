package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/service"
)

// SessionsCallbackHandler receives session lifecycle callbacks from the sessions service.
type SessionsCallbackHandler struct {
	svc    ReservationService
	logger *zap.Logger
}

// NewSessionsCallbackHandler builds handler.
func NewSessionsCallbackHandler(svc ReservationService, logger *zap.Logger) *SessionsCallbackHandler {
	return &SessionsCallbackHandler{svc: svc, logger: logger}
}

type sessionCompletedRequest struct {
	ReservationID string `json:"reservation_id"`
	SessionID     string `json:"session_id"`
}

// ServeHTTP handles POST /internal/sessions/completed.
func (h *SessionsCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req sessionCompletedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "reservation_id is required")
		return
	}

	res, err := h.svc.Complete(r.Context(), service.CompleteInput{
		ReservationID: req.ReservationID,
		SessionID:     req.SessionID,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "ok", "reservation": res})
}
