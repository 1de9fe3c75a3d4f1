package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type conflictBody struct {
	Success   bool                 `json:"success"`
	Error     string               `json:"error"`
	Conflicts []apperr.ConflictRef `json:"conflicts"`
}

type internalErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// writeAppError maps the error taxonomy onto HTTP. Only safe kinds expose their message.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := middleware.RequestIDFromContext(r.Context())
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("", err)
	}

	switch e.Kind {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, e.Message)
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, e.Message)
	case apperr.KindPolicy:
		writeError(w, http.StatusUnprocessableEntity, e.Message)
	case apperr.KindConflict:
		conflicts := e.Conflicts
		if conflicts == nil {
			conflicts = []apperr.ConflictRef{}
		}
		writeJSON(w, http.StatusConflict, conflictBody{Success: false, Error: e.Message, Conflicts: conflicts})
	case apperr.KindDependency:
		logger.Warn("dependency failure", zap.String("request_id", requestID), zap.String("op", e.Op), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, internalErrorBody{Error: "internal error", RequestID: requestID})
	default:
		logger.Error("internal failure", zap.String("request_id", requestID), zap.String("op", e.Op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, internalErrorBody{Error: "internal error", RequestID: requestID})
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid json: %v", err)
	}
	return nil
}

func parseTimeParam(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return t.UTC(), nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
