package clients

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// ErrSessionsDisabled is returned when no sessions service is configured.
var ErrSessionsDisabled = errors.New("sessions client disabled")

// SessionsClient opens charging sessions for checked-in reservations.
type SessionsClient struct {
	http   jsonClient
	logger *zap.Logger
}

// StartSessionRequest payload for a reservation-backed session.
type StartSessionRequest struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	StationID     string    `json:"station_id"`
	ConnectorID   string    `json:"connector_id"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	PlannedEnd    time.Time `json:"planned_end"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

// NewSessionsClient builds HTTP client wrapper.
func NewSessionsClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SessionsClient {
	return &SessionsClient{http: newJSONClient(baseURL, timeout), logger: logger}
}

// StartSession returns the id of the started session.
func (c *SessionsClient) StartSession(ctx context.Context, res models.Reservation) (string, error) {
	if !c.http.enabled() {
		return "", ErrSessionsDisabled
	}

	var out startSessionResponse
	err := c.http.post(ctx, "/internal/sessions/start", StartSessionRequest{
		ReservationID: res.ID,
		UserID:        res.UserID,
		StationID:     res.StationID,
		ConnectorID:   res.ConnectorID,
		VehicleID:     res.VehicleID,
		PlannedEnd:    res.EndTime,
	}, &out)
	if err != nil {
		c.logger.Warn("sessions client request failed", zap.String("reservation_id", res.ID), zap.Error(err))
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("sessions service returned no session id")
	}
	return out.SessionID, nil
}
