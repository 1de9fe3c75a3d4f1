package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/service"
)

// ReservationsHandler holds the user-facing reservation endpoints.
type ReservationsHandler struct {
	svc    ReservationService
	logger *zap.Logger
}

// NewReservationsHandler builds handler set.
func NewReservationsHandler(svc ReservationService, logger *zap.Logger) *ReservationsHandler {
	return &ReservationsHandler{svc: svc, logger: logger}
}

type recurringRequest struct {
	Frequency    string         `json:"frequency"`
	Count        int            `json:"count"`
	Until        *time.Time     `json:"until"`
	IntervalDays int            `json:"intervalDays"`
	Weekdays     []time.Weekday `json:"weekdays"`
}

type createReservationRequest struct {
	StationID     string            `json:"stationId"`
	ConnectorID   string            `json:"connectorId"`
	VehicleID     string            `json:"vehicleId"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	BookingMethod string            `json:"bookingMethod"`
	Recurring     *recurringRequest `json:"recurring"`
}

type createReservationResponse struct {
	Success bool `json:"success"`
	*service.CreateResult
}

type modifyReservationRequest struct {
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	StationID   string     `json:"stationId"`
	ConnectorID string     `json:"connectorId"`
}

type modifyReservationResponse struct {
	Success bool `json:"success"`
	*service.ModifyResult
}

type cancelReservationRequest struct {
	Reason string `json:"reason"`
	Scope  string `json:"scope"`
	Policy string `json:"policy"`
}

type cancelReservationResponse struct {
	Success bool `json:"success"`
	*service.CancelResult
}

type checkInRequest struct {
	StationID   string     `json:"stationId"`
	ConnectorID string     `json:"connectorId"`
	Timestamp   *time.Time `json:"timestamp"`
	AutoStart   bool       `json:"autoStart"`
}

type graceExtensionRequest struct {
	Minutes int `json:"minutes"`
}

type reservationListResponse struct {
	Reservations []models.Reservation `json:"reservations"`
	Count        int                  `json:"count"`
}

// HandleCreate handles POST /api/v1/reservations.
func (h *ReservationsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := service.CreateInput{
		UserID:        userID,
		StationID:     req.StationID,
		ConnectorID:   req.ConnectorID,
		VehicleID:     req.VehicleID,
		Window:        models.TimeWindow{Start: req.StartTime.UTC(), End: req.EndTime.UTC()},
		BookingMethod: req.BookingMethod,
	}
	if req.Recurring != nil {
		in.Recurring = &models.RecurringPattern{
			Frequency:    req.Recurring.Frequency,
			Count:        req.Recurring.Count,
			Until:        req.Recurring.Until,
			IntervalDays: req.Recurring.IntervalDays,
			Weekdays:     req.Recurring.Weekdays,
		}
	}

	result, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createReservationResponse{Success: true, CreateResult: result})
}

// HandleList handles GET /api/v1/reservations.
func (h *ReservationsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.svc.ListByUser(r.Context(), userID, statuses, limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, reservationListResponse{Reservations: items, Count: len(items)})
}

// HandleGet handles GET /api/v1/reservations/{id}.
func (h *ReservationsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleModify handles PATCH /api/v1/reservations/{id}.
func (h *ReservationsHandler) HandleModify(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req modifyReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Modify(r.Context(), service.ModifyInput{
		ReservationID:  mux.Vars(r)["id"],
		UserID:         userID,
		NewStart:       utcPtr(req.StartTime),
		NewEnd:         utcPtr(req.EndTime),
		NewStationID:   req.StationID,
		NewConnectorID: req.ConnectorID,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, modifyReservationResponse{Success: true, ModifyResult: result})
}

// HandleCancel handles POST /api/v1/reservations/{id}/cancel.
func (h *ReservationsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req cancelReservationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Cancel(r.Context(), service.CancelInput{
		ReservationID: mux.Vars(r)["id"],
		UserID:        userID,
		Reason:        req.Reason,
		Scope:         service.CancelScope(req.Scope),
		Policy:        req.Policy,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelReservationResponse{Success: true, CancelResult: result})
}

// HandleCheckIn handles POST /api/v1/reservations/{id}/check-in.
func (h *ReservationsHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req checkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := service.CheckInInput{
		ReservationID: mux.Vars(r)["id"],
		UserID:        userID,
		StationID:     req.StationID,
		ConnectorID:   req.ConnectorID,
		AutoStart:     req.AutoStart,
	}
	if req.Timestamp != nil {
		in.Timestamp = req.Timestamp.UTC()
	}
	result, err := h.svc.CheckIn(r.Context(), in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleExtendGrace handles POST /api/v1/reservations/{id}/grace-extension.
func (h *ReservationsHandler) HandleExtendGrace(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req graceExtensionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.ExtendGrace(r.Context(), mux.Vars(r)["id"], userID, req.Minutes)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStart handles POST /api/v1/reservations/{id}/start.
func (h *ReservationsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	res, err := h.svc.StartSession(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
