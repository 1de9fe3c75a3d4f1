package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// StationsHandler serves station reads and the operator/OCPP callbacks that
// change connector state.
type StationsHandler struct {
	catalog StationCatalog
	states  ConnectorStates
	logger  *zap.Logger
}

// NewStationsHandler builds handler set.
func NewStationsHandler(catalog StationCatalog, states ConnectorStates, logger *zap.Logger) *StationsHandler {
	return &StationsHandler{catalog: catalog, states: states, logger: logger}
}

type stationResponse struct {
	models.Station
	Live *models.StationStatus `json:"live,omitempty"`
}

type connectorStatusRequest struct {
	Status    models.ConnectorStatus `json:"status"`
	Timestamp *time.Time             `json:"timestamp"`
}

type connectorStatusResponse struct {
	StationID      string                 `json:"stationId"`
	ConnectorID    string                 `json:"connectorId"`
	Status         models.ConnectorStatus `json:"status"`
	PreviousStatus models.ConnectorStatus `json:"previousStatus"`
	Applied        bool                   `json:"applied"`
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

type pricingRequest struct {
	PricePerKWh    float64 `json:"pricePerKwh"`
	PricePerMinute float64 `json:"pricePerMinute"`
}

// HandleGet handles GET /api/v1/stations/{stationId}.
func (h *StationsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["stationId"]
	st, ok := h.catalog.Station(id)
	if !ok {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	resp := stationResponse{Station: st}
	if snap, ok := h.states.Snapshot(id); ok {
		resp.Live = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUpsert handles PUT /internal/stations/{stationId}.
func (h *StationsHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var st models.Station
	if err := decodeJSON(r, &st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["stationId"]
	if st.ID != "" && st.ID != id {
		writeError(w, http.StatusBadRequest, "station id does not match the path")
		return
	}
	st.ID = id

	saved, err := h.catalog.Upsert(r.Context(), st)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleConnectorStatus handles POST /internal/connectors/{connectorId}/status.
func (h *StationsHandler) HandleConnectorStatus(w http.ResponseWriter, r *http.Request) {
	var req connectorStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at := time.Now().UTC()
	if req.Timestamp != nil {
		at = req.Timestamp.UTC()
	}

	change, err := h.states.Set(r.Context(), mux.Vars(r)["connectorId"], req.Status, at)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if !change.Applied {
		status = http.StatusAccepted
	}
	writeJSON(w, status, connectorStatusResponse{
		StationID:      change.StationID,
		ConnectorID:    change.ConnectorID,
		Status:         change.Current,
		PreviousStatus: change.Previous,
		Applied:        change.Applied,
	})
}

// HandleMaintenance handles POST /internal/stations/{stationId}/maintenance.
func (h *StationsHandler) HandleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.states.SetStationMaintenance(r.Context(), mux.Vars(r)["stationId"], req.Enabled)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandlePricing handles PUT /internal/connectors/{connectorId}/pricing.
func (h *StationsHandler) HandlePricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	connectorID := mux.Vars(r)["connectorId"]
	if err := h.catalog.UpdatePricing(r.Context(), connectorID, req.PricePerKWh, req.PricePerMinute); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connectorId":    connectorID,
		"pricePerKwh":    req.PricePerKWh,
		"pricePerMinute": req.PricePerMinute,
	})
}
