package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/service"
)

// SearchHandler serves GET /api/v1/slots/search.
type SearchHandler struct {
	searcher SlotSearcher
	logger   *zap.Logger
}

// NewSearchHandler builds handler.
func NewSearchHandler(searcher SlotSearcher, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseSearchQuery(values url.Values) (service.SearchQuery, error) {
	var q service.SearchQuery
	var err error

	if q.Window.Start, err = parseTimeParam(values.Get("start"), "start"); err != nil {
		return q, err
	}
	if q.Window.End, err = parseTimeParam(values.Get("end"), "end"); err != nil {
		return q, err
	}

	q.StationIDs = splitList(values.Get("stationIds"))
	q.ConnectorTypes = splitList(values.Get("connectorTypes"))
	q.Amenities = splitList(values.Get("amenities"))

	lat, hasLat, err := floatParam(values, "lat")
	if err != nil {
		return q, err
	}
	lon, hasLon, err := floatParam(values, "lon")
	if err != nil {
		return q, err
	}
	if hasLat != hasLon {
		return q, fmt.Errorf("lat and lon must be given together")
	}
	if hasLat {
		q.Center = &service.GeoPoint{Latitude: lat, Longitude: lon}
	}
	if q.RadiusKM, _, err = floatParam(values, "radius"); err != nil {
		return q, err
	}
	if q.MinPowerKW, _, err = floatParam(values, "minPower"); err != nil {
		return q, err
	}

	q.AvailableOnly = true
	if raw := values.Get("availableOnly"); raw != "" {
		if q.AvailableOnly, err = strconv.ParseBool(raw); err != nil {
			return q, fmt.Errorf("availableOnly must be a boolean")
		}
	}
	if q.Limit, err = intParam(values, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(values, "offset"); err != nil {
		return q, err
	}

	prefs := &service.Preferences{
		ConnectorTypes: splitList(values.Get("prefConnectorTypes")),
		Amenities:      splitList(values.Get("prefAmenities")),
	}
	maxPrice, hasMax, err := floatParam(values, "maxPrice")
	if err != nil {
		return q, err
	}
	if hasMax {
		prefs.MaxPrice = &maxPrice
	}
	if prefs.MinRating, _, err = floatParam(values, "minRating"); err != nil {
		return q, err
	}
	q.Preferences = prefs
	return q, nil
}

func floatParam(values url.Values, name string) (float64, bool, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
	return v, true, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func parseStatuses(raw string) ([]models.ReservationStatus, error) {
	var out []models.ReservationStatus
	for _, s := range splitList(raw) {
		status := models.ReservationStatus(s)
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		out = append(out, status)
	}
	return out, nil
}
