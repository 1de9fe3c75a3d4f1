package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/repository"
)

// StationFilter narrows directory lookups.
type StationFilter struct {
	StationIDs     []string
	Center         *GeoPoint
	RadiusKM       float64
	ConnectorTypes []string
	MinPowerKW     float64
	Amenities      []string
}

// StationMatch is a station with its distance from the filter center.
type StationMatch struct {
	Station    models.Station
	DistanceKM float64
}

// StationDirectory is the in-memory station catalogue backed by the database.
type StationDirectory struct {
	store     StationStore
	tx        TxRunner
	publisher events.Publisher
	clock     Clock
	logger    *zap.Logger

	mu          sync.RWMutex
	stations    map[string]models.Station
	connectorAt map[string]string
}

// NewStationDirectory builds an empty directory; call Load before serving.
func NewStationDirectory(store StationStore, tx TxRunner, publisher events.Publisher, clock Clock, logger *zap.Logger) *StationDirectory {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &StationDirectory{
		store:       store,
		tx:          tx,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
		stations:    make(map[string]models.Station),
		connectorAt: make(map[string]string),
	}
}

// Load replaces the catalogue with the stored one.
func (d *StationDirectory) Load(ctx context.Context) error {
	stations, err := d.store.ListStations(ctx)
	if err != nil {
		return apperr.Internal("StationDirectory.Load", err)
	}

	byID := make(map[string]models.Station, len(stations))
	connectorAt := make(map[string]string)
	for _, st := range stations {
		byID[st.ID] = st
		for _, c := range st.Connectors {
			connectorAt[c.ID] = st.ID
		}
	}

	d.mu.Lock()
	d.stations = byID
	d.connectorAt = connectorAt
	d.mu.Unlock()

	d.logger.Info("station directory loaded", zap.Int("stations", len(byID)), zap.Int("connectors", len(connectorAt)))
	return nil
}

// Run reloads the catalogue on every tick until ctx is done.
func (d *StationDirectory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Load(ctx); err != nil {
				d.logger.Warn("station directory reload failed", zap.Error(err))
			}
		}
	}
}

// Station returns a copy of the station.
func (d *StationDirectory) Station(id string) (models.Station, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.stations[id]
	if !ok {
		return models.Station{}, false
	}
	return cloneStation(st), true
}

// Connector resolves a connector id to its station and connector.
func (d *StationDirectory) Connector(connectorID string) (models.Station, models.Connector, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stationID, ok := d.connectorAt[connectorID]
	if !ok {
		return models.Station{}, models.Connector{}, false
	}
	st := d.stations[stationID]
	c, ok := st.Connector(connectorID)
	if !ok {
		return models.Station{}, models.Connector{}, false
	}
	return cloneStation(st), c, true
}

// All returns every station ordered by id.
func (d *StationDirectory) All() []models.Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Station, 0, len(d.stations))
	for _, st := range d.stations {
		out = append(out, cloneStation(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Locate returns the station coordinates.
func (d *StationDirectory) Locate(stationID string) (GeoPoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.stations[stationID]
	if !ok {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: st.Latitude, Longitude: st.Longitude}, true
}

// Find returns stations matching the filter. Connectors that fail the connector
// filters are removed from each returned station; stations left without any are dropped.
func (d *StationDirectory) Find(f StationFilter) []StationMatch {
	var ids map[string]struct{}
	if len(f.StationIDs) > 0 {
		ids = make(map[string]struct{}, len(f.StationIDs))
		for _, id := range f.StationIDs {
			ids[id] = struct{}{}
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]StationMatch, 0)
	for _, st := range d.stations {
		if ids != nil {
			if _, ok := ids[st.ID]; !ok {
				continue
			}
		}
		if !st.HasAmenities(f.Amenities) {
			continue
		}

		var distance float64
		if f.Center != nil {
			distance = DistanceKM(*f.Center, GeoPoint{Latitude: st.Latitude, Longitude: st.Longitude})
			if f.RadiusKM > 0 && distance > f.RadiusKM {
				continue
			}
		}

		copied := cloneStation(st)
		connectors := copied.Connectors[:0]
		for _, c := range copied.Connectors {
			if !c.HasType(f.ConnectorTypes) || c.PowerKW < f.MinPowerKW {
				continue
			}
			connectors = append(connectors, c)
		}
		if len(connectors) == 0 {
			continue
		}
		copied.Connectors = connectors
		out = append(out, StationMatch{Station: copied, DistanceKM: distance})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Station.ID < out[j].Station.ID })
	return out
}

// Upsert validates and stores a station, then replaces it in memory.
func (d *StationDirectory) Upsert(ctx context.Context, st models.Station) (models.Station, error) {
	const op = "StationDirectory.Upsert"

	st.ID = strings.TrimSpace(st.ID)
	if st.ID == "" {
		return models.Station{}, apperr.Validation(op, "station id is required")
	}
	if !(GeoPoint{Latitude: st.Latitude, Longitude: st.Longitude}).Valid() {
		return models.Station{}, apperr.Validation(op, "station coordinates out of range")
	}
	if st.Rating < 0 || st.Rating > 5 {
		return models.Station{}, apperr.Validation(op, "rating must be between 0 and 5")
	}
	if st.Timezone != "" {
		if _, err := time.LoadLocation(st.Timezone); err != nil {
			return models.Station{}, apperr.Validation(op, "unknown timezone %q", st.Timezone)
		}
	}
	if err := st.ValidateHours(); err != nil {
		return models.Station{}, apperr.Validation(op, "%v", err)
	}
	if len(st.Connectors) == 0 {
		return models.Station{}, apperr.Validation(op, "station needs at least one connector")
	}

	seen := make(map[string]struct{}, len(st.Connectors))
	for i := range st.Connectors {
		c := &st.Connectors[i]
		if c.ID == "" {
			return models.Station{}, apperr.Validation(op, "connector id is required")
		}
		if _, dup := seen[c.ID]; dup {
			return models.Station{}, apperr.Validation(op, "duplicate connector %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		if owner, ok := d.stationOf(c.ID); ok && owner != st.ID {
			return models.Station{}, apperr.Validation(op, "connector %s belongs to station %s", c.ID, owner)
		}
		if len(c.Types) == 0 || c.PowerKW <= 0 {
			return models.Station{}, apperr.Validation(op, "connector %s needs types and positive power", c.ID)
		}
		if c.PricePerKWh < 0 || c.PricePerMinute < 0 {
			return models.Station{}, apperr.Validation(op, "connector %s has negative pricing", c.ID)
		}
		c.StationID = st.ID
		if prev, ok := d.connectorStatus(c.ID); ok {
			c.Status = prev
		} else if !c.Status.Valid() {
			c.Status = models.ConnectorAvailable
		}
	}

	err := d.tx.Do(ctx, func(ctx context.Context) error {
		return d.store.UpsertStation(ctx, st)
	})
	if err != nil {
		return models.Station{}, apperr.Internal(op, err)
	}

	st.UpdatedAt = d.clock.Now()

	d.mu.Lock()
	if prev, ok := d.stations[st.ID]; ok {
		for _, c := range prev.Connectors {
			delete(d.connectorAt, c.ID)
		}
	}
	d.stations[st.ID] = cloneStation(st)
	for _, c := range st.Connectors {
		d.connectorAt[c.ID] = st.ID
	}
	d.mu.Unlock()

	d.logger.Info("station upserted", zap.String("station_id", st.ID), zap.Int("connectors", len(st.Connectors)))
	return cloneStation(st), nil
}

// UpdatePricing stores new tariff figures for a connector and announces them.
func (d *StationDirectory) UpdatePricing(ctx context.Context, connectorID string, perKWh, perMinute float64) error {
	const op = "StationDirectory.UpdatePricing"

	if perKWh < 0 || perMinute < 0 {
		return apperr.Validation(op, "pricing must not be negative")
	}
	stationID, ok := d.stationOf(connectorID)
	if !ok {
		return apperr.NotFound(op, "connector", connectorID)
	}

	if err := d.store.UpdateConnectorPricing(ctx, connectorID, perKWh, perMinute); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "connector", connectorID)
		}
		return apperr.Internal(op, err)
	}

	d.mu.Lock()
	st := d.stations[stationID]
	for i := range st.Connectors {
		if st.Connectors[i].ID == connectorID {
			st.Connectors[i].PricePerKWh = perKWh
			st.Connectors[i].PricePerMinute = perMinute
		}
	}
	d.stations[stationID] = st
	d.mu.Unlock()

	d.publisher.Publish(ctx, events.Event{
		Kind:        events.PricingChanged,
		StationID:   stationID,
		ConnectorID: connectorID,
		Pricing:     &events.ConnectorPricing{PricePerKWh: perKWh, PricePerMinute: perMinute},
		OccurredAt:  d.clock.Now(),
	})
	return nil
}

// setConnectorStatus mirrors a committed status change so new lookups see it.
func (d *StationDirectory) setConnectorStatus(connectorID string, status models.ConnectorStatus, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stationID, ok := d.connectorAt[connectorID]
	if !ok {
		return
	}
	st := d.stations[stationID]
	for i := range st.Connectors {
		if st.Connectors[i].ID == connectorID {
			st.Connectors[i].Status = status
			st.Connectors[i].StatusUpdatedAt = at
		}
	}
	d.stations[stationID] = st
}

func (d *StationDirectory) stationOf(connectorID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.connectorAt[connectorID]
	return id, ok
}

func (d *StationDirectory) connectorStatus(connectorID string) (models.ConnectorStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stationID, ok := d.connectorAt[connectorID]
	if !ok {
		return "", false
	}
	c, ok := d.stations[stationID].Connector(connectorID)
	return c.Status, ok
}

func cloneStation(st models.Station) models.Station {
	out := st
	out.Amenities = append([]string(nil), st.Amenities...)
	out.OperatingHours = append([]models.OperatingHours(nil), st.OperatingHours...)
	out.Connectors = make([]models.Connector, len(st.Connectors))
	for i, c := range st.Connectors {
		c.Types = append([]string(nil), c.Types...)
		out.Connectors[i] = c
	}
	return out
}
