package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/repository"
)

// StatusChange describes the outcome of a status report.
type StatusChange struct {
	StationID   string
	ConnectorID string
	Previous    models.ConnectorStatus
	Current     models.ConnectorStatus
	Applied     bool
	Snapshot    models.StationStatus
}

type connectorState struct {
	stationID string
	status    models.ConnectorStatus
	updatedAt time.Time
}

// ConnectorStateStore is the live status of every connector. Writes go to the
// database first and are published only after they stick.
type ConnectorStateStore struct {
	directory *StationDirectory
	store     ConnectorStatusStore
	tx        TxRunner
	publisher events.Publisher
	clock     Clock
	logger    *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	states  map[string]*connectorState
}

// NewConnectorStateStore builds a store seeded lazily from the directory.
func NewConnectorStateStore(
	directory *StationDirectory,
	store ConnectorStatusStore,
	tx TxRunner,
	publisher events.Publisher,
	clock Clock,
	logger *zap.Logger,
) *ConnectorStateStore {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ConnectorStateStore{
		directory: directory,
		store:     store,
		tx:        tx,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		states:    make(map[string]*connectorState),
	}
}

// Status returns the current status of a connector.
func (s *ConnectorStateStore) Status(connectorID string) (models.ConnectorStatus, bool) {
	s.mu.RLock()
	st, ok := s.states[connectorID]
	s.mu.RUnlock()
	if ok {
		return st.status, true
	}
	_, c, ok := s.directory.Connector(connectorID)
	if !ok {
		return "", false
	}
	return c.Status, true
}

// Set records a status reported at `at`. Reports older than the stored one and
// reports that repeat the current status are ignored.
func (s *ConnectorStateStore) Set(ctx context.Context, connectorID string, status models.ConnectorStatus, at time.Time) (StatusChange, error) {
	const op = "ConnectorStateStore.Set"

	if !status.Valid() {
		return StatusChange{}, apperr.Validation(op, "unknown connector status %q", status)
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok := s.current(connectorID)
	if !ok {
		return StatusChange{}, apperr.NotFound(op, "connector", connectorID)
	}
	change := StatusChange{
		StationID:   current.stationID,
		ConnectorID: connectorID,
		Previous:    current.status,
		Current:     current.status,
	}
	if at.Before(current.updatedAt) || status == current.status {
		change.Snapshot, _ = s.Snapshot(current.stationID)
		return change, nil
	}

	if err := s.store.UpdateConnectorStatus(ctx, connectorID, status, at); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			s.logger.Debug("ignored out-of-order connector status",
				zap.String("connector_id", connectorID),
				zap.Time("reported_at", at),
			)
			change.Snapshot, _ = s.Snapshot(current.stationID)
			return change, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return StatusChange{}, apperr.NotFound(op, "connector", connectorID)
		}
		return StatusChange{}, apperr.Internal(op, err)
	}

	s.apply(connectorID, current.stationID, status, at)
	change.Current = status
	change.Applied = true
	change.Snapshot, _ = s.Snapshot(current.stationID)

	s.publisher.Publish(ctx, events.Event{
		Kind:           events.ConnectorStatusChanged,
		StationID:      current.stationID,
		ConnectorID:    connectorID,
		Status:         status,
		PreviousStatus: change.Previous,
		OccurredAt:     at,
	})
	return change, nil
}

// SetStationMaintenance moves every connector of a station into maintenance, or
// back to available for the ones currently in maintenance. All connector rows
// change in one transaction.
func (s *ConnectorStateStore) SetStationMaintenance(ctx context.Context, stationID string, enabled bool) (models.StationStatus, error) {
	const op = "ConnectorStateStore.SetStationMaintenance"

	station, ok := s.directory.Station(stationID)
	if !ok {
		return models.StationStatus{}, apperr.NotFound(op, "station", stationID)
	}
	at := s.clock.Now()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	type pending struct {
		connectorID string
		status      models.ConnectorStatus
	}
	var changes []pending
	for _, c := range station.Connectors {
		current, ok := s.current(c.ID)
		if !ok {
			continue
		}
		switch {
		case enabled && current.status != models.ConnectorMaintenance:
			changes = append(changes, pending{connectorID: c.ID, status: models.ConnectorMaintenance})
		case !enabled && current.status == models.ConnectorMaintenance:
			changes = append(changes, pending{connectorID: c.ID, status: models.ConnectorAvailable})
		}
	}

	if len(changes) > 0 {
		err := s.tx.Do(ctx, func(ctx context.Context) error {
			for _, ch := range changes {
				if err := s.store.UpdateConnectorStatus(ctx, ch.connectorID, ch.status, at); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return models.StationStatus{}, apperr.Internal(op, err)
		}
		for _, ch := range changes {
			s.apply(ch.connectorID, stationID, ch.status, at)
		}
	}

	snapshot, _ := s.Snapshot(stationID)
	s.publisher.Publish(ctx, events.Event{
		Kind:        events.StationMaintenanceToggled,
		StationID:   stationID,
		Maintenance: &enabled,
		Station:     &snapshot,
		OccurredAt:  at,
	})
	s.logger.Info("station maintenance toggled",
		zap.String("station_id", stationID),
		zap.Bool("enabled", enabled),
		zap.Int("changed", len(changes)),
	)
	return snapshot, nil
}

// Snapshot returns the status of every connector at a station.
func (s *ConnectorStateStore) Snapshot(stationID string) (models.StationStatus, bool) {
	station, ok := s.directory.Station(stationID)
	if !ok {
		return models.StationStatus{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := models.StationStatus{
		StationID:  stationID,
		Connectors: make([]models.ConnectorState, 0, len(station.Connectors)),
	}
	for _, c := range station.Connectors {
		state := models.ConnectorState{ConnectorID: c.ID, Status: c.Status, UpdatedAt: c.StatusUpdatedAt}
		if live, ok := s.states[c.ID]; ok {
			state.Status = live.status
			state.UpdatedAt = live.updatedAt
		}
		if state.UpdatedAt.After(snapshot.UpdatedAt) {
			snapshot.UpdatedAt = state.UpdatedAt
		}
		snapshot.Connectors = append(snapshot.Connectors, state)
	}
	sort.Slice(snapshot.Connectors, func(i, j int) bool {
		return snapshot.Connectors[i].ConnectorID < snapshot.Connectors[j].ConnectorID
	})
	return snapshot, true
}

func (s *ConnectorStateStore) current(connectorID string) (connectorState, bool) {
	s.mu.RLock()
	st, ok := s.states[connectorID]
	s.mu.RUnlock()
	if ok {
		return *st, true
	}
	station, c, ok := s.directory.Connector(connectorID)
	if !ok {
		return connectorState{}, false
	}
	return connectorState{stationID: station.ID, status: c.Status, updatedAt: c.StatusUpdatedAt}, true
}

func (s *ConnectorStateStore) apply(connectorID, stationID string, status models.ConnectorStatus, at time.Time) {
	s.mu.Lock()
	s.states[connectorID] = &connectorState{stationID: stationID, status: status, updatedAt: at}
	s.mu.Unlock()
	s.directory.setConnectorStatus(connectorID, status, at)
}
