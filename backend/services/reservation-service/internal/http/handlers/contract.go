package handlers

import (
	"context"
	"time"

	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/service"
)

// SlotSearcher answers availability queries.
type SlotSearcher interface {
	Search(ctx context.Context, q service.SearchQuery) (*service.SearchResult, error)
}

// ReservationService is the reservation lifecycle.
type ReservationService interface {
	Create(ctx context.Context, in service.CreateInput) (*service.CreateResult, error)
	Modify(ctx context.Context, in service.ModifyInput) (*service.ModifyResult, error)
	Cancel(ctx context.Context, in service.CancelInput) (*service.CancelResult, error)
	CheckIn(ctx context.Context, in service.CheckInInput) (*service.CheckInResult, error)
	StartSession(ctx context.Context, reservationID, userID string) (*models.Reservation, error)
	Complete(ctx context.Context, in service.CompleteInput) (*models.Reservation, error)
	ExtendGrace(ctx context.Context, reservationID, userID string, minutes int) (*models.Reservation, error)
	Get(ctx context.Context, reservationID, userID string) (*models.Reservation, error)
	ListByUser(ctx context.Context, userID string, statuses []models.ReservationStatus, limit int) ([]models.Reservation, error)
}

// StationCatalog is the station directory.
type StationCatalog interface {
	Station(id string) (models.Station, bool)
	Upsert(ctx context.Context, st models.Station) (models.Station, error)
	UpdatePricing(ctx context.Context, connectorID string, perKWh, perMinute float64) error
}

// ConnectorStates is the live connector status store.
type ConnectorStates interface {
	Set(ctx context.Context, connectorID string, status models.ConnectorStatus, at time.Time) (service.StatusChange, error)
	SetStationMaintenance(ctx context.Context, stationID string, enabled bool) (models.StationStatus, error)
	Snapshot(stationID string) (models.StationStatus, bool)
}
