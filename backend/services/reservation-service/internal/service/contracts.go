package service

import (
	"context"
	"time"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// StationStore persists the station catalogue.
type StationStore interface {
	ListStations(ctx context.Context) ([]models.Station, error)
	UpsertStation(ctx context.Context, st models.Station) error
	UpdateConnectorPricing(ctx context.Context, connectorID string, perKWh, perMinute float64) error
}

// ConnectorStatusStore persists connector status with an ordering guard.
type ConnectorStatusStore interface {
	UpdateConnectorStatus(ctx context.Context, connectorID string, status models.ConnectorStatus, at time.Time) error
}

// BlockingFinder lists reservations that hold a connector during a window.
type BlockingFinder interface {
	ListBlocking(ctx context.Context, connectorID string, window models.TimeWindow) ([]models.Reservation, error)
}

// ReservationStore is the durable reservation table.
type ReservationStore interface {
	BlockingFinder
	Create(ctx context.Context, res *models.Reservation) error
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	ListByPattern(ctx context.Context, patternID string) ([]models.Reservation, error)
	ListByUser(ctx context.Context, userID string, statuses []models.ReservationStatus, limit int) ([]models.Reservation, error)
	ListDueNoShows(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
	Update(ctx context.Context, res *models.Reservation, expected models.ReservationStatus) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReservationCache is a read-through cache keyed by reservation id.
type ReservationCache interface {
	Get(ctx context.Context, id string) (*models.Reservation, error)
	Set(ctx context.Context, res *models.Reservation) error
	Delete(ctx context.Context, ids ...string) error
}

// Pricer quotes the fee for a connector and window.
type Pricer interface {
	CalculatePrice(ctx context.Context, station models.Station, connector models.Connector, window models.TimeWindow) (models.Price, error)
}

// Refunder returns money to the user.
type Refunder interface {
	Refund(ctx context.Context, reservationID string, amount float64, currency string) error
}

// Notifier schedules and withdraws user reminders.
type Notifier interface {
	ScheduleReminders(ctx context.Context, res models.Reservation) error
	CancelReminders(ctx context.Context, reservationID string) error
}

// SessionStarter opens a charging session for a checked-in reservation.
type SessionStarter interface {
	StartSession(ctx context.Context, res models.Reservation) (string, error)
}

// OperationRecorder counts engine outcomes.
type OperationRecorder interface {
	Operation(operation, result string)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string) {}
