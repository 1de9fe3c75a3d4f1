package events

import (
	"context"
	"time"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// Kind names a state change.
type Kind string

// Event kinds.
const (
	ConnectorStatusChanged    Kind = "connector_status_changed"
	StationMaintenanceToggled Kind = "station_maintenance_toggled"
	PricingChanged            Kind = "pricing_changed"
	ReservationCheckedIn      Kind = "reservation_checked_in"
	ReservationUpdated        Kind = "reservation_updated"
)

// ConnectorPricing carries tariff figures for pricing_changed.
type ConnectorPricing struct {
	PricePerKWh    float64 `json:"pricePerKwh"`
	PricePerMinute float64 `json:"pricePerMinute"`
}

// ReservationRef is the public part of a reservation carried by lifecycle events.
type ReservationRef struct {
	ID        string                   `json:"id"`
	Status    models.ReservationStatus `json:"status"`
	StartTime time.Time                `json:"startTime"`
	EndTime   time.Time                `json:"endTime"`
}

// Event is a committed state change.
type Event struct {
	Kind           Kind                   `json:"kind"`
	StationID      string                 `json:"stationId"`
	ConnectorID    string                 `json:"connectorId,omitempty"`
	Status         models.ConnectorStatus `json:"status,omitempty"`
	PreviousStatus models.ConnectorStatus `json:"previousStatus,omitempty"`
	Maintenance    *bool                  `json:"maintenance,omitempty"`
	Pricing        *ConnectorPricing      `json:"pricing,omitempty"`
	Reservation    *ReservationRef        `json:"reservation,omitempty"`
	Station        *models.StationStatus  `json:"station,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt"`
}

// RefOf builds a ReservationRef.
func RefOf(r models.Reservation) *ReservationRef {
	return &ReservationRef{ID: r.ID, Status: r.Status, StartTime: r.StartTime, EndTime: r.EndTime}
}

// Publisher receives events after the change is durable.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}
