package ws

import (
	"time"

	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
)

// Client message types.
const (
	TypeSubscribeStation  = "subscribe_station"
	TypeSubscribeStations = "subscribe_stations"
	TypeSubscribeLocation = "subscribe_location"
	TypeUnsubscribe       = "unsubscribe"
	TypePing              = "ping"
)

// Server message types.
const (
	TypeStationStatus      = "station_status"
	TypeConnectorUpdate    = "connector_update"
	TypeStationMaintenance = "station_maintenance"
	TypePricingUpdate      = "pricing_update"
	TypeSubscribed         = "subscribed"
	TypeError              = "error"
	TypePong               = "pong"
)

// ClientMessage is a request sent by a subscriber.
type ClientMessage struct {
	Type       string   `json:"type"`
	StationID  string   `json:"stationId,omitempty"`
	StationIDs []string `json:"stationIds,omitempty"`
	Latitude   *float64 `json:"lat,omitempty"`
	Longitude  *float64 `json:"lon,omitempty"`
	RadiusKM   float64  `json:"radius,omitempty"`
}

// ServerMessage is pushed to subscribers.
type ServerMessage struct {
	Type           string                   `json:"type"`
	StationID      string                   `json:"stationId,omitempty"`
	ConnectorID    string                   `json:"connectorId,omitempty"`
	Status         models.ConnectorStatus   `json:"status,omitempty"`
	PreviousStatus models.ConnectorStatus   `json:"previousStatus,omitempty"`
	Event          events.Kind              `json:"event,omitempty"`
	Reservation    *events.ReservationRef   `json:"reservation,omitempty"`
	Connectors     []models.ConnectorState  `json:"connectors,omitempty"`
	Maintenance    *bool                    `json:"maintenance,omitempty"`
	Pricing        *events.ConnectorPricing `json:"pricing,omitempty"`
	Subscription   string                   `json:"subscription,omitempty"`
	Message        string                   `json:"message,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

func snapshotMessage(s models.StationStatus, at time.Time) ServerMessage {
	return ServerMessage{
		Type:       TypeStationStatus,
		StationID:  s.StationID,
		Connectors: s.Connectors,
		Timestamp:  at,
	}
}

// messageFor translates a committed event into its wire message.
func messageFor(ev events.Event) ServerMessage {
	msg := ServerMessage{
		StationID:   ev.StationID,
		ConnectorID: ev.ConnectorID,
		Event:       ev.Kind,
		Timestamp:   ev.OccurredAt,
	}
	switch ev.Kind {
	case events.StationMaintenanceToggled:
		msg.Type = TypeStationMaintenance
		msg.Maintenance = ev.Maintenance
		if ev.Station != nil {
			msg.Connectors = ev.Station.Connectors
		}
	case events.PricingChanged:
		msg.Type = TypePricingUpdate
		msg.Pricing = ev.Pricing
	default:
		msg.Type = TypeConnectorUpdate
		msg.Status = ev.Status
		msg.PreviousStatus = ev.PreviousStatus
		msg.Reservation = ev.Reservation
	}
	return msg
}
