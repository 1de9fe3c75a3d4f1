package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectorStatus is the physical state of a connector.
type ConnectorStatus string

// Connector statuses.
const (
	ConnectorAvailable    ConnectorStatus = "available"
	ConnectorOccupied     ConnectorStatus = "occupied"
	ConnectorMaintenance  ConnectorStatus = "maintenance"
	ConnectorOutOfService ConnectorStatus = "out_of_service"
)

// Valid reports whether s is a known status.
func (s ConnectorStatus) Valid() bool {
	switch s {
	case ConnectorAvailable, ConnectorOccupied, ConnectorMaintenance, ConnectorOutOfService:
		return true
	}
	return false
}

// Bookable is false for statuses that take the connector out of scheduling.
func (s ConnectorStatus) Bookable() bool {
	return s != ConnectorMaintenance && s != ConnectorOutOfService
}

// Station is a charging site with its connectors.
type Station struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Address        string           `json:"address"`
	Latitude       float64          `json:"latitude"`
	Longitude      float64          `json:"longitude"`
	Amenities      []string         `json:"amenities"`
	Rating         float64          `json:"rating"`
	Timezone       string           `json:"timezone,omitempty"`
	OperatingHours []OperatingHours `json:"operatingHours,omitempty"`
	OperatorID     string           `json:"operatorId"`
	Connectors     []Connector      `json:"connectors"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Connector is a single charging outlet.
type Connector struct {
	ID              string          `json:"id"`
	StationID       string          `json:"stationId"`
	Types           []string        `json:"types"`
	PowerKW         float64         `json:"powerKw"`
	PricePerKWh     float64         `json:"pricePerKwh"`
	PricePerMinute  float64         `json:"pricePerMinute"`
	Status          ConnectorStatus `json:"status"`
	StatusUpdatedAt time.Time       `json:"statusUpdatedAt"`
}

// HasType reports whether the connector offers any of the requested plug types.
// An empty request matches every connector.
func (c Connector) HasType(types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		for _, have := range c.Types {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// HasAmenities reports whether the station offers every requested amenity.
func (s Station) HasAmenities(amenities []string) bool {
	for _, want := range amenities {
		found := false
		for _, have := range s.Amenities {
			if strings.EqualFold(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Connector looks up a connector by id.
func (s Station) Connector(connectorID string) (Connector, bool) {
	for _, c := range s.Connectors {
		if c.ID == connectorID {
			return c, true
		}
	}
	return Connector{}, false
}

// OperatingHours is the opening period for one weekday, in "HH:MM" local time.
// Close "24:00" means end of day.
type OperatingHours struct {
	Weekday time.Weekday `json:"weekday"`
	Open    string       `json:"open"`
	Close   string       `json:"close"`
	Closed  bool         `json:"closed,omitempty"`
}

// Location returns the station time zone, UTC when unset or unknown.
func (s Station) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OpenDuring reports whether the whole window falls inside one opening period.
// Stations without hours are open around the clock.
func (s Station) OpenDuring(w TimeWindow) bool {
	if len(s.OperatingHours) == 0 {
		return true
	}
	loc := s.Location()
	start := w.Start.In(loc)
	end := w.End.In(loc)

	var hours *OperatingHours
	for i := range s.OperatingHours {
		if s.OperatingHours[i].Weekday == start.Weekday() {
			hours = &s.OperatingHours[i]
			break
		}
	}
	if hours == nil || hours.Closed {
		return false
	}

	openMin, err := parseClock(hours.Open)
	if err != nil {
		return false
	}
	closeMin, err := parseClock(hours.Close)
	if err != nil {
		return false
	}

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	opensAt := day.Add(time.Duration(openMin) * time.Minute)
	closesAt := day.Add(time.Duration(closeMin) * time.Minute)
	return !start.Before(opensAt) && !end.After(closesAt)
}

func parseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", v)
	}
	return h*60 + m, nil
}

// ValidateHours checks the clock format of every entry.
func (s Station) ValidateHours() error {
	for _, h := range s.OperatingHours {
		if h.Closed {
			continue
		}
		openMin, err := parseClock(h.Open)
		if err != nil {
			return err
		}
		closeMin, err := parseClock(h.Close)
		if err != nil {
			return err
		}
		if closeMin <= openMin {
			return fmt.Errorf("closing time %s must be after opening time %s", h.Close, h.Open)
		}
	}
	return nil
}

// ConnectorState is the live status of one connector.
type ConnectorState struct {
	ConnectorID string          `json:"connectorId"`
	Status      ConnectorStatus `json:"status"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// StationStatus is a point-in-time copy of every connector state at a station.
type StationStatus struct {
	StationID  string           `json:"stationId"`
	Connectors []ConnectorState `json:"connectors"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}
