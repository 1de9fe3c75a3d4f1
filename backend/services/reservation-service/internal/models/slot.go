package models

import "time"

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether End is after Start.
func (w TimeWindow) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// Duration of the window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps is the half-open intersection test.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return other.Start.Before(w.End) && other.End.After(w.Start)
}

// Shift moves both bounds by d.
func (w TimeWindow) Shift(d time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// Price is a fee quote from the pricing collaborator.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// StationSummary is the station part of a slot.
type StationSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Rating    float64  `json:"rating"`
	Amenities []string `json:"amenities"`
}

// AvailabilitySlot is a bookable station+connector+window offer.
type AvailabilitySlot struct {
	Station         StationSummary  `json:"station"`
	ConnectorID     string          `json:"connectorId"`
	ConnectorTypes  []string        `json:"connectorTypes"`
	PowerKW         float64         `json:"powerKw"`
	ConnectorStatus ConnectorStatus `json:"connectorStatus"`
	Available       bool            `json:"available"`
	Window          TimeWindow      `json:"window"`
	Pricing         *Price          `json:"pricing,omitempty"`
	DistanceKM      float64         `json:"distanceKm"`
	ExpiresAt       time.Time       `json:"expiresAt"`
}

// WaitListOption estimates when a station frees up. EstimateUnknown is set
// when no busy connector has a release time, e.g. it is under maintenance or
// occupied without a reservation.
type WaitListOption struct {
	StationID            string     `json:"stationId"`
	ConnectorTypes       []string   `json:"connectorTypes"`
	EstimatedAvailableAt *time.Time `json:"estimatedAvailableAt,omitempty"`
	EstimateUnknown      bool       `json:"estimateUnknown,omitempty"`
	DistanceKM           float64    `json:"distanceKm"`
}
