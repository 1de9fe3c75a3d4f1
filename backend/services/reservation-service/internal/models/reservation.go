package models

import "time"

// ReservationStatus is a state of the reservation lifecycle.
type ReservationStatus string

// Reservation statuses.
const (
	ReservationPending    ReservationStatus = "pending"
	ReservationConfirmed  ReservationStatus = "confirmed"
	ReservationCheckedIn  ReservationStatus = "checked_in"
	ReservationInProgress ReservationStatus = "in_progress"
	ReservationCompleted  ReservationStatus = "completed"
	ReservationCancelled  ReservationStatus = "cancelled"
	ReservationNoShow     ReservationStatus = "no_show"
)

// BlockingStatuses hold a connector for their window.
var BlockingStatuses = []ReservationStatus{ReservationConfirmed, ReservationCheckedIn, ReservationInProgress}

var transitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:    {ReservationConfirmed},
	ReservationConfirmed:  {ReservationCheckedIn, ReservationCancelled, ReservationNoShow},
	ReservationCheckedIn:  {ReservationInProgress, ReservationCompleted},
	ReservationInProgress: {ReservationCompleted},
}

// Blocking reports whether the status occupies the connector.
func (s ReservationStatus) Blocking() bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled || s == ReservationNoShow
}

// CanTransition reports whether s -> to is allowed.
func (s ReservationStatus) CanTransition(to ReservationStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	if s.Terminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// Booking methods.
const (
	BookingMethodApp       = "app"
	BookingMethodWeb       = "web"
	BookingMethodOperator  = "operator"
	BookingMethodRecurring = "recurring"
)

// Reservation holds a connector for a user during a window.
type Reservation struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"userId"`
	StationID          string            `json:"stationId"`
	ConnectorID        string            `json:"connectorId"`
	VehicleID          string            `json:"vehicleId,omitempty"`
	StartTime          time.Time         `json:"startTime"`
	EndTime            time.Time         `json:"endTime"`
	Status             ReservationStatus `json:"status"`
	Fee                float64           `json:"fee"`
	Currency           string            `json:"currency"`
	GracePeriodMinutes int               `json:"gracePeriodMinutes"`
	BookingMethod      string            `json:"bookingMethod"`
	PatternID          string            `json:"patternId,omitempty"`
	Recurring          *RecurringPattern `json:"recurring,omitempty"`
	CheckedInAt        *time.Time        `json:"checkedInAt,omitempty"`
	PenaltyFee         float64           `json:"penaltyFee,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CancellationReason string            `json:"cancellationReason,omitempty"`
	RefundAmount       float64           `json:"refundAmount,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Window returns the reserved interval.
func (r Reservation) Window() TimeWindow {
	return TimeWindow{Start: r.StartTime, End: r.EndTime}
}

// NoShowDeadline is the moment after which an unattended reservation becomes a no-show.
func (r Reservation) NoShowDeadline() time.Time {
	graceEnd := r.StartTime.Add(time.Duration(r.GracePeriodMinutes) * time.Minute)
	if graceEnd.After(r.EndTime) {
		return graceEnd
	}
	return r.EndTime
}

// Recurrence frequencies.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
	FrequencyCustom = "custom"
)

// RecurringPattern expands one request into a series of reservations.
// Custom patterns repeat on the listed weekdays, or every IntervalDays when no weekday is given.
type RecurringPattern struct {
	Frequency    string         `json:"frequency"`
	Count        int            `json:"count,omitempty"`
	Until        *time.Time     `json:"until,omitempty"`
	IntervalDays int            `json:"intervalDays,omitempty"`
	Weekdays     []time.Weekday `json:"weekdays,omitempty"`
}
