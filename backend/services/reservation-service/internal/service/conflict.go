package service

import (
	"context"
	"sort"
	"time"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/models"
)

// StatusReader reports live connector status.
type StatusReader interface {
	Status(connectorID string) (models.ConnectorStatus, bool)
}

// Candidate is a proposed booking to check.
type Candidate struct {
	StationID            string
	ConnectorID          string
	Window               models.TimeWindow
	ExcludeReservationID string
}

// Availability is the verdict for a candidate.
type Availability struct {
	Free      bool
	Status    models.ConnectorStatus
	Conflicts []models.Reservation
}

// Err converts a negative verdict into a conflict error.
func (a Availability) Err(op, connectorID string) error {
	if a.Free {
		return nil
	}
	if !a.Status.Bookable() {
		return apperr.Conflict(op, apperr.ConflictRef{ConnectorID: connectorID, Reason: "connector is " + string(a.Status)})
	}
	refs := make([]apperr.ConflictRef, 0, len(a.Conflicts))
	for _, r := range a.Conflicts {
		refs = append(refs, apperr.ConflictRef{ReservationID: r.ID, ConnectorID: connectorID})
	}
	return apperr.Conflict(op, refs...)
}

// ConflictResolver decides whether a connector is free for a window.
type ConflictResolver struct {
	finder   BlockingFinder
	statuses StatusReader
}

// NewConflictResolver builds a resolver.
func NewConflictResolver(finder BlockingFinder, statuses StatusReader) *ConflictResolver {
	return &ConflictResolver{finder: finder, statuses: statuses}
}

// Check reports whether the candidate connector is bookable and unreserved for the window.
func (r *ConflictResolver) Check(ctx context.Context, c Candidate) (Availability, error) {
	const op = "ConflictResolver.Check"

	status, ok := r.statuses.Status(c.ConnectorID)
	if !ok {
		return Availability{}, apperr.NotFound(op, "connector", c.ConnectorID)
	}
	if !status.Bookable() {
		return Availability{Status: status}, nil
	}

	blocking, err := r.finder.ListBlocking(ctx, c.ConnectorID, c.Window)
	if err != nil {
		return Availability{}, apperr.Internal(op, err)
	}

	var conflicts []models.Reservation
	for _, res := range blocking {
		if res.ID == c.ExcludeReservationID || !res.Status.Blocking() {
			continue
		}
		if res.Window().Overlaps(c.Window) {
			conflicts = append(conflicts, res)
		}
	}
	return Availability{Free: len(conflicts) == 0, Status: status, Conflicts: conflicts}, nil
}

// EstimateRelease returns the earliest start at or after window.Start at which a
// window of the same length fits between blocking reservations, looking ahead at
// most horizon. Nil means unknown: the connector is out of scheduling, occupied
// by a charge no reservation accounts for, or booked solid over the horizon.
func (r *ConflictResolver) EstimateRelease(ctx context.Context, connectorID string, window models.TimeWindow, now time.Time, horizon time.Duration) (*time.Time, error) {
	const op = "ConflictResolver.EstimateRelease"

	status, ok := r.statuses.Status(connectorID)
	if !ok {
		return nil, apperr.NotFound(op, "connector", connectorID)
	}
	if !status.Bookable() {
		return nil, nil
	}

	from := window.Start
	if status == models.ConnectorOccupied && now.Before(from) {
		from = now
	}
	span := models.TimeWindow{Start: from, End: window.Start.Add(horizon)}
	blocking, err := r.finder.ListBlocking(ctx, connectorID, span)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	sort.Slice(blocking, func(i, j int) bool { return blocking[i].StartTime.Before(blocking[j].StartTime) })

	if status == models.ConnectorOccupied {
		explained := false
		for _, res := range blocking {
			if res.Status.Blocking() && res.Window().Overlaps(models.TimeWindow{Start: now, End: now.Add(time.Second)}) {
				explained = true
				break
			}
		}
		if !explained {
			return nil, nil
		}
	}

	length := window.Duration()
	candidate := window.Start
	for _, res := range blocking {
		if !res.Status.Blocking() {
			continue
		}
		if !res.StartTime.Before(candidate.Add(length)) {
			break
		}
		if res.EndTime.After(candidate) {
			candidate = res.EndTime
		}
	}
	if candidate.Add(length).After(span.End) {
		return nil, nil
	}
	return &candidate, nil
}
