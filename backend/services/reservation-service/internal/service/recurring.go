package service

import (
	"time"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/models"
)

// ExpandPattern returns the occurrence windows of a recurring request, first
// window included. Count includes the first occurrence; Until is inclusive of
// occurrences starting on or before it. Expansion stops at max occurrences.
// Days are stepped on the wall clock of loc, so an occurrence keeps its local
// start time across daylight saving changes. A nil loc means UTC.
func ExpandPattern(first models.TimeWindow, p models.RecurringPattern, max int, loc *time.Location) ([]models.TimeWindow, error) {
	const op = "ExpandPattern"

	if p.Count <= 0 && p.Until == nil {
		return nil, apperr.Validation(op, "recurring pattern needs a count or an end date")
	}
	if p.Count < 0 {
		return nil, apperr.Validation(op, "recurring count must be positive")
	}
	if p.Until != nil && p.Until.Before(first.Start) {
		return nil, apperr.Validation(op, "recurring end date is before the first occurrence")
	}
	if max <= 0 {
		max = 52
	}
	if p.Count > max {
		return nil, apperr.Validation(op, "recurring count must not exceed %d", max)
	}

	if loc == nil {
		loc = time.UTC
	}
	next, err := stepper(p, loc)
	if err != nil {
		return nil, err
	}

	windows := []models.TimeWindow{first}
	current := first
	for len(windows) < max {
		if p.Count > 0 && len(windows) >= p.Count {
			break
		}
		current = next(current)
		if p.Until != nil && current.Start.After(*p.Until) {
			break
		}
		windows = append(windows, current)
	}
	return windows, nil
}

func stepper(p models.RecurringPattern, loc *time.Location) (func(models.TimeWindow) models.TimeWindow, error) {
	const op = "ExpandPattern"

	days := func(n int) func(models.TimeWindow) models.TimeWindow {
		return func(w models.TimeWindow) models.TimeWindow {
			return models.TimeWindow{
				Start: w.Start.In(loc).AddDate(0, 0, n).UTC(),
				End:   w.End.In(loc).AddDate(0, 0, n).UTC(),
			}
		}
	}

	switch p.Frequency {
	case models.FrequencyDaily:
		return days(1), nil
	case models.FrequencyWeekly:
		return days(7), nil
	case models.FrequencyCustom:
		if len(p.Weekdays) > 0 {
			allowed := make(map[time.Weekday]bool, len(p.Weekdays))
			for _, d := range p.Weekdays {
				if d < time.Sunday || d > time.Saturday {
					return nil, apperr.Validation(op, "invalid weekday %d", d)
				}
				allowed[d] = true
			}
			step := days(1)
			return func(w models.TimeWindow) models.TimeWindow {
				for i := 0; i < 7; i++ {
					w = step(w)
					if allowed[w.Start.In(loc).Weekday()] {
						return w
					}
				}
				return w
			}, nil
		}
		if p.IntervalDays <= 0 {
			return nil, apperr.Validation(op, "custom pattern needs weekdays or a positive interval")
		}
		return days(p.IntervalDays), nil
	default:
		return nil, apperr.Validation(op, "unknown recurring frequency %q", p.Frequency)
	}
}
