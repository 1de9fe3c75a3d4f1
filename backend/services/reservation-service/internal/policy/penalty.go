package policy

import "time"

// LatePenalty charges a linear fee per full minute beyond the grace period.
type LatePenalty struct {
	PerMinute float64
}

// LateMinutes returns full minutes between start and checkIn, zero when early.
func LateMinutes(start, checkIn time.Time) int {
	if !checkIn.After(start) {
		return 0
	}
	return int(checkIn.Sub(start) / time.Minute)
}

// Fee returns the penalty for arriving lateMinutes after start with the given grace.
func (p LatePenalty) Fee(lateMinutes, graceMinutes int) float64 {
	over := lateMinutes - graceMinutes
	if over <= 0 || p.PerMinute <= 0 {
		return 0
	}
	return roundCents(float64(over) * p.PerMinute)
}
