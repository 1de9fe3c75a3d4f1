package models

import (
	"testing"
	"time"
)

func TestTimeWindowOverlapIsHalfOpen(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := TimeWindow{Start: base, End: base.Add(time.Hour)}

	cases := []struct {
		name string
		b    TimeWindow
		want bool
	}{
		{"inside", TimeWindow{Start: base.Add(30 * time.Minute), End: base.Add(45 * time.Minute)}, true},
		{"touching end", TimeWindow{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, false},
		{"touching start", TimeWindow{Start: base.Add(-time.Hour), End: base}, false},
		{"covering", TimeWindow{Start: base.Add(-time.Hour), End: base.Add(2 * time.Hour)}, true},
		{"straddling start", TimeWindow{Start: base.Add(-time.Minute), End: base.Add(time.Minute)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Overlaps(tc.b); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := tc.b.Overlaps(a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric for %s", tc.name)
			}
		})
	}
}

func TestReservationTransitions(t *testing.T) {
	if !ReservationConfirmed.CanTransition(ReservationCheckedIn) {
		t.Fatalf("confirmed -> checked_in must be allowed")
	}
	if ReservationCheckedIn.CanTransition(ReservationCancelled) {
		t.Fatalf("checked_in -> cancelled must be rejected")
	}
	if ReservationCompleted.CanTransition(ReservationConfirmed) {
		t.Fatalf("terminal states must not transition")
	}
	for _, s := range BlockingStatuses {
		if !s.Blocking() {
			t.Fatalf("%s must block", s)
		}
	}
	if ReservationCancelled.Blocking() || ReservationNoShow.Blocking() {
		t.Fatalf("terminal states must not block")
	}
}

func TestNoShowDeadline(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := Reservation{StartTime: start, EndTime: start.Add(30 * time.Minute), GracePeriodMinutes: 15}
	if got := r.NoShowDeadline(); !got.Equal(r.EndTime) {
		t.Fatalf("expected end time deadline, got %s", got)
	}
	r.GracePeriodMinutes = 45
	if got := r.NoShowDeadline(); !got.Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("expected grace deadline, got %s", got)
	}
}

func TestStationOpenDuring(t *testing.T) {
	st := Station{
		Timezone: "UTC",
		OperatingHours: []OperatingHours{
			{Weekday: time.Monday, Open: "08:00", Close: "20:00"},
			{Weekday: time.Sunday, Closed: true},
		},
	}
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	open := TimeWindow{Start: monday.Add(9 * time.Hour), End: monday.Add(10 * time.Hour)}
	if !st.OpenDuring(open) {
		t.Fatalf("expected station open 09:00-10:00 on monday")
	}
	late := TimeWindow{Start: monday.Add(19 * time.Hour), End: monday.Add(21 * time.Hour)}
	if st.OpenDuring(late) {
		t.Fatalf("window past closing must be rejected")
	}
	sunday := TimeWindow{Start: monday.Add(-12 * time.Hour), End: monday.Add(-11 * time.Hour)}
	if st.OpenDuring(sunday) {
		t.Fatalf("closed day must be rejected")
	}
	tuesday := open.Shift(24 * time.Hour)
	if st.OpenDuring(tuesday) {
		t.Fatalf("days without hours are closed when a table is present")
	}
	if !(Station{}).OpenDuring(late) {
		t.Fatalf("stations without hours are always open")
	}
}

func TestConnectorHasType(t *testing.T) {
	c := Connector{Types: []string{"CCS2", "Type2"}}
	if !c.HasType(nil) || !c.HasType([]string{"ccs2"}) {
		t.Fatalf("expected type match")
	}
	if c.HasType([]string{"CHAdeMO"}) {
		t.Fatalf("unexpected type match")
	}
}
