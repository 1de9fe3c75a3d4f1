package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/policy"
	"chargeslot/backend/services/reservation-service/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// memoryStore keeps stations and reservations in maps and rejects overlapping
// blocking reservations the way the database exclusion constraint does.
type memoryStore struct {
	mu           sync.Mutex
	stations     map[string]models.Station
	reservations map[string]models.Reservation
	statusAt     map[string]time.Time
	createErr    error
}

func newMemoryStore(stations ...models.Station) *memoryStore {
	s := &memoryStore{
		stations:     make(map[string]models.Station),
		reservations: make(map[string]models.Reservation),
		statusAt:     make(map[string]time.Time),
	}
	for _, st := range stations {
		s.stations[st.ID] = st
	}
	return s
}

func (s *memoryStore) ListStations(context.Context) ([]models.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, cloneStation(st))
	}
	return out, nil
}

func (s *memoryStore) UpsertStation(_ context.Context, st models.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.ID] = cloneStation(st)
	return nil
}

func (s *memoryStore) UpdateConnectorPricing(_ context.Context, connectorID string, perKWh, perMinute float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.stations {
		for i := range st.Connectors {
			if st.Connectors[i].ID == connectorID {
				st.Connectors[i].PricePerKWh = perKWh
				st.Connectors[i].PricePerMinute = perMinute
				s.stations[id] = st
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (s *memoryStore) UpdateConnectorStatus(_ context.Context, connectorID string, status models.ConnectorStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.statusAt[connectorID]; ok && at.Before(prev) {
		return repository.ErrStaleWrite
	}
	for id, st := range s.stations {
		for i := range st.Connectors {
			if st.Connectors[i].ID == connectorID {
				st.Connectors[i].Status = status
				st.Connectors[i].StatusUpdatedAt = at
				s.stations[id] = st
				s.statusAt[connectorID] = at
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (s *memoryStore) overlapsLocked(res models.Reservation) bool {
	if !res.Status.Blocking() {
		return false
	}
	for _, other := range s.reservations {
		if other.ID == res.ID || other.ConnectorID != res.ConnectorID || !other.Status.Blocking() {
			continue
		}
		if other.Window().Overlaps(res.Window()) {
			return true
		}
	}
	return false
}

func (s *memoryStore) Create(_ context.Context, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if s.overlapsLocked(*res) {
		return repository.ErrOverlap
	}
	res.CreatedAt = time.Now().UTC()
	res.UpdatedAt = res.CreatedAt
	s.reservations[res.ID] = *res
	return nil
}

// forceInsert stores a reservation without the overlap check, for seeding races.
func (s *memoryStore) forceInsert(res models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[res.ID] = res
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &res, nil
}

func (s *memoryStore) ListBlocking(_ context.Context, connectorID string, window models.TimeWindow) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.ConnectorID == connectorID && r.Status.Blocking() && r.Window().Overlaps(window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memoryStore) ListByPattern(_ context.Context, patternID string) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.PatternID == patternID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memoryStore) ListByUser(_ context.Context, userID string, statuses []models.ReservationStatus, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.UserID != userID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListDueNoShows(_ context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.ReservationConfirmed && !now.Before(r.NoShowDeadline()) {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, res *models.Reservation, expected models.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reservations[res.ID]
	if !ok || current.Status != expected {
		return repository.ErrStaleWrite
	}
	if s.overlapsLocked(*res) {
		return repository.ErrOverlap
	}
	res.UpdatedAt = time.Now().UTC()
	s.reservations[res.ID] = *res
	return nil
}

func (s *memoryStore) reservation(id string) models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[id]
}

func containsStatus(list []models.ReservationStatus, s models.ReservationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type directTx struct{}

func (directTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixedPricer struct {
	mu     sync.Mutex
	amount float64
	err    error
	delay  time.Duration
	calls  int
}

func (p *fixedPricer) CalculatePrice(ctx context.Context, _ models.Station, _ models.Connector, w models.TimeWindow) (models.Price, error) {
	p.mu.Lock()
	p.calls++
	amount, err, delay := p.amount, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.Price{}, ctx.Err()
		}
	}
	if err != nil {
		return models.Price{}, err
	}
	return models.Price{Amount: amount * w.Duration().Hours(), Currency: "USD"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (p *recordingPublisher) last() (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}, false
	}
	return p.events[len(p.events)-1], true
}

type recordingRefunder struct {
	mu      sync.Mutex
	amounts map[string]float64
	err     error
}

func (r *recordingRefunder) Refund(_ context.Context, reservationID string, amount float64, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.amounts == nil {
		r.amounts = make(map[string]float64)
	}
	r.amounts[reservationID] += amount
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (n *recordingNotifier) ScheduleReminders(_ context.Context, res models.Reservation) error {
	n.mu.Lock()
	n.scheduled = append(n.scheduled, res.ID)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) CancelReminders(_ context.Context, id string) error {
	n.mu.Lock()
	n.cancelled = append(n.cancelled, id)
	n.mu.Unlock()
	return nil
}

type stubSessions struct {
	id  string
	err error
}

func (s stubSessions) StartSession(context.Context, models.Reservation) (string, error) {
	return s.id, s.err
}

var errPricingDown = errors.New("pricing unavailable")

// fixture is a wired lifecycle over in-memory fakes.
type fixture struct {
	store     *memoryStore
	clock     *fakeClock
	pricer    *fixedPricer
	publisher *recordingPublisher
	refunds   *recordingRefunder
	notifier  *recordingNotifier
	directory *StationDirectory
	states    *ConnectorStateStore
	resolver  *ConflictResolver
	manager   *ReservationManager
	search    *SlotSearchEngine
}

func day(hour, minute int) time.Time {
	return time.Date(2030, time.March, 4, hour, minute, 0, 0, time.UTC)
}

func testStation(id string, lat, lon, rating float64, connectors ...string) models.Station {
	st := models.Station{
		ID:        id,
		Name:      "Station " + id,
		Latitude:  lat,
		Longitude: lon,
		Rating:    rating,
		Amenities: []string{"wifi"},
	}
	for _, c := range connectors {
		st.Connectors = append(st.Connectors, models.Connector{
			ID:          c,
			StationID:   id,
			Types:       []string{"CCS"},
			PowerKW:     50,
			PricePerKWh: 0.3,
			Status:      models.ConnectorAvailable,
		})
	}
	return st
}

func newFixture(t *testing.T, now time.Time, stations ...models.Station) *fixture {
	t.Helper()
	if len(stations) == 0 {
		stations = []models.Station{testStation("S1", 52.52, 13.40, 4.5, "C1", "C2")}
	}

	f := &fixture{
		store:     newMemoryStore(stations...),
		clock:     newFakeClock(now),
		pricer:    &fixedPricer{amount: 10},
		publisher: &recordingPublisher{},
		refunds:   &recordingRefunder{},
		notifier:  &recordingNotifier{},
	}
	logger := zap.NewNop()

	f.directory = NewStationDirectory(f.store, directTx{}, f.publisher, f.clock, logger)
	if err := f.directory.Load(context.Background()); err != nil {
		t.Fatalf("load directory: %v", err)
	}
	f.states = NewConnectorStateStore(f.directory, f.store, directTx{}, f.publisher, f.clock, logger)
	f.resolver = NewConflictResolver(f.store, f.states)

	engine, err := policy.NewEngine("standard", 80)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	f.manager = NewReservationManager(LifecycleDeps{
		Store:     f.store,
		Tx:        directTx{},
		Directory: f.directory,
		States:    f.states,
		Resolver:  f.resolver,
		Policies:  engine,
		Penalty:   policy.LatePenalty{PerMinute: 1},
		Pricer:    f.pricer,
		Payments:  f.refunds,
		Notifier:  f.notifier,
		Sessions:  stubSessions{id: "session-1"},
		Publisher: f.publisher,
		Clock:     f.clock,
		Logger:    logger,
	}, LifecycleSettings{})
	f.search = NewSlotSearchEngine(f.directory, f.resolver, f.pricer, f.clock, SearchSettings{}, logger)
	return f
}

func (f *fixture) book(t *testing.T, user, station, connector string, start, end time.Time) *models.Reservation {
	t.Helper()
	res, err := f.manager.Create(context.Background(), CreateInput{
		UserID:      user,
		StationID:   station,
		ConnectorID: connector,
		Window:      models.TimeWindow{Start: start, End: end},
	})
	if err != nil {
		t.Fatalf("book %s %s-%s: %v", connector, start.Format(time.Kitchen), end.Format(time.Kitchen), err)
	}
	return res.Reservation
}
