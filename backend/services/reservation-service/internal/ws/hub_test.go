package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/service"
)

type fakeStations struct {
	locations map[string]service.GeoPoint
	statuses  map[string]models.ConnectorStatus
}

func newFakeStations() *fakeStations {
	return &fakeStations{
		locations: map[string]service.GeoPoint{
			"S1": {Latitude: 52.52, Longitude: 13.40},
			"S2": {Latitude: 52.53, Longitude: 13.41},
			"S3": {Latitude: 48.13, Longitude: 11.57},
		},
		statuses: map[string]models.ConnectorStatus{
			"S1": models.ConnectorAvailable,
			"S2": models.ConnectorOccupied,
			"S3": models.ConnectorAvailable,
		},
	}
}

func (f *fakeStations) Snapshot(stationID string) (models.StationStatus, bool) {
	status, ok := f.statuses[stationID]
	if !ok {
		return models.StationStatus{}, false
	}
	return models.StationStatus{
		StationID:  stationID,
		Connectors: []models.ConnectorState{{ConnectorID: stationID + "-C1", Status: status}},
	}, true
}

func (f *fakeStations) Locate(stationID string) (service.GeoPoint, bool) {
	p, ok := f.locations[stationID]
	return p, ok
}

func (f *fakeStations) Find(filter service.StationFilter) []service.StationMatch {
	var out []service.StationMatch
	for _, id := range []string{"S1", "S2", "S3"} {
		d := service.DistanceKM(*filter.Center, f.locations[id])
		if d <= filter.RadiusKM {
			out = append(out, service.StationMatch{Station: models.Station{ID: id}, DistanceKM: d})
		}
	}
	return out
}

type countingMetrics struct {
	mu          sync.Mutex
	subscribers int
	dropped     int
}

func (m *countingMetrics) SubscriberConnected(delta int) {
	m.mu.Lock()
	m.subscribers += delta
	m.mu.Unlock()
}

func (m *countingMetrics) MessageDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func newTestHub() (*Hub, *countingMetrics) {
	stations := newFakeStations()
	metrics := &countingMetrics{}
	return NewHub(stations, stations, metrics, zap.NewNop()), metrics
}

func receive(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case raw, ok := <-c.Messages():
		require.True(t, ok, "queue closed")
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return ServerMessage{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Messages():
		t.Fatalf("unexpected message %s", raw)
	default:
	}
}

func statusEvent(stationID string, status models.ConnectorStatus) events.Event {
	return events.Event{
		Kind:        events.ConnectorStatusChanged,
		StationID:   stationID,
		ConnectorID: stationID + "-C1",
		Status:      status,
		OccurredAt:  time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestSubscribeQueuesSnapshotBeforeDeltas(t *testing.T) {
	hub, metrics := newTestHub()
	c := NewClient("c1", 8)
	hub.Register(c)
	assert.Equal(t, 1, metrics.subscribers)

	subscribed, unknown, dropped := hub.SubscribeStations(c, []string{"S1", "S9"})
	assert.Equal(t, []string{"S1"}, subscribed)
	assert.Equal(t, []string{"S9"}, unknown)
	assert.Empty(t, dropped)

	hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
	hub.Publish(context.Background(), statusEvent("S2", models.ConnectorAvailable))

	first := receive(t, c)
	assert.Equal(t, TypeStationStatus, first.Type)
	assert.Equal(t, "S1", first.StationID)
	require.Len(t, first.Connectors, 1)

	second := receive(t, c)
	assert.Equal(t, TypeConnectorUpdate, second.Type)
	assert.Equal(t, models.ConnectorOccupied, second.Status)
	assert.Equal(t, events.ConnectorStatusChanged, second.Event)
	assertEmpty(t, c)
}

func TestConcurrentPublishNeverPrecedesSnapshot(t *testing.T) {
	hub, _ := newTestHub()

	for i := 0; i < 50; i++ {
		c := NewClient("c", 64)
		hub.Register(c)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
				}
			}
		}()
		hub.SubscribeStations(c, []string{"S1"})
		close(stop)
		wg.Wait()

		assert.Equal(t, TypeStationStatus, receive(t, c).Type)
		hub.Unregister(c)
	}
}

func TestAreaSubscription(t *testing.T) {
	hub, _ := newTestHub()
	c := NewClient("c1", 8)
	hub.Register(c)

	token, dropped := hub.SubscribeArea(c, Area{Center: service.GeoPoint{Latitude: 52.52, Longitude: 13.40}, RadiusKM: 5})
	assert.NotEmpty(t, token)
	assert.Empty(t, dropped)

	snapshots := map[string]bool{}
	snapshots[receive(t, c).StationID] = true
	snapshots[receive(t, c).StationID] = true
	assert.Equal(t, map[string]bool{"S1": true, "S2": true}, snapshots)

	hub.Publish(context.Background(), statusEvent("S3", models.ConnectorOccupied))
	assertEmpty(t, c)

	hub.Publish(context.Background(), statusEvent("S2", models.ConnectorAvailable))
	assert.Equal(t, "S2", receive(t, c).StationID)

	// a station subscription inside the area delivers once
	hub.SubscribeStations(c, []string{"S1"})
	receive(t, c)
	hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
	receive(t, c)
	assertEmpty(t, c)

	hub.Unsubscribe(c, nil)
	hub.Publish(context.Background(), statusEvent("S1", models.ConnectorAvailable))
	assertEmpty(t, c)
}

func TestSnapshotThatDoesNotFitLeavesStationUnsubscribed(t *testing.T) {
	hub, _ := newTestHub()
	c := NewClient("c1", 2)
	hub.Register(c)

	subscribed, _, dropped := hub.SubscribeStations(c, []string{"S1", "S2", "S3"})
	assert.Equal(t, []string{"S1", "S2"}, subscribed)
	assert.Equal(t, []string{"S3"}, dropped)

	assert.Equal(t, "S1", receive(t, c).StationID)
	assert.Equal(t, "S2", receive(t, c).StationID)
	hub.Publish(context.Background(), statusEvent("S3", models.ConnectorOccupied))
	assertEmpty(t, c)

	subscribed, _, dropped = hub.SubscribeStations(c, []string{"S3"})
	assert.Equal(t, []string{"S3"}, subscribed)
	assert.Empty(t, dropped)
	hub.Publish(context.Background(), statusEvent("S3", models.ConnectorOccupied))

	first := receive(t, c)
	assert.Equal(t, TypeStationStatus, first.Type)
	assert.Equal(t, "S3", first.StationID)
	assert.Equal(t, TypeConnectorUpdate, receive(t, c).Type)
}

func TestAreaDeltasNeedAQueuedSnapshot(t *testing.T) {
	hub, _ := newTestHub()
	c := NewClient("c1", 1)
	hub.Register(c)

	_, dropped := hub.SubscribeArea(c, Area{Center: service.GeoPoint{Latitude: 52.52, Longitude: 13.40}, RadiusKM: 5})
	require.Len(t, dropped, 1)
	queued := receive(t, c).StationID
	assert.NotEqual(t, dropped[0], queued)

	hub.Publish(context.Background(), statusEvent(dropped[0], models.ConnectorOccupied))
	assertEmpty(t, c)

	hub.Publish(context.Background(), statusEvent(queued, models.ConnectorOccupied))
	msg := receive(t, c)
	assert.Equal(t, TypeConnectorUpdate, msg.Type)
	assert.Equal(t, queued, msg.StationID)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub, metrics := newTestHub()
	slow := NewClient("slow", 1)
	fast := NewClient("fast", 16)
	hub.Register(slow)
	hub.Register(fast)
	hub.SubscribeStations(slow, []string{"S1"})
	hub.SubscribeStations(fast, []string{"S1"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, 5, metrics.dropped)
	assert.Equal(t, TypeStationStatus, receive(t, fast).Type)
	for i := 0; i < 5; i++ {
		assert.Equal(t, TypeConnectorUpdate, receive(t, fast).Type)
	}
}

func TestUnregisterClosesQueue(t *testing.T) {
	hub, metrics := newTestHub()
	c := NewClient("c1", 4)
	hub.Register(c)
	hub.SubscribeStations(c, []string{"S1"})
	receive(t, c)

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Zero(t, metrics.subscribers)
	assert.Zero(t, hub.Subscribers())

	_, ok := <-c.Messages()
	assert.False(t, ok)

	subscribed, _, _ := hub.SubscribeStations(c, []string{"S1"})
	assert.Empty(t, subscribed)
	hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
}

func TestMessageForEventKinds(t *testing.T) {
	enabled := true
	msg := messageFor(events.Event{
		Kind:        events.StationMaintenanceToggled,
		StationID:   "S1",
		Maintenance: &enabled,
		Station:     &models.StationStatus{Connectors: []models.ConnectorState{{ConnectorID: "C1", Status: models.ConnectorMaintenance}}},
	})
	assert.Equal(t, TypeStationMaintenance, msg.Type)
	assert.Len(t, msg.Connectors, 1)

	msg = messageFor(events.Event{Kind: events.PricingChanged, StationID: "S1", Pricing: &events.ConnectorPricing{PricePerKWh: 0.4}})
	assert.Equal(t, TypePricingUpdate, msg.Type)
	assert.Equal(t, 0.4, msg.Pricing.PricePerKWh)

	msg = messageFor(events.Event{Kind: events.ReservationCheckedIn, StationID: "S1", Reservation: &events.ReservationRef{ID: "r1"}})
	assert.Equal(t, TypeConnectorUpdate, msg.Type)
	assert.Equal(t, "r1", msg.Reservation.ID)
}
