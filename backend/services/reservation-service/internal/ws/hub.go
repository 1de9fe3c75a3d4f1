package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/service"
)

// SnapshotProvider returns the current connector states of a station.
type SnapshotProvider interface {
	Snapshot(stationID string) (models.StationStatus, bool)
}

// StationIndex resolves station locations for area subscriptions.
type StationIndex interface {
	Locate(stationID string) (service.GeoPoint, bool)
	Find(filter service.StationFilter) []service.StationMatch
}

// Metrics observes the hub.
type Metrics interface {
	SubscriberConnected(delta int)
	MessageDropped()
}

// Area is a geographic subscription.
type Area struct {
	Center   service.GeoPoint
	RadiusKM float64
}

func (a Area) contains(p service.GeoPoint) bool {
	return service.DistanceKM(a.Center, p) <= a.RadiusKM
}

func (a Area) token() string {
	return fmt.Sprintf("area:%.5f,%.5f,%.3f", a.Center.Latitude, a.Center.Longitude, a.RadiusKM)
}

// Client is one subscriber. Its subscription fields are guarded by the hub lock.
// primed holds the stations whose snapshot made it into the queue; deltas for
// any other station are never sent to the client.
type Client struct {
	id       string
	send     chan []byte
	stations map[string]struct{}
	areas    map[string]Area
	primed   map[string]struct{}
	closed   bool
}

// NewClient builds a subscriber with a bounded outgoing queue.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		id:       id,
		send:     make(chan []byte, buffer),
		stations: make(map[string]struct{}),
		areas:    make(map[string]Area),
		primed:   make(map[string]struct{}),
	}
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Messages is the outgoing queue, closed on unregister.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Hub fans committed events out to interested subscribers. A subscribe pushes the
// station snapshot while holding the write lock, so no delta can be queued ahead of it.
type Hub struct {
	snapshots SnapshotProvider
	index     StationIndex
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	byStation map[string]map[*Client]struct{}
	areaSubs  map[*Client]struct{}
}

// NewHub builds an empty hub.
func NewHub(snapshots SnapshotProvider, index StationIndex, metrics Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		snapshots: snapshots,
		index:     index,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		clients:   make(map[*Client]struct{}),
		byStation: make(map[string]map[*Client]struct{}),
		areaSubs:  make(map[*Client]struct{}),
	}
}

// Register adds a client with no subscriptions.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SubscriberConnected(1)
	}
}

// Unregister drops every subscription of c and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	delete(h.areaSubs, c)
	for stationID := range c.stations {
		h.removeStation(c, stationID)
	}
	c.closed = true
	close(c.send)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SubscriberConnected(-1)
	}
}

// SubscribeStations subscribes c to stations and queues their snapshots.
// Unknown stations are reported and skipped. A station whose snapshot does not
// fit into the queue is reported in dropped and left unsubscribed.
func (h *Hub) SubscribeStations(c *Client, stationIDs []string) (subscribed, unknown, dropped []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, nil, nil
	}

	for _, id := range stationIDs {
		snapshot, ok := h.snapshots.Snapshot(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if !h.enqueue(c, snapshotMessage(snapshot, h.now())) {
			h.removeStation(c, id)
			delete(c.primed, id)
			dropped = append(dropped, id)
			continue
		}
		c.primed[id] = struct{}{}
		if _, already := c.stations[id]; !already {
			c.stations[id] = struct{}{}
			set := h.byStation[id]
			if set == nil {
				set = make(map[*Client]struct{})
				h.byStation[id] = set
			}
			set[c] = struct{}{}
		}
		subscribed = append(subscribed, id)
	}
	return subscribed, unknown, dropped
}

// SubscribeArea subscribes c to the stations inside the area and queues their
// snapshots. Area deltas only reach stations whose snapshot was queued; the
// others are returned in dropped.
func (h *Hub) SubscribeArea(c *Client, area Area) (token string, dropped []string) {
	center := area.Center
	matches := h.index.Find(service.StationFilter{Center: &center, RadiusKM: area.RadiusKM})

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return "", nil
	}

	token = area.token()
	c.areas[token] = area
	h.areaSubs[c] = struct{}{}
	for _, m := range matches {
		id := m.Station.ID
		if _, ok := c.primed[id]; ok {
			continue
		}
		snapshot, ok := h.snapshots.Snapshot(id)
		if !ok {
			continue
		}
		if !h.enqueue(c, snapshotMessage(snapshot, h.now())) {
			dropped = append(dropped, id)
			continue
		}
		c.primed[id] = struct{}{}
	}
	return token, dropped
}

// Unsubscribe removes station subscriptions, or everything when stationIDs is empty.
func (h *Hub) Unsubscribe(c *Client, stationIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(stationIDs) == 0 {
		for id := range c.stations {
			h.removeStation(c, id)
		}
		c.areas = make(map[string]Area)
		c.primed = make(map[string]struct{})
		delete(h.areaSubs, c)
		return
	}
	for _, id := range stationIDs {
		h.removeStation(c, id)
	}
}

// Reply queues a direct message to c.
func (h *Hub) Reply(c *Client, msg ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !c.closed {
		h.enqueue(c, msg)
	}
}

// Publish implements events.Publisher. It never blocks on a slow subscriber.
func (h *Hub) Publish(_ context.Context, ev events.Event) {
	msg := messageFor(ev)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}

	var location service.GeoPoint
	located := false
	if h.index != nil {
		location, located = h.index.Locate(ev.StationID)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Client]struct{})
	for c := range h.byStation[ev.StationID] {
		delivered[c] = struct{}{}
		h.enqueue(c, msg)
	}
	if !located {
		return
	}
	for c := range h.areaSubs {
		if _, done := delivered[c]; done {
			continue
		}
		if _, ok := c.primed[ev.StationID]; !ok {
			continue
		}
		for _, area := range c.areas {
			if area.contains(location) {
				h.enqueue(c, msg)
				break
			}
		}
	}
}

// Subscribers returns the number of registered clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeStation(c *Client, stationID string) {
	delete(c.stations, stationID)
	if len(c.areas) == 0 {
		delete(c.primed, stationID)
	}
	if set, ok := h.byStation[stationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byStation, stationID)
		}
	}
}

// enqueue must be called with h.mu held. It reports whether msg was queued.
func (h *Hub) enqueue(c *Client, msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode realtime message", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		if h.metrics != nil {
			h.metrics.MessageDropped()
		}
		h.logger.Warn("dropping realtime message, buffer full",
			zap.String("client_id", c.id),
			zap.String("type", msg.Type),
			zap.String("station_id", msg.StationID),
		)
		return false
	}
}
