package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/service"
)

const (
	readLimit   = 64 * 1024
	maxRadiusKM = 200.0
)

// Connection pumps one websocket between the peer and its hub client.
type Connection struct {
	client       *Client
	hub          *Hub
	ws           *websocket.Conn
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewConnection wraps an upgraded websocket.
func NewConnection(client *Client, hub *Hub, conn *websocket.Conn, pingInterval, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		client:       client,
		hub:          hub,
		ws:           conn,
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// Start launches the pumps and blocks until the peer goes away.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()

	pongWait := 2 * c.pingInterval
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("subscriber disconnected", zap.String("client_id", c.client.ID()), zap.Error(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(raw)
	}
}

func (c *Connection) handle(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.hub.Reply(c.client, ServerMessage{Type: TypeError, Message: "malformed message"})
		return
	}

	switch msg.Type {
	case TypeSubscribeStation:
		c.subscribeStations([]string{msg.StationID})
	case TypeSubscribeStations:
		c.subscribeStations(msg.StationIDs)
	case TypeSubscribeLocation:
		if msg.Latitude == nil || msg.Longitude == nil {
			c.hub.Reply(c.client, ServerMessage{Type: TypeError, Message: "lat and lon are required"})
			return
		}
		center := service.GeoPoint{Latitude: *msg.Latitude, Longitude: *msg.Longitude}
		if !center.Valid() || msg.RadiusKM <= 0 || msg.RadiusKM > maxRadiusKM {
			c.hub.Reply(c.client, ServerMessage{Type: TypeError, Message: "invalid location subscription"})
			return
		}
		token, dropped := c.hub.SubscribeArea(c.client, Area{Center: center, RadiusKM: msg.RadiusKM})
		c.hub.Reply(c.client, ServerMessage{Type: TypeSubscribed, Subscription: token})
		c.reportDropped(dropped)
	case TypeUnsubscribe:
		ids := msg.StationIDs
		if msg.StationID != "" {
			ids = append(ids, msg.StationID)
		}
		c.hub.Unsubscribe(c.client, ids)
	case TypePing:
		c.hub.Reply(c.client, ServerMessage{Type: TypePong})
	default:
		c.hub.Reply(c.client, ServerMessage{Type: TypeError, Message: "unknown message type"})
	}
}

func (c *Connection) subscribeStations(ids []string) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		c.hub.Reply(c.client, ServerMessage{Type: TypeError, Message: "station id is required"})
		return
	}

	subscribed, unknown, dropped := c.hub.SubscribeStations(c.client, cleaned)
	for _, id := range subscribed {
		c.hub.Reply(c.client, ServerMessage{Type: TypeSubscribed, StationID: id, Subscription: "station:" + id})
	}
	for _, id := range unknown {
		c.hub.Reply(c.client, ServerMessage{Type: TypeError, StationID: id, Message: "station not found"})
	}
	c.reportDropped(dropped)
}

// reportDropped tells the client which stations to subscribe again once it has
// drained its queue. The reply itself may be dropped too; the station stays
// silent either way.
func (c *Connection) reportDropped(ids []string) {
	for _, id := range ids {
		c.hub.Reply(c.client, ServerMessage{Type: TypeError, StationID: id, Message: "snapshot dropped, subscribe again"})
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.client.Messages():
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.hub.Unregister(c.client)
	_ = c.ws.Close()
}
