package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServerSubscribeAndReceiveUpdates(t *testing.T) {
	hub, _ := newTestHub()
	server := NewServer(hub, time.Second, time.Second, 16, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSubscribeStation, StationID: "S1"}))

	snapshot := readMessage(t, conn)
	assert.Equal(t, TypeStationStatus, snapshot.Type)
	ack := readMessage(t, conn)
	assert.Equal(t, TypeSubscribed, ack.Type)
	assert.Equal(t, "station:S1", ack.Subscription)

	hub.Publish(context.Background(), statusEvent("S1", models.ConnectorOccupied))
	update := readMessage(t, conn)
	assert.Equal(t, TypeConnectorUpdate, update.Type)
	assert.Equal(t, models.ConnectorOccupied, update.Status)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypePing}))
	assert.Equal(t, TypePong, readMessage(t, conn).Type)
}

func TestServerRejectsBadMessages(t *testing.T) {
	hub, _ := newTestHub()
	server := NewServer(hub, time.Second, time.Second, 16, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, TypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	assert.Equal(t, "unknown message type", readMessage(t, conn).Message)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSubscribeLocation}))
	assert.Equal(t, "lat and lon are required", readMessage(t, conn).Message)

	lat, lon := 52.52, 13.40
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSubscribeLocation, Latitude: &lat, Longitude: &lon, RadiusKM: 500}))
	assert.Equal(t, "invalid location subscription", readMessage(t, conn).Message)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSubscribeStation, StationID: "S9"}))
	notFound := readMessage(t, conn)
	assert.Equal(t, TypeError, notFound.Type)
	assert.Equal(t, "S9", notFound.StationID)
}

func TestServerUnregistersOnDisconnect(t *testing.T) {
	hub, _ := newTestHub()
	server := NewServer(hub, time.Second, time.Second, 16, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
