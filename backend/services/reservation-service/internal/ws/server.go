package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP requests to realtime subscriber connections.
type Server struct {
	hub          *Hub
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(hub *Hub, pingInterval, writeTimeout time.Duration, sendBuffer int, logger *zap.Logger) *Server {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		hub:          hub,
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		sendBuffer:   sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for /ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.sendBuffer)
	s.hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(client, s.hub, conn, s.pingInterval, s.writeTimeout, s.logger)
	go func() {
		defer cancel()
		connection.Start(ctx)
	}()
	s.logger.Info("subscriber connected", zap.String("client_id", client.ID()))
}
