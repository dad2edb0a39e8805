package signaling

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// Server exposes the relay hub over a websocket endpoint. One goroutine
// pair (read/write pump) per connection; all shared state lives in the Hub.
type Server struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	messagesIn  atomic.Int64
	messagesOut atomic.Int64
	connections atomic.Int64
}

// NewServer creates a signaling server around the given hub.
func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Phones and laptops connect from LAN addresses the server
			// cannot predict, so origin checking is disabled.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Hub returns the relay hub behind this server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleWS upgrades an HTTP request to a websocket connection and attaches
// it to the hub until either side goes away.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	outbound := s.hub.Connect(id)
	s.connections.Add(1)

	go s.writePump(conn, id, outbound)
	s.readPump(conn, id)
}

// readPump reads envelopes off the socket and dispatches them into the hub.
// It owns the connection teardown: when the read side fails the connection
// is deregistered, which also closes the outbound channel and stops the
// write pump.
func (s *Server) readPump(conn *websocket.Conn, id string) {
	defer func() {
		s.hub.Disconnect(id)
		s.connections.Add(-1)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "id", id, "error", err)
			}
			return
		}
		s.messagesIn.Add(1)
		s.hub.Dispatch(id, env)
	}
}

// writePump drains the hub's outbound channel onto the socket and keeps the
// connection alive with periodic pings.
func (s *Server) writePump(conn *websocket.Conn, id string, outbound <-chan Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env, ok := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				s.logger.Debug("websocket write error", "id", id, "error", err)
				return
			}
			s.messagesOut.Add(1)

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// MessagesIn returns the total number of envelopes received from clients.
func (s *Server) MessagesIn() int64 { return s.messagesIn.Load() }

// MessagesOut returns the total number of envelopes delivered to clients.
func (s *Server) MessagesOut() int64 { return s.messagesOut.Load() }

// ActiveConnections returns the current number of websocket connections.
func (s *Server) ActiveConnections() int64 { return s.connections.Load() }
