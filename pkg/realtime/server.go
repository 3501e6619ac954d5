package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/driftsync/driftsync/internal/api/middleware"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/bus"
	"github.com/driftsync/driftsync/pkg/models"
)

// Server upgrades authenticated HTTP requests to websocket connections and
// bridges the frame protocol to the event bus. One bus subscription backs
// both per-user queues; SUBSCRIBE frames bind destination names to the
// subscription ids the client chose.
type Server struct {
	bus *bus.Bus
}

// NewServer creates a realtime server on top of the given bus.
func NewServer(b *bus.Bus) *Server {
	return &Server{bus: b}
}

// conn is the per-connection state.
type conn struct {
	ws  *websocket.Conn
	sub *bus.Subscription

	mu      sync.Mutex // serializes writes
	destIDs map[string]string
}

// ServeHTTP handles GET /api/ws. The caller must be authenticated; the
// client identifies its device with the client_id query parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id query parameter required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("websocket accept failed", "user", claims.Username, "error", err)
		return
	}

	sub := s.bus.Subscribe(claims.Username, clientID)
	c := &conn{
		ws:      ws,
		sub:     sub,
		destIDs: make(map[string]string),
	}
	defer s.bus.Unsubscribe(sub)

	logger.Info("realtime client connected", "user", claims.Username, "client", clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.deliver(ctx, c)
	s.readLoop(ctx, c)

	ws.Close(websocket.StatusNormalClosure, "")
	logger.Info("realtime client disconnected", "user", claims.Username, "client", clientID)
}

// readLoop consumes frames from the client until the connection drops.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		frame, err := ParseFrame(data)
		if err != nil {
			logger.Warn("malformed frame", "user", c.sub.Username, "error", err)
			continue
		}

		switch frame.Command {
		case CommandSubscribe:
			dest := frame.Header(HeaderDestination)
			c.mu.Lock()
			c.destIDs[dest] = frame.Header(HeaderID)
			c.mu.Unlock()

		case CommandSend:
			if frame.Header(HeaderDestination) == DestHeartbeat {
				s.handleHeartbeat(ctx, c)
			}

		default:
			logger.Warn("unexpected frame", "user", c.sub.Username, "command", frame.Command)
		}
	}
}

// handleHeartbeat records liveness on the bus and echoes the ack.
func (s *Server) handleHeartbeat(ctx context.Context, c *conn) {
	ack := s.bus.Heartbeat(c.sub.ID)
	if ack == nil {
		return
	}
	if err := c.writeEvent(ctx, ack, DestHeartbeat); err != nil {
		logger.Debug("heartbeat ack write failed", "user", c.sub.Username, "error", err)
	}
}

// deliver pumps bus events to the client as MESSAGE frames.
func (s *Server) deliver(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.sub.C:
			if !ok {
				// Swept as stale.
				c.ws.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			dest := DestFileChanges
			if event.EventType == string(models.EventConflict) {
				dest = DestConflicts
			}
			if err := c.writeEvent(ctx, event, dest); err != nil {
				return
			}
		}
	}
}

// writeEvent frames an event as MESSAGE and writes it to the socket.
func (c *conn) writeEvent(ctx context.Context, event *models.SyncEvent, dest string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	headers := map[string]string{
		HeaderDestination: dest,
		HeaderContentType: "application/json",
	}
	if id, ok := c.destIDs[dest]; ok {
		headers[HeaderSubscription] = id
	}
	frame := NewFrame(CommandMessage, headers, body)
	return c.ws.Write(ctx, websocket.MessageText, frame.Marshal())
}
