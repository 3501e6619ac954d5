package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/realtime"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 10 * time.Second
)

// EventHandler receives server-pushed sync events.
type EventHandler func(event *models.SyncEvent)

// Transport maintains the persistent websocket session: it subscribes to
// the per-user queues, sends heartbeats, and reconnects after drops with a
// fresh access token.
type Transport struct {
	serverURL string
	clientID  string
	tokenFn   func() string
	handler   EventHandler

	connected atomic.Bool
}

// NewTransport creates a transport. tokenFn must return the current access
// token so reconnects pick up rotated credentials.
func NewTransport(serverURL, clientID string, tokenFn func() string, handler EventHandler) *Transport {
	return &Transport{
		serverURL: serverURL,
		clientID:  clientID,
		tokenFn:   tokenFn,
		handler:   handler,
	}
}

// Connected reports whether the session is currently up.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// wsURL rewrites the API base URL to the websocket endpoint.
func (t *Transport) wsURL() string {
	u := t.serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?client_id=" + t.clientID
}

// Run keeps a session alive until the context is cancelled, reconnecting
// after every drop.
func (t *Transport) Run(ctx context.Context) error {
	for {
		if err := t.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("realtime session ended", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// session dials, subscribes, and pumps frames until the connection drops.
func (t *Transport) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ws, _, err := websocket.Dial(dialCtx, t.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + t.tokenFn()}},
	})
	cancel()
	if err != nil {
		return err
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	// Large change bursts can outrun the default read limit.
	ws.SetReadLimit(1 << 20)

	if err := t.subscribe(ctx, ws); err != nil {
		return err
	}

	t.connected.Store(true)
	defer t.connected.Store(false)
	logger.Info("realtime session established", "client", t.clientID)

	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()

	heartbeatErr := make(chan error, 1)
	go func() { heartbeatErr <- t.heartbeatLoop(sessionCtx, ws) }()

	readErr := make(chan error, 1)
	go func() { readErr <- t.readLoop(sessionCtx, ws) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-heartbeatErr:
		return err
	case err := <-readErr:
		return err
	}
}

// subscribe registers both per-user queues.
func (t *Transport) subscribe(ctx context.Context, ws *websocket.Conn) error {
	for i, dest := range []string{realtime.DestFileChanges, realtime.DestConflicts} {
		frame := realtime.NewFrame(realtime.CommandSubscribe, map[string]string{
			realtime.HeaderID:          "sub-" + string(rune('0'+i)),
			realtime.HeaderDestination: dest,
		}, nil)
		if err := ws.Write(ctx, websocket.MessageText, frame.Marshal()); err != nil {
			return err
		}
	}
	return nil
}

// heartbeatLoop sends a liveness probe every heartbeatInterval so the
// server's stale-subscriber sweep keeps the session.
func (t *Transport) heartbeatLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame := realtime.NewFrame(realtime.CommandSend, map[string]string{
				realtime.HeaderDestination: realtime.DestHeartbeat,
			}, nil)
			if err := ws.Write(ctx, websocket.MessageText, frame.Marshal()); err != nil {
				return err
			}
		}
	}
}

// readLoop parses MESSAGE frames and dispatches file-change events.
func (t *Transport) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := realtime.ParseFrame(data)
		if err != nil {
			logger.Warn("malformed frame from server", "error", err)
			continue
		}
		if frame.Command != realtime.CommandMessage {
			continue
		}

		var event models.SyncEvent
		if err := json.Unmarshal(frame.Body, &event); err != nil {
			logger.Warn("undecodable event body", "error", err)
			continue
		}
		if event.EventType == string(models.EventHeartbeatAck) {
			continue
		}
		if t.handler != nil {
			t.handler(&event)
		}
	}
}
