package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventFeed bridges the internal event bus onto websocket connections so UI
// surfaces can react to notes-changed, auth-changed and sync-complete without
// polling.
type EventFeed struct {
	bus      *bus.Dispatcher
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventFeed returns an EventFeed publishing the dispatcher's events.
func NewEventFeed(dispatcher *bus.Dispatcher, logger *zap.Logger) *EventFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventFeed{
		bus: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The agent listens on loopback only; the UI surfaces connect
			// from extension and file origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (f *EventFeed) handleSubscribe(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The request context ends when this handler returns, which would tear
	// the subscription down under the hijacked connection. The write pump's
	// cleanup owns the subscription lifetime instead.
	stream, cleanup := f.bus.Subscribe(context.Background())
	go f.writePump(conn, stream, cleanup)
	go f.readPump(conn)
}

// writePump forwards bus events to the connection and keeps it alive with
// pings. Any write failure tears the connection down; the client reconnects.
func (f *EventFeed) writePump(conn *websocket.Conn, stream <-chan bus.Message, cleanup func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cleanup()
		conn.Close() //nolint:errcheck
	}()

	for {
		select {
		case message, open := <-stream:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !open {
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				f.logger.Warn("failed to encode event", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames so control messages are processed and a
// closed peer is noticed promptly. The feed is one-way; inbound payloads are
// discarded.
func (f *EventFeed) readPump(conn *websocket.Conn) {
	defer conn.Close() //nolint:errcheck

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
