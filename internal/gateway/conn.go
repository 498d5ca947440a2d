package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is the frame exchanged in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn is one player's WebSocket connection. It implements room.Member.
type Conn struct {
	id       string
	userID   string
	username string

	ctx  context.Context
	ws   *websocket.Conn
	hub  *Hub
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) UserID() string   { return c.userID }
func (c *Conn) Username() string { return c.username }

// Emit queues an event for the client without blocking. A client that cannot keep up is disconnected.
func (c *Conn) Emit(event string, data any) {
	b, err := json.Marshal(outgoing{Event: event, Data: data})
	if err != nil {
		slog.ErrorContext(c.ctx, "gateway: marshal event failed", "event", event, "error", err)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- b:
	default:
		slog.WarnContext(c.ctx, "gateway: send buffer full, closing connection", "conn_id", c.id)
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.c.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.c.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.c.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.DebugContext(c.ctx, "gateway: write failed", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.c.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.DebugContext(c.ctx, "gateway: ping failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

// readPump dispatches client events until the connection closes, then runs the disconnect flow.
func (c *Conn) readPump() {
	defer func() {
		c.close()
		c.hub.disconnect(c)
	}()

	c.ws.SetReadLimit(c.hub.c.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.c.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.c.ReadTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.WarnContext(c.ctx, "gateway: unexpected close", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.c.ReadTimeout))

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.DebugContext(c.ctx, "gateway: invalid message", "conn_id", c.id, "error", err)
			continue
		}

		c.hub.dispatch(c, msg)
	}
}
