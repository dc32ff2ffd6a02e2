// Package websocket bridges connected UI clients to the lifecycle event
// broadcaster over a websocket connection.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"brokle/internal/config"
	"brokle/pkg/events"
)

// Handler upgrades incoming requests to websocket connections and
// subscribes each one to the lifecycle event broadcaster.
type Handler struct {
	config      *config.Config
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	broadcaster *events.Broadcaster
}

// NewHandler creates a new websocket handler over broadcaster.
func NewHandler(cfg *config.Config, logger *slog.Logger, broadcaster *events.Broadcaster) *Handler {
	return &Handler{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcaster: broadcaster,
	}
}

var clientSeq int64

func nextClientID() string {
	return fmt.Sprintf("client-%d-%d", time.Now().UnixNano(), atomic.AddInt64(&clientSeq, 1))
}

// Handle upgrades the request and subscribes the connection to the
// lifecycle channel for the lifetime of the websocket.
func (h *Handler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(nextClientID(), conn, h.logger)

	var filter *events.EventFilter
	if types := c.QueryArray("type"); len(types) > 0 {
		filter = &events.EventFilter{}
		for _, t := range types {
			filter.Types = append(filter.Types, events.EventType(t))
		}
	}

	if _, err := h.broadcaster.Subscribe(client, events.LifecycleChannel, filter); err != nil {
		h.logger.Error("websocket subscribe failed", "error", err, "client_id", client.id)
		conn.Close()
		return
	}

	h.logger.Info("websocket client connected", "client_id", client.id)

	go client.writePump()
	client.readPump(h.broadcaster)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// client adapts one websocket connection to events.Subscriber.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(event *events.Event) error {
	payload, err := event.ToJSON()
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("websocket client %s send buffer full", c.id)
	}
}

func (c *client) Close() error {
	c.cancel()
	return c.conn.Close()
}

func (c *client) Context() context.Context { return c.ctx }

// readPump discards incoming client traffic aside from keepalive pongs; this
// handler is a one-way event feed, not a command channel.
func (c *client) readPump(broadcaster *events.Broadcaster) {
	defer func() {
		broadcaster.Unsubscribe(c.id)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket unexpected close", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
