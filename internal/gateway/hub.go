// Package gateway terminates client WebSockets. It owns the sockets of this
// process and exposes them to the relay only through Hub.Push.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"recipes/internal/domain"
)

const (
	writeWait        = 10 * time.Second
	pingWriteWait    = time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	closeGracePeriod = time.Second
	// maxMessageSize leaves room for the longest ingredient list once JSON-escaped.
	maxMessageSize = 64 << 10
)

// client wraps one socket. gorilla/websocket allows a single concurrent
// writer, so every write holds writeLock. Waiting for it respects ctx.
type client struct {
	conn      *websocket.Conn
	writeLock chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, writeLock: make(chan struct{}, 1)}
}

func (c *client) lock(ctx context.Context) error {
	select {
	case c.writeLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) unlock() { <-c.writeLock }

func (c *client) write(ctx context.Context, messageType int, payload []byte) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// ping sends a keepalive ping, giving up quickly so it never holds the
// socket for long.
func (c *client) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingWriteWait)
	defer cancel()
	return c.write(ctx, websocket.PingMessage, nil)
}

func (c *client) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
	defer cancel()
	if c.lock(ctx) == nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.unlock()
	}
	return c.conn.Close()
}

// Hub indexes the sockets connected to this gateway by connection id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

func (h *Hub) add(id string, conn *websocket.Conn) *client {
	c := newClient(conn)
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) get(id string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// Push writes payload as one text frame to the socket of conn.ID. A socket
// that is unknown here or fails to take the write is reported as gone.
func (h *Hub) Push(ctx context.Context, conn domain.Connection, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := h.get(conn.ID)
	if c == nil {
		return fmt.Errorf("gateway: %s: %w", conn.ID, domain.ErrConnectionGone)
	}
	if err := c.write(ctx, websocket.TextMessage, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("gateway: write %s: %v: %w", conn.ID, err, domain.ErrConnectionGone)
	}
	return nil
}

// Len reports the number of open sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a going-away close frame to every socket and closes it.
// Read loops notice the closed socket and unregister their connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		_ = c.close()
	}
}
