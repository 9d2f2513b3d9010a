package app

import (
	"encoding/json"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/metrics"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Conn the part of a websocket connection the write pump needs
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client one websocket connection: buffered send queue drained by its own write pump
type Client struct {
	ID        string
	Principal domain.Principal

	conn      Conn
	send      chan []byte
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once

	// heartbeat runs on every successful ping, set before WritePump starts
	heartbeat func()

	// rooms guarded by Hub.mu
	rooms map[string]struct{}
}

// NewClient buffer is the send queue length, a full queue closes the connection
func NewClient(id string, p domain.Principal, conn Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:        id,
		Principal: p,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

// Done closed once the connection is shutting down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Finished closed after WritePump has written its last frame and closed the socket.
// The websocket.Conn must not be released before this.
func (c *Client) Finished() <-chan struct{} {
	return c.finished
}

// SetHeartbeat fn runs in its own goroutine after each ping
func (c *Client) SetHeartbeat(fn func()) {
	c.heartbeat = fn
}

// Enqueue never blocks; a slow consumer is disconnected instead
func (c *Client) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		metrics.SlowConsumers.Inc()
		logger.Log.Warn("send buffer full, closing connection",
			zap.String("connID", c.ID), zap.String("userID", c.Principal.UserID))
		c.Close()
		return false
	}
}

// SendJSON marshals v and enqueues it
func (c *Client) SendJSON(v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("marshal outbound frame", zap.Error(err))
		return false
	}
	return c.Enqueue(b)
}

// Close stops the write pump, which then closes the socket and ends the read loop
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump sole writer of the socket; pings every pingInterval
func (c *Client) WritePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
		close(c.finished)
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Log.Debug("websocket write", zap.String("connID", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				logger.Log.Debug("websocket ping", zap.String("connID", c.ID), zap.Error(err))
				return
			}
			if c.heartbeat != nil {
				go c.heartbeat()
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
