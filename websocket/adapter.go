package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairing-relay/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type Conn struct {
	id             string
	ws             *websocket.Conn
	send           chan []byte
	tracker        domain.ConnectionTracker
	handler        domain.MessageHandler
	maxMessageSize int64

	mu        sync.Mutex
	closed    bool
	sessionID string
	role      domain.Role
}

func NewConn(id string, ws *websocket.Conn, t domain.ConnectionTracker, h domain.MessageHandler, maxMessageSize int64) *Conn {
	return &Conn{
		id:             id,
		ws:             ws,
		send:           make(chan []byte, sendBuffer),
		tracker:        t,
		handler:        h,
		maxMessageSize: maxMessageSize,
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues data without blocking. A connection whose buffer is full is
// treated as dead and closed.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrConnClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	slog.Warn("send buffer full, closing connection", "clientId", c.id)
	c.Close()
	return domain.ErrSendBufferFull
}

// Close flushes queued frames, sends a close frame and tears the socket
// down. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

func (c *Conn) Bind(sessionID string, role domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == domain.RoleNone {
		c.sessionID, c.role = sessionID, role
	}
}

func (c *Conn) Binding() (string, domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.role
}

func (c *Conn) Start() {
	if err := c.tracker.Register(c); err != nil {
		slog.Info("connection refused", "clientId", c.id, "error", err)
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		c.ws.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump owns the disconnect hook: it runs once, when reading stops for
// any reason.
func (c *Conn) readPump() {
	defer func() {
		c.handler.Disconnect(c)
		c.tracker.Unregister(c)
		c.Close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", "clientId", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
