package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studyflow/tracker-sync/internal/domain"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	maxMsgSize = 4096
)

// client wraps one websocket connection as a hub subscriber. Writes are
// serialized with a mutex because the hub's delivery task and the ping
// ticker both write to the connection.
type client struct {
	id          string
	actorID     string
	conn        *websocket.Conn
	sendTimeout time.Duration

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func newClient(id, actorID string, conn *websocket.Conn, sendTimeout time.Duration) *client {
	return &client{
		id:          id,
		actorID:     actorID,
		conn:        conn,
		sendTimeout: sendTimeout,
		closed:      make(chan struct{}),
	}
}

// ID returns the connection identifier
func (c *client) ID() string {
	return c.id
}

// Send delivers one event as a JSON text message
func (c *client) Send(event *domain.CRUDEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

// close shuts the connection down once
func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readLoop consumes control frames and detects a dropped connection. Clients
// do not send data frames; mutations go through the REST API.
func (c *client) readLoop(onClose func()) {
	defer func() {
		c.close()
		onClose()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive
func (c *client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}
