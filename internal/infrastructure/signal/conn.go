package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/protocol"
	"github.com/anmol0706/VC/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn wraps a websocket connection as the registry's transport handle.
// All writes go through the buffered send channel and a single writePump
// goroutine, so Send is safe from any goroutine and never blocks the
// registry: a full buffer fails the send instead of stalling.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan *protocol.Envelope

	pingInterval time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}

	logger *zap.SugaredLogger

	// room/identity binding after a successful join. Only the read loop
	// mutates these; no lock needed.
	roomID   domain.RoomID
	identity domain.Identity
}

func newWSConn(conn *websocket.Conn, sendBuffer int, pingInterval, writeTimeout time.Duration, logger *zap.SugaredLogger) *wsConn {
	return &wsConn{
		id:           utils.GenerateConnID(),
		conn:         conn,
		send:         make(chan *protocol.Envelope, sendBuffer),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		logger:       logger,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg *protocol.Envelope) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection %s is closed", c.id)
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", c.id)
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

// writePump drains the send channel onto the websocket and keeps the
// connection alive with pings. There is at most one writer per
// connection, as gorilla requires.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debugw("write failed, dropping connection", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
