package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientWriteTimeout = 10 * time.Second
	clientPongTimeout  = 60 * time.Second
	clientPingInterval = 30 * time.Second
)

// Client is the websocket signaling connection of one participant. It
// implements SignalSender, so an Engine can trickle candidates through it
// directly.
type Client struct {
	conn *websocket.Conn

	send     chan *protocol.Envelope
	incoming chan *protocol.Envelope

	quit chan struct{}
	done chan struct{}
	once sync.Once

	roomID   domain.RoomID
	identity domain.Identity

	logger *zap.SugaredLogger
}

var _ SignalSender = (*Client)(nil)

// Dial connects to the signaling server at the given websocket URL and
// starts the read and write pumps.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &Client{
		conn:     conn,
		send:     make(chan *protocol.Envelope, 64),
		incoming: make(chan *protocol.Envelope, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Sugar(),
	}

	go c.writePump()
	go c.readPump()
	return c, nil
}

// Incoming returns the channel of server messages. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *protocol.Envelope { return c.incoming }

// JoinRoom asks the server to place this participant in the room. The
// outcome arrives on Incoming as room-joined, room-full or room-error.
func (c *Client) JoinRoom(roomID domain.RoomID, identity domain.Identity, name string) error {
	c.roomID = roomID
	c.identity = identity
	return c.write(&protocol.Envelope{
		Kind:     protocol.KindJoinRoom,
		RoomID:   string(roomID),
		Identity: string(identity),
		Name:     name,
	})
}

// LeaveRoom announces a deliberate departure from the joined room.
func (c *Client) LeaveRoom() error {
	return c.write(&protocol.Envelope{
		Kind:     protocol.KindLeaveRoom,
		RoomID:   string(c.roomID),
		Identity: string(c.identity),
	})
}

// SendSignal relays a negotiation payload toward the target participant.
// The server stamps the sender identity; the client never does.
func (c *Client) SendSignal(kind protocol.Kind, target domain.Identity, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return c.write(&protocol.Envelope{
		Kind:    kind,
		Target:  string(target),
		Payload: raw,
	})
}

// Close tears down the websocket connection. Idempotent.
func (c *Client) Close() error {
	c.shutdown()
	<-c.done
	return nil
}

// shutdown closes quit and the socket without waiting for the pumps.
// Both pumps defer it, so a dead socket unblocks every pending write
// instead of leaving writers stuck on a full send buffer.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

func (c *Client) write(env *protocol.Envelope) error {
	select {
	case <-c.quit:
		return fmt.Errorf("signaling connection closed")
	case c.send <- env:
		return nil
	}
}

func (c *Client) readPump() {
	defer close(c.incoming)
	defer close(c.done)
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(clientPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongTimeout))
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.quit:
			default:
				c.logger.Warnw("signaling read failed", "error", err)
			}
			return
		}
		select {
		case <-c.quit:
			return
		case c.incoming <- &env:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.quit:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warnw("signaling write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
