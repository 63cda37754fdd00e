package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/core/ports"
	"github.com/anmol0706/VC/internal/infrastructure/middleware"
	"github.com/anmol0706/VC/internal/protocol"
	"github.com/anmol0706/VC/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Metrics is the subset of the monitoring collector the server reports to.
// A nil Metrics disables reporting.
type Metrics interface {
	SetRegistryGauges(rooms, participants int)
	RecordJoin()
	RecordSignalRouted(kind string)
	RecordRouteMiss()
	RecordMessageDropped()
	RecordValidationError()
	RecordRoomFull()
}

// Server accepts websocket connections and brokers all signaling between
// participants through the registry. It never interprets offer/answer/
// candidate payloads; they are relayed verbatim to the routed target with
// the true sender identity injected.
type Server struct {
	registry ports.Registry
	limiter  *middleware.MessageLimiter
	metrics  Metrics

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	maxMsgSize   int64

	mu    sync.Mutex
	conns map[string]*wsConn

	logger *zap.SugaredLogger
}

func NewServer(registry ports.Registry, cfg *config.Config, metrics Metrics, logger *zap.Logger) *Server {
	maxMsgSize := cfg.RateLimiting.MaxMessageSizeBytes
	if maxMsgSize <= 0 {
		maxMsgSize = 64 * 1024
	}
	return &Server{
		registry:     registry,
		limiter:      middleware.NewMessageLimiter(cfg),
		metrics:      metrics,
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		writeTimeout: cfg.Signal.WriteTimeout,
		sendBuffer:   cfg.Signal.SendBuffer,
		maxMsgSize:   maxMsgSize,
		conns:        make(map[string]*wsConn),
		logger:       logger.Sugar(),
	}
}

// HandleWebSocket upgrades the request and runs the connection's read
// loop until the socket closes. Socket close for any reason triggers the
// same cleanup as an explicit leave.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(raw, s.sendBuffer, s.pingInterval, s.writeTimeout, s.logger)

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.logger.Infow("client connected", "conn_id", conn.id, "remote", raw.RemoteAddr().String())

	go conn.writePump()
	s.readLoop(conn)

	s.mu.Lock()
	delete(s.conns, conn.id)
	s.mu.Unlock()

	s.limiter.Forget(conn.id)
	s.registry.Disconnect(context.Background(), conn.id)
	conn.Close()
	s.updateGauges()

	s.logger.Infow("client disconnected", "conn_id", conn.id)
}

func (s *Server) readLoop(conn *wsConn) {
	raw := conn.conn
	raw.SetReadLimit(s.maxMsgSize)
	raw.SetReadDeadline(time.Now().Add(s.pongTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	for {
		var msg protocol.Envelope
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "conn_id", conn.id, "error", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if !s.limiter.Allow(conn.id) {
			if s.metrics != nil {
				s.metrics.RecordMessageDropped()
			}
			s.logger.Warnw("message rate limit exceeded, dropping", "conn_id", conn.id)
			continue
		}

		s.handleMessage(conn, &msg)
	}
}

func (s *Server) handleMessage(conn *wsConn, msg *protocol.Envelope) {
	if err := msg.Validate(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordValidationError()
		}
		s.logger.Infow("rejecting malformed message", "conn_id", conn.id, "kind", msg.Kind, "error", err)
		conn.Send(protocol.RoomError(err.Error()))
		return
	}

	switch msg.Kind {
	case protocol.KindJoinRoom:
		s.handleJoin(conn, msg)
	case protocol.KindLeaveRoom:
		s.handleLeave(conn, msg)
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindCandidate:
		s.handleSignal(conn, msg)
	default:
		// Validate only passes client-originated kinds; anything else is
		// a client echoing server messages back.
		conn.Send(protocol.RoomError("unexpected message kind"))
	}
}

func (s *Server) handleJoin(conn *wsConn, msg *protocol.Envelope) {
	ctx := context.Background()
	roomID := domain.RoomID(msg.RoomID)
	identity := domain.Identity(msg.Identity)

	// One room per transport connection: a handle is never shared across
	// rooms. Re-joining as the same (room, identity) passes through as a
	// reconnection; anything else must leave first.
	if conn.identity != "" && (conn.roomID != roomID || conn.identity != identity) {
		s.logger.Infow("rejecting join from already-joined connection",
			"conn_id", conn.id,
			"joined_room", conn.roomID,
			"requested_room", roomID,
		)
		conn.Send(protocol.RoomError("connection already joined a room; leave it first"))
		return
	}

	members, err := s.registry.Join(ctx, roomID, identity, msg.Name, conn)
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			if s.metrics != nil {
				s.metrics.RecordRoomFull()
			}
			s.logger.Infow("join rejected, room full", "conn_id", conn.id, "room_id", roomID, "identity", identity)
			conn.Send(protocol.RoomFull())
			return
		}
		conn.Send(protocol.RoomError(err.Error()))
		return
	}

	conn.roomID = roomID
	conn.identity = identity

	if s.metrics != nil {
		s.metrics.RecordJoin()
	}
	s.updateGauges()

	conn.Send(protocol.RoomJoined(members))
}

func (s *Server) handleLeave(conn *wsConn, msg *protocol.Envelope) {
	// A connection can only leave as itself.
	if conn.identity == "" || domain.Identity(msg.Identity) != conn.identity || domain.RoomID(msg.RoomID) != conn.roomID {
		conn.Send(protocol.RoomError("not joined as that identity"))
		return
	}

	s.registry.Leave(context.Background(), conn.roomID, conn.identity)
	conn.roomID = ""
	conn.identity = ""
	s.updateGauges()
}

// handleSignal relays offer/answer/candidate to the target's live
// connection within the sender's current room. The sender identity is
// injected server-side; a client-supplied From is never trusted. An
// unknown target is a benign race with teardown, so the message is
// silently dropped.
func (s *Server) handleSignal(conn *wsConn, msg *protocol.Envelope) {
	if conn.identity == "" {
		conn.Send(protocol.RoomError("join a room before signaling"))
		return
	}

	target, err := s.registry.Route(context.Background(), conn.roomID, domain.Identity(msg.Target))
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRouteMiss()
		}
		s.logger.Debugw("dropping signal for unknown target",
			"conn_id", conn.id,
			"room_id", conn.roomID,
			"target", msg.Target,
			"kind", msg.Kind,
		)
		return
	}

	relay := protocol.Signal(msg.Kind, conn.identity, msg.Payload)
	if err := target.Send(relay); err != nil {
		s.logger.Warnw("failed to relay signal",
			"from", conn.identity,
			"target", msg.Target,
			"kind", msg.Kind,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSignalRouted(string(msg.Kind))
	}
}

func (s *Server) updateGauges() {
	if s.metrics == nil {
		return
	}
	stats := s.registry.Stats(context.Background())
	s.metrics.SetRegistryGauges(stats.RoomCount, stats.ParticipantCount)
}

// ConnectionCount reports how many websocket connections are open.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every open connection.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
