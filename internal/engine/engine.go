// Package engine implements the client-side negotiation engine: one
// instance per local participant, owning one PeerLink per other
// participant and driving the offer/answer/ICE exchange for each.
package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/protocol"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SignalSender carries outbound negotiation messages to the signaling
// server. Implementations must be safe for concurrent use: locally
// discovered candidates are trickled from pion callbacks as they appear.
type SignalSender interface {
	SendSignal(kind protocol.Kind, target domain.Identity, payload interface{}) error
}

type eventKind int

const (
	evSnapshot eventKind = iota
	evMemberJoined
	evMemberLeft
	evSignal
	evMediaReady
	evReplaceTrack
	evConnState
)

// event is one unit of work for the engine loop. Signaling messages,
// membership changes, media swaps and connection-state notifications all
// go through the same queue and are drained strictly in arrival order.
type event struct {
	kind eventKind

	members    []domain.Member
	identity   domain.Identity
	name       string
	signalKind protocol.Kind
	payload    json.RawMessage
	media      *LocalMedia
	track      *webrtc.TrackLocalStaticRTP
	connState  webrtc.PeerConnectionState
}

type pendingOffer struct {
	from    domain.Identity
	payload json.RawMessage
}

// Engine runs the negotiation state machine for one local participant.
// All PeerLink mutation happens on the single Run goroutine; the public
// methods only enqueue events.
type Engine struct {
	identity   domain.Identity
	sender     SignalSender
	iceServers []webrtc.ICEServer

	mu    sync.RWMutex
	links map[domain.Identity]*PeerLink
	media *LocalMedia

	// Work deferred until local media is acquired: offers must not be
	// answered and links must not be initiated with no tracks to send.
	pendingOffers []pendingOffer
	pendingPeers  []domain.Identity

	events chan event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// OnTrack is invoked when a remote track arrives on a link, from the
	// underlying connection's goroutine. The consumer owns the track from
	// that point and must read its RTP; when OnTrack is nil the engine
	// drains the track itself. OnLinkState is invoked on every state
	// change, from the engine loop. Neither may block. Set both before
	// Run.
	OnTrack     func(remote domain.Identity, track *webrtc.TrackRemote)
	OnLinkState func(remote domain.Identity, state LinkState)

	logger *zap.SugaredLogger
}

// New creates an engine for the given local identity. media may be nil;
// inbound offers and initiator duties are then deferred until
// SetLocalMedia delivers one.
func New(identity domain.Identity, sender SignalSender, media *LocalMedia, iceServers []webrtc.ICEServer, logger *zap.Logger) *Engine {
	return &Engine{
		identity:   identity,
		sender:     sender,
		iceServers: iceServers,
		links:      make(map[domain.Identity]*PeerLink),
		media:      media,
		events:     make(chan event, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Sugar().With("identity", identity),
	}
}

// Run drains the event queue until Shutdown. Start it in its own
// goroutine before delivering any events.
func (e *Engine) Run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.teardown()
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// Shutdown closes every PeerLink and releases the local media source.
// Idempotent: repeated calls wait for the same teardown.
func (e *Engine) Shutdown() {
	e.once.Do(func() { close(e.quit) })
	<-e.done
}

// OnRoomSnapshot seeds responder-ready PeerLinks for the members already
// in the room. Per the asymmetric initiator rule they will send us
// offers; we never offer toward them.
func (e *Engine) OnRoomSnapshot(members []domain.Member) {
	e.enqueue(event{kind: evSnapshot, members: members})
}

// OnMemberJoined creates an initiator PeerLink toward the newcomer and
// produces an offer.
func (e *Engine) OnMemberJoined(identity domain.Identity, name string) {
	e.enqueue(event{kind: evMemberJoined, identity: identity, name: name})
}

// OnMemberLeft tears down and discards the PeerLink for the departed
// participant.
func (e *Engine) OnMemberLeft(identity domain.Identity) {
	e.enqueue(event{kind: evMemberLeft, identity: identity})
}

// OnSignal dispatches an inbound offer, answer or candidate to the
// matching PeerLink, creating one on demand for an unseen offer.
func (e *Engine) OnSignal(kind protocol.Kind, from domain.Identity, payload json.RawMessage) {
	e.enqueue(event{kind: evSignal, signalKind: kind, identity: from, payload: payload})
}

// SetLocalMedia delivers the acquired local media source and flushes any
// deferred offers and initiator duties.
func (e *Engine) SetLocalMedia(media *LocalMedia) {
	e.enqueue(event{kind: evMediaReady, media: media})
}

// ReplaceTrack swaps the outgoing track of matching kind on every
// PeerLink without renegotiating.
func (e *Engine) ReplaceTrack(track *webrtc.TrackLocalStaticRTP) {
	e.enqueue(event{kind: evReplaceTrack, track: track})
}

// HandleEnvelope maps a server message onto the public contract. Room
// errors are logged; everything else feeds the event queue.
func (e *Engine) HandleEnvelope(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindRoomJoined:
		e.OnRoomSnapshot(env.Members)
	case protocol.KindMemberJoined:
		e.OnMemberJoined(domain.Identity(env.Identity), env.Name)
	case protocol.KindMemberLeft:
		e.OnMemberLeft(domain.Identity(env.Identity))
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindCandidate:
		e.OnSignal(env.Kind, domain.Identity(env.From), env.Payload)
	case protocol.KindRoomError:
		e.logger.Warnw("server reported room error", "message", env.Message)
	case protocol.KindRoomFull:
		e.logger.Warnw("room is full")
	default:
		e.logger.Debugw("ignoring unexpected envelope", "kind", env.Kind)
	}
}

// LinkState reports the state of the PeerLink for the given remote
// identity, if one exists.
func (e *Engine) LinkState(identity domain.Identity) (LinkState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.links[identity]
	if !ok {
		return "", false
	}
	return l.state, true
}

// LinkRole reports the negotiation role of the PeerLink for the given
// remote identity, if one exists.
func (e *Engine) LinkRole(identity domain.Identity) (Role, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.links[identity]
	if !ok {
		return "", false
	}
	return l.role, true
}

// LinkCount reports how many PeerLinks currently exist.
func (e *Engine) LinkCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.links)
}

func (e *Engine) enqueue(ev event) {
	select {
	case <-e.quit:
		// Engine shutting down; late events are dropped.
	case e.events <- ev:
	}
}

func (e *Engine) handle(ev event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.kind {
	case evSnapshot:
		for _, m := range ev.members {
			e.ensureLink(m.Identity, m.Name, RoleResponder)
		}

	case evMemberJoined:
		l := e.ensureLink(ev.identity, ev.name, RoleInitiator)
		if l.state != LinkStateNew {
			// Already negotiating with this identity; idempotent.
			return
		}
		if e.media == nil {
			e.pendingPeers = append(e.pendingPeers, ev.identity)
			return
		}
		e.initiate(l)

	case evMemberLeft:
		e.closeLink(ev.identity)

	case evSignal:
		e.handleSignal(ev.signalKind, ev.identity, ev.payload)

	case evMediaReady:
		e.media = ev.media
		peers := e.pendingPeers
		offers := e.pendingOffers
		e.pendingPeers = nil
		e.pendingOffers = nil
		for _, id := range peers {
			if l, ok := e.links[id]; ok && l.state == LinkStateNew {
				e.initiate(l)
			}
		}
		for _, o := range offers {
			if l, ok := e.links[o.from]; ok && !l.state.terminal() {
				e.answerOffer(l, o.payload)
			}
		}

	case evReplaceTrack:
		e.replaceTrack(ev.track)

	case evConnState:
		e.handleConnState(ev.identity, ev.connState)
	}
}

// ensureLink returns the existing PeerLink for identity or creates one in
// the given role. Creating a second link for the same identity returns
// the first; links are unique per remote participant.
func (e *Engine) ensureLink(identity domain.Identity, name string, role Role) *PeerLink {
	if l, ok := e.links[identity]; ok {
		if l.name == "" {
			l.name = name
		}
		return l
	}
	l := &PeerLink{
		remote: identity,
		name:   name,
		role:   role,
		state:  LinkStateNew,
	}
	e.links[identity] = l
	e.logger.Debugw("peer link created", "remote", identity, "role", role)
	return l
}

// initiate produces and sends an offer toward the remote participant.
// Called with the engine lock held and local media available.
func (e *Engine) initiate(l *PeerLink) {
	if err := e.ensurePeerConnection(l); err != nil {
		e.failLink(l, err)
		return
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		e.failLink(l, fmt.Errorf("create offer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		e.failLink(l, fmt.Errorf("set local offer: %w", err))
		return
	}

	if err := e.sender.SendSignal(protocol.KindOffer, l.remote, offer); err != nil {
		e.failLink(l, fmt.Errorf("send offer: %w", err))
		return
	}
	e.setState(l, LinkStateHaveLocalOffer)
}

func (e *Engine) handleSignal(kind protocol.Kind, from domain.Identity, payload json.RawMessage) {
	switch kind {
	case protocol.KindOffer:
		// An offer may arrive before the snapshot or join notice for its
		// sender; create the responder link on demand instead of erroring.
		l := e.ensureLink(from, "", RoleResponder)
		if l.state.terminal() {
			e.logger.Debugw("ignoring offer for terminal link", "remote", from, "state", l.state)
			return
		}
		if e.media == nil {
			e.pendingOffers = append(e.pendingOffers, pendingOffer{from: from, payload: payload})
			return
		}
		e.answerOffer(l, payload)

	case protocol.KindAnswer:
		l, ok := e.links[from]
		if !ok || l.state != LinkStateHaveLocalOffer {
			e.logger.Debugw("ignoring unexpected answer", "remote", from)
			return
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(payload, &answer); err != nil {
			e.failLink(l, fmt.Errorf("decode answer: %w", err))
			return
		}
		if err := l.applyRemoteDescription(answer); err != nil {
			e.failLink(l, err)
			return
		}
		e.setState(l, LinkStateStable)

	case protocol.KindCandidate:
		l, ok := e.links[from]
		if !ok {
			// Implies a race with link teardown; not fatal.
			e.logger.Debugw("dropping candidate from unknown peer", "remote", from)
			return
		}
		if l.state.terminal() {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &cand); err != nil {
			e.logger.Warnw("dropping malformed candidate", "remote", from, "error", err)
			return
		}
		if err := l.addCandidate(cand); err != nil {
			e.logger.Warnw("failed to apply candidate", "remote", from, "error", err)
		}
	}
}

// answerOffer applies a remote offer, synthesizes an answer and sends it.
// Called with the engine lock held and local media available.
func (e *Engine) answerOffer(l *PeerLink, payload json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		e.failLink(l, fmt.Errorf("decode offer: %w", err))
		return
	}

	if err := e.ensurePeerConnection(l); err != nil {
		e.failLink(l, err)
		return
	}
	e.setState(l, LinkStateHaveRemoteOffer)

	if err := l.applyRemoteDescription(offer); err != nil {
		e.failLink(l, err)
		return
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		e.failLink(l, fmt.Errorf("create answer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		e.failLink(l, fmt.Errorf("set local answer: %w", err))
		return
	}

	if err := e.sender.SendSignal(protocol.KindAnswer, l.remote, answer); err != nil {
		e.failLink(l, fmt.Errorf("send answer: %w", err))
		return
	}

	// Answers are not acknowledged at the protocol level; the connection
	// object's own negotiation completion is authoritative from here.
	e.setState(l, LinkStateStable)
}

// ensurePeerConnection lazily creates the underlying connection object
// with the local tracks attached and its callbacks wired.
func (e *Engine) ensurePeerConnection(l *PeerLink) error {
	if l.pc != nil {
		return nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if e.media != nil {
		for _, track := range e.media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return fmt.Errorf("add local track: %w", err)
			}
		}
	}

	remote := l.remote

	// Trickle: forward each discovered candidate immediately.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := e.sender.SendSignal(protocol.KindCandidate, remote, c.ToJSON()); err != nil {
			e.logger.Warnw("failed to send candidate", "remote", remote, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.enqueue(event{kind: evConnState, identity: remote, connState: state})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote track arrived",
			"remote", remote,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go requestKeyframes(pc, track.SSRC(), e.quit)
		}
		if e.OnTrack != nil {
			e.OnTrack(remote, track)
		} else {
			go e.pumpTrack(remote, track)
		}
	})

	l.pc = pc
	return nil
}

// pumpTrack drains RTP from a remote track until the link closes. It
// runs only when no OnTrack consumer is registered: a TrackRemote has a
// single reader, so once a consumer takes the track it owns ReadRTP and
// the engine must not touch it.
func (e *Engine) pumpTrack(remote domain.Identity, track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			e.logger.Debugw("remote track ended", "remote", remote, "track_id", track.ID(), "error", err)
			return
		}
	}
}

// replaceTrack swaps the outgoing track of matching kind on every link's
// sender. No renegotiation: a full offer/answer round trip per peer on
// every device change is exactly what this avoids.
func (e *Engine) replaceTrack(track *webrtc.TrackLocalStaticRTP) {
	for _, l := range e.links {
		if l.pc == nil || l.state.terminal() {
			continue
		}
		for _, sender := range l.pc.GetSenders() {
			current := sender.Track()
			if current == nil || current.Kind() != track.Kind() {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				e.logger.Warnw("failed to replace track", "remote", l.remote, "error", err)
			}
		}
	}
	if e.media != nil {
		e.media.swap(track)
	}
}

func (e *Engine) handleConnState(identity domain.Identity, state webrtc.PeerConnectionState) {
	l, ok := e.links[identity]
	if !ok || l.state.terminal() {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		e.setState(l, LinkStateStable)
	case webrtc.PeerConnectionStateDisconnected:
		// Transient; may self-heal without protocol intervention. An ICE
		// restart would slot in here.
		e.setState(l, LinkStateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		e.failLink(l, fmt.Errorf("connection failed"))
	}
}

// failLink marks the link failed and releases its connection object. The
// failure is isolated: no other PeerLink and not the engine itself is
// affected.
func (e *Engine) failLink(l *PeerLink, err error) {
	e.logger.Warnw("peer link failed", "remote", l.remote, "error", err)
	if l.pc != nil {
		l.pc.Close()
	}
	e.setState(l, LinkStateFailed)
}

func (e *Engine) closeLink(identity domain.Identity) {
	l, ok := e.links[identity]
	if !ok {
		return
	}
	l.close()
	if e.OnLinkState != nil {
		e.OnLinkState(l.remote, LinkStateClosed)
	}
	delete(e.links, identity)
	e.logger.Infow("peer link closed", "remote", identity)
}

func (e *Engine) setState(l *PeerLink, state LinkState) {
	if l.state == state {
		return
	}
	l.state = state
	if e.OnLinkState != nil {
		e.OnLinkState(l.remote, state)
	}
}

// teardown closes every link and releases local media. Runs once, on the
// loop goroutine, when Shutdown fires.
func (e *Engine) teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for identity, l := range e.links {
		l.close()
		if e.OnLinkState != nil {
			e.OnLinkState(l.remote, LinkStateClosed)
		}
		delete(e.links, identity)
	}
	if e.media != nil {
		e.media.Release()
	}
	e.logger.Infow("engine shut down")
}
