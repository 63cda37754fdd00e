package engine

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/protocol"
	"github.com/anmol0706/VC/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentSignal struct {
	kind    protocol.Kind
	target  domain.Identity
	payload json.RawMessage
}

// captureSender records outbound signals without delivering them.
type captureSender struct {
	mu   sync.Mutex
	msgs []sentSignal
}

func (s *captureSender) SendSignal(kind protocol.Kind, target domain.Identity, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sentSignal{kind: kind, target: target, payload: raw})
	return nil
}

func (s *captureSender) count(kind protocol.Kind, target domain.Identity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.kind == kind && m.target == target {
			n++
		}
	}
	return n
}

func newTestMedia(t *testing.T, streamID string) *LocalMedia {
	t.Helper()
	media, err := NewLocalMedia(streamID)
	require.NoError(t, err)
	return media
}

func startEngine(t *testing.T, identity domain.Identity, sender SignalSender, media *LocalMedia) *Engine {
	t.Helper()
	e := New(identity, sender, media, nil, logger.NewNop())
	go e.Run()
	t.Cleanup(e.Shutdown)
	return e
}

func TestNewcomerOfferedExactlyOnce(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "alice", sender, newTestMedia(t, "alice"))

	e.OnMemberJoined("bob", "Bob")

	require.Eventually(t, func() bool {
		return sender.count(protocol.KindOffer, "bob") == 1
	}, 5*time.Second, 10*time.Millisecond)

	role, ok := e.LinkRole("bob")
	require.True(t, ok)
	assert.Equal(t, RoleInitiator, role)

	state, _ := e.LinkState("bob")
	assert.Equal(t, LinkStateHaveLocalOffer, state)

	// A duplicate join notice must not produce a second offer.
	e.OnMemberJoined("bob", "Bob")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, sender.count(protocol.KindOffer, "bob"))
}

func TestSnapshotPeersAreNeverOffered(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "carol", sender, newTestMedia(t, "carol"))

	e.OnRoomSnapshot([]domain.Member{
		{Identity: "alice", Name: "Alice"},
		{Identity: "bob", Name: "Bob"},
	})

	require.Eventually(t, func() bool {
		return e.LinkCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, id := range []domain.Identity{"alice", "bob"} {
		role, ok := e.LinkRole(id)
		require.True(t, ok)
		assert.Equal(t, RoleResponder, role)
	}

	// Pre-existing members offer toward us, never the other way around.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sender.count(protocol.KindOffer, "alice"))
	assert.Equal(t, 0, sender.count(protocol.KindOffer, "bob"))
}

func TestOfferDeferredUntilMediaReady(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "alice", sender, nil)

	e.OnMemberJoined("bob", "Bob")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sender.count(protocol.KindOffer, "bob"))

	e.SetLocalMedia(newTestMedia(t, "alice"))

	require.Eventually(t, func() bool {
		return sender.count(protocol.KindOffer, "bob") == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMemberLeftClosesLink(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "alice", sender, newTestMedia(t, "alice"))

	var mu sync.Mutex
	var states []LinkState
	e.OnLinkState = func(remote domain.Identity, state LinkState) {
		mu.Lock()
		defer mu.Unlock()
		if remote == "bob" {
			states = append(states, state)
		}
	}

	e.OnMemberJoined("bob", "Bob")
	require.Eventually(t, func() bool {
		return sender.count(protocol.KindOffer, "bob") == 1
	}, 5*time.Second, 10*time.Millisecond)

	e.OnMemberLeft("bob")

	require.Eventually(t, func() bool {
		return e.LinkCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, LinkStateClosed, states[len(states)-1])
}

func TestEarlyCandidatesAreSafe(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "carol", sender, newTestMedia(t, "carol"))

	cand, _ := json.Marshal(map[string]interface{}{"candidate": "candidate:1 1 udp 1 192.0.2.1 1 typ host", "sdpMid": "0"})

	// From a peer we have never heard of: dropped, no link materializes.
	e.OnSignal(protocol.KindCandidate, "ghost", cand)

	// From a known peer whose negotiation has not started: buffered on
	// the link without touching the state machine.
	e.OnRoomSnapshot([]domain.Member{{Identity: "bob", Name: "Bob"}})
	e.OnSignal(protocol.KindCandidate, "bob", cand)

	require.Eventually(t, func() bool {
		return e.LinkCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	_, ok := e.LinkState("ghost")
	assert.False(t, ok)

	state, ok := e.LinkState("bob")
	require.True(t, ok)
	assert.Equal(t, LinkStateNew, state)
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	sender := &captureSender{}
	e := startEngine(t, "alice", sender, newTestMedia(t, "alice"))

	answer, _ := json.Marshal(map[string]string{"type": "answer", "sdp": "v=0"})
	e.OnSignal(protocol.KindAnswer, "bob", answer)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, e.LinkCount())
}

func TestShutdownIsIdempotent(t *testing.T) {
	sender := &captureSender{}
	e := New("alice", sender, newTestMedia(t, "alice"), nil, logger.NewNop())
	go e.Run()

	e.OnMemberJoined("bob", "Bob")
	require.Eventually(t, func() bool {
		return sender.count(protocol.KindOffer, "bob") == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Shut down mid-negotiation, twice.
	e.Shutdown()
	e.Shutdown()

	assert.Equal(t, 0, e.LinkCount())
}

// bridge wires engines to each other in memory, standing in for the
// signaling server: every sent signal is delivered to the target engine
// with the sender identity attached.
type bridge struct {
	mu      sync.Mutex
	engines map[domain.Identity]*Engine
	offers  map[domain.Identity]int
}

func newBridge() *bridge {
	return &bridge{
		engines: make(map[domain.Identity]*Engine),
		offers:  make(map[domain.Identity]int),
	}
}

func (b *bridge) register(id domain.Identity, e *Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engines[id] = e
}

func (b *bridge) sender(from domain.Identity) SignalSender {
	return &bridgeSender{b: b, from: from}
}

func (b *bridge) offerCount(from domain.Identity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offers[from]
}

type bridgeSender struct {
	b    *bridge
	from domain.Identity
}

func (s *bridgeSender) SendSignal(kind protocol.Kind, target domain.Identity, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.b.mu.Lock()
	if kind == protocol.KindOffer {
		s.b.offers[s.from]++
	}
	e, ok := s.b.engines[target]
	s.b.mu.Unlock()

	if ok {
		e.OnSignal(kind, s.from, raw)
	}
	return nil
}

func TestTwoPartyNegotiationReachesStable(t *testing.T) {
	b := newBridge()

	alice := startEngine(t, "alice", b.sender("alice"), newTestMedia(t, "alice"))
	bob := startEngine(t, "bob", b.sender("bob"), newTestMedia(t, "bob"))
	b.register("alice", alice)
	b.register("bob", bob)

	// Alice was in the room first; bob arrives. Bob's snapshot lists
	// alice, alice is told bob joined.
	bob.OnRoomSnapshot([]domain.Member{{Identity: "alice", Name: "Alice"}})
	alice.OnMemberJoined("bob", "Bob")

	require.Eventually(t, func() bool {
		a, aok := alice.LinkState("bob")
		bo, bok := bob.LinkState("alice")
		return aok && bok && a == LinkStateStable && bo == LinkStateStable
	}, 10*time.Second, 20*time.Millisecond)

	// Exactly one offer crossed the wire, and it went from the
	// pre-existing member to the newcomer.
	assert.Equal(t, 1, b.offerCount("alice"))
	assert.Equal(t, 0, b.offerCount("bob"))

	aliceRole, _ := alice.LinkRole("bob")
	bobRole, _ := bob.LinkRole("alice")
	assert.Equal(t, RoleInitiator, aliceRole)
	assert.Equal(t, RoleResponder, bobRole)

	// Alice leaves; bob's link to her closes and is discarded.
	bob.OnMemberLeft("alice")
	require.Eventually(t, func() bool {
		return bob.LinkCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestThreePartyMeshLinkCounts(t *testing.T) {
	b := newBridge()

	engines := map[domain.Identity]*Engine{}
	for _, id := range []domain.Identity{"alice", "bob", "carol"} {
		e := startEngine(t, id, b.sender(id), newTestMedia(t, string(id)))
		engines[id] = e
		b.register(id, e)
	}

	// Join order: alice, then bob, then carol. Each newcomer receives a
	// snapshot of earlier members; earlier members are notified.
	engines["bob"].OnRoomSnapshot([]domain.Member{{Identity: "alice"}})
	engines["alice"].OnMemberJoined("bob", "")

	engines["carol"].OnRoomSnapshot([]domain.Member{{Identity: "alice"}, {Identity: "bob"}})
	engines["alice"].OnMemberJoined("carol", "")
	engines["bob"].OnMemberJoined("carol", "")

	require.Eventually(t, func() bool {
		for _, e := range engines {
			if e.LinkCount() != 2 {
				return false
			}
			for other := range engines {
				if other == e.identity {
					continue
				}
				if st, ok := e.LinkState(other); !ok || st != LinkStateStable {
					return false
				}
			}
		}
		return true
	}, 15*time.Second, 20*time.Millisecond)

	// Every pair negotiated over exactly one offer, sent by the earlier
	// member: alice offered twice, bob once, carol never.
	assert.Equal(t, 2, b.offerCount("alice"))
	assert.Equal(t, 1, b.offerCount("bob"))
	assert.Equal(t, 0, b.offerCount("carol"))
}
