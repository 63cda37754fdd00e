package engine

import (
	"fmt"

	"github.com/anmol0706/VC/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// LinkState is the negotiation state of one PeerLink.
type LinkState string

const (
	LinkStateNew             LinkState = "new"
	LinkStateHaveLocalOffer  LinkState = "have-local-offer"
	LinkStateHaveRemoteOffer LinkState = "have-remote-offer"
	LinkStateStable          LinkState = "stable"
	LinkStateDisconnected    LinkState = "disconnected"
	LinkStateFailed          LinkState = "failed"
	LinkStateClosed          LinkState = "closed"
)

// terminal reports whether the state admits no further transitions except
// explicit teardown.
func (s LinkState) terminal() bool {
	return s == LinkStateFailed || s == LinkStateClosed
}

// Role is the negotiation role of the local side of a PeerLink. The
// participant already present in the room initiates toward a newcomer;
// the newcomer only ever responds. This asymmetry is what prevents glare
// without a tie-break.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// PeerLink is the local participant's state for its connection to exactly
// one remote participant. It is owned and mutated exclusively by the
// engine's event loop.
type PeerLink struct {
	remote domain.Identity
	name   string
	role   Role

	pc    *webrtc.PeerConnection
	state LinkState

	// Candidates received before the remote description is applied are
	// buffered here and flushed afterwards; applying them earlier would
	// fail in the underlying connection object.
	pendingCandidates []webrtc.ICECandidateInit
	remoteApplied     bool
}

// Remote returns the remote participant's identity.
func (l *PeerLink) Remote() domain.Identity { return l.remote }

// Name returns the remote participant's display name, if known.
func (l *PeerLink) Name() string { return l.name }

// Role returns the local negotiation role for this link.
func (l *PeerLink) Role() Role { return l.role }

// State returns the last observed link state.
func (l *PeerLink) State() LinkState { return l.state }

// applyRemoteDescription sets the remote description and flushes any
// buffered candidates.
func (l *PeerLink) applyRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	l.remoteApplied = true

	for _, cand := range l.pendingCandidates {
		if err := l.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("apply buffered candidate: %w", err)
		}
	}
	l.pendingCandidates = nil
	return nil
}

// addCandidate applies a remote candidate, buffering it if the remote
// description has not been applied yet.
func (l *PeerLink) addCandidate(cand webrtc.ICECandidateInit) error {
	if !l.remoteApplied {
		l.pendingCandidates = append(l.pendingCandidates, cand)
		return nil
	}
	return l.pc.AddICECandidate(cand)
}

// close tears the link down regardless of its current state. It is
// idempotent and never fails mid-negotiation: resources are released and
// the state becomes closed.
func (l *PeerLink) close() {
	if l.state == LinkStateClosed {
		return
	}
	if l.pc != nil {
		l.pc.Close()
	}
	l.pendingCandidates = nil
	l.state = LinkStateClosed
}
