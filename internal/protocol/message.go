// Package protocol defines the wire messages exchanged between clients and
// the signaling server over a persistent ordered per-client channel.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/pkg/validation"
)

// Kind tags a wire message.
type Kind string

const (
	// client → server
	KindJoinRoom  Kind = "join-room"
	KindLeaveRoom Kind = "leave-room"

	// server → client
	KindRoomJoined   Kind = "room-joined"
	KindRoomError    Kind = "room-error"
	KindRoomFull     Kind = "room-full"
	KindMemberJoined Kind = "member-joined"
	KindMemberLeft   Kind = "member-left"

	// client → server → client, relayed by target identity
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Envelope is the single tagged variant used for every wire message.
// Only the fields relevant to a given Kind are populated; Validate
// enforces the per-kind shape at the transport boundary so internal
// logic never sees a malformed message.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	RoomID   string          `json:"roomId,omitempty"`
	Identity string          `json:"identity,omitempty"`
	Name     string          `json:"name,omitempty"`
	Target   string          `json:"target,omitempty"`
	From     string          `json:"from,omitempty"`
	Members  []domain.Member `json:"members,omitempty"`
	Message  string          `json:"message,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IsSignal reports whether the kind is one of the relayed negotiation
// messages (offer, answer, candidate).
func (k Kind) IsSignal() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

// Validate checks the envelope shape for client-originated kinds.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindJoinRoom:
		if err := validation.ValidateRoomID(e.RoomID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		if err := validation.ValidateIdentity(e.Identity); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		if err := validation.ValidateDisplayName(e.Name); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		return nil

	case KindLeaveRoom:
		if err := validation.ValidateRoomID(e.RoomID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		if err := validation.ValidateIdentity(e.Identity); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		return nil

	case KindOffer, KindAnswer, KindCandidate:
		if err := validation.ValidateIdentity(e.Target); err != nil {
			return fmt.Errorf("%w: target: %v", domain.ErrInvalidMessage, err)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: %s payload is required", domain.ErrInvalidMessage, e.Kind)
		}
		return nil

	case "":
		return fmt.Errorf("%w: kind is required", domain.ErrInvalidMessage)

	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidMessage, e.Kind)
	}
}

// RoomJoined builds the snapshot reply for a successful join. The member
// list excludes the joiner.
func RoomJoined(members []domain.Member) *Envelope {
	if members == nil {
		members = []domain.Member{}
	}
	return &Envelope{Kind: KindRoomJoined, Members: members}
}

// RoomError builds a validation failure reply for the offending client.
func RoomError(message string) *Envelope {
	return &Envelope{Kind: KindRoomError, Message: message}
}

// RoomFull builds the capacity-exceeded reply.
func RoomFull() *Envelope {
	return &Envelope{Kind: KindRoomFull}
}

// MemberJoined builds the arrival notice broadcast to pre-existing members.
func MemberJoined(identity domain.Identity, name string) *Envelope {
	return &Envelope{Kind: KindMemberJoined, Identity: string(identity), Name: name}
}

// MemberLeft builds the departure notice broadcast to remaining members.
func MemberLeft(identity domain.Identity) *Envelope {
	return &Envelope{Kind: KindMemberLeft, Identity: string(identity)}
}

// Signal builds a relayed negotiation message with the server-injected
// sender identity. The payload is forwarded verbatim.
func Signal(kind Kind, from domain.Identity, payload json.RawMessage) *Envelope {
	return &Envelope{Kind: kind, From: string(from), Payload: payload}
}
