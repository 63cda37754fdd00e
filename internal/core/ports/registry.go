package ports

import (
	"context"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/protocol"
)

// ClientConn is the transport-connection handle owned by the registry for
// each participant. Implementations must make Send safe for concurrent use
// and non-blocking (drop or fail rather than stall the registry).
type ClientConn interface {
	// ID uniquely identifies this transport connection, not the
	// participant behind it.
	ID() string
	Send(msg *protocol.Envelope) error
	Close() error
}

// Registry is the authoritative store of rooms and their participants.
type Registry interface {
	// Join registers identity in the room, creating the room if absent.
	// A second join with the same identity replaces the stale connection
	// handle (reconnection semantics). Returns the current member list
	// excluding the joiner, and notifies the other members.
	Join(ctx context.Context, roomID domain.RoomID, identity domain.Identity, name string, conn ClientConn) ([]domain.Member, error)

	// Leave removes identity from the room if present; absent identity is
	// a no-op. Deletes the room when it empties.
	Leave(ctx context.Context, roomID domain.RoomID, identity domain.Identity)

	// Disconnect performs Leave for whichever (room, identity) currently
	// owns the given transport connection. A handle already replaced by a
	// reconnection resolves to nothing and is a no-op.
	Disconnect(ctx context.Context, connID string)

	// Route resolves the live connection handle for target within roomID.
	Route(ctx context.Context, roomID domain.RoomID, target domain.Identity) (ClientConn, error)

	Stats(ctx context.Context) domain.RegistryStats

	// Sweep removes zero-participant rooms older than retention and
	// returns how many were removed. Idempotent; safe to invoke
	// synchronously from tests.
	Sweep(ctx context.Context, retention time.Duration) int
}
