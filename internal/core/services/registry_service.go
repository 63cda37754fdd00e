package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/core/ports"
	"github.com/anmol0706/VC/internal/protocol"

	"go.uber.org/zap"
)

type participant struct {
	identity domain.Identity
	name     string
	conn     ports.ClientConn
	joinedAt time.Time
}

type room struct {
	id        domain.RoomID
	createdAt time.Time

	mu           sync.Mutex
	participants map[domain.Identity]*participant
	// removed marks a room that has been deleted from the registry map
	// while a concurrent Join held a stale pointer to it.
	removed bool
}

// Registry is the single-process room/participant store. Mutations on a
// given room are serialized by the room's own mutex; operations on
// different rooms do not block each other.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room

	logger *zap.SugaredLogger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[domain.RoomID]*room),
		logger: logger.Sugar(),
	}
}

var _ ports.Registry = (*Registry)(nil)

func (r *Registry) getOrCreateRoom(roomID domain.RoomID) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := &room{
		id:           roomID,
		createdAt:    time.Now(),
		participants: make(map[domain.Identity]*participant),
	}
	r.rooms[roomID] = rm
	return rm, true
}

func (r *Registry) getRoom(roomID domain.RoomID) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// Join implements ports.Registry. A rejoin under the same identity replaces
// the stale connection handle silently: no member-joined notice, member
// count unchanged. The orphaned connection's eventual disconnect resolves
// to nothing and becomes a no-op.
func (r *Registry) Join(ctx context.Context, roomID domain.RoomID, identity domain.Identity, name string, conn ports.ClientConn) ([]domain.Member, error) {
	if name == "" {
		name = string(identity)
	}

	for {
		rm, created := r.getOrCreateRoom(roomID)

		rm.mu.Lock()
		if rm.removed {
			// Lost a race with empty-room deletion; start over with a
			// fresh room object.
			rm.mu.Unlock()
			continue
		}

		if prev, ok := rm.participants[identity]; ok {
			// Reconnection: same identity under a new transport handle.
			r.logger.Debugw("participant reconnected, orphaning old connection",
				"room_id", roomID,
				"identity", identity,
				"old_conn_id", prev.conn.ID(),
				"new_conn_id", conn.ID(),
			)
			prev.conn = conn
			prev.name = name
			members := rm.snapshotExcluding(identity)
			rm.mu.Unlock()
			return members, nil
		}

		// Capacity check before mutation; the cap excludes the joiner, so
		// the room never exceeds MaxRoomSize in total.
		if len(rm.participants) >= domain.MaxRoomSize {
			rm.mu.Unlock()
			return nil, domain.ErrRoomFull
		}

		rm.participants[identity] = &participant{
			identity: identity,
			name:     name,
			conn:     conn,
			joinedAt: time.Now(),
		}
		members := rm.snapshotExcluding(identity)

		notice := protocol.MemberJoined(identity, name)
		for id, p := range rm.participants {
			if id == identity {
				continue
			}
			if err := p.conn.Send(notice); err != nil {
				r.logger.Warnw("failed to notify member of arrival",
					"room_id", roomID,
					"member", id,
					"error", err,
				)
			}
		}
		rm.mu.Unlock()

		r.logger.Infow("participant joined room",
			"room_id", roomID,
			"identity", identity,
			"room_created", created,
			"members", len(members),
		)
		return members, nil
	}
}

// Leave implements ports.Registry. Leaving an absent room or identity is a
// benign race, not an error.
func (r *Registry) Leave(ctx context.Context, roomID domain.RoomID, identity domain.Identity) {
	r.removeParticipant(roomID, identity, "")
}

// Disconnect implements ports.Registry. Resolution is by linear scan over
// all rooms, which is acceptable at this scale. The connection is removed
// only if it is still the live handle for its identity; a handle already
// replaced by a reconnection finds the identity gone and is a no-op.
func (r *Registry) Disconnect(ctx context.Context, connID string) {
	type hit struct {
		roomID   domain.RoomID
		identity domain.Identity
	}
	var found *hit

	r.mu.RLock()
	for roomID, rm := range r.rooms {
		rm.mu.Lock()
		for id, p := range rm.participants {
			if p.conn.ID() == connID {
				found = &hit{roomID: roomID, identity: id}
				break
			}
		}
		rm.mu.Unlock()
		if found != nil {
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		r.logger.Debugw("disconnect for unknown connection", "conn_id", connID)
		return
	}
	r.removeParticipant(found.roomID, found.identity, connID)
}

// removeParticipant removes identity from roomID and broadcasts
// member-left to the remaining members. When connID is non-empty the
// removal only applies if that handle is still current (disconnect of an
// orphaned connection must not evict the reconnected participant).
func (r *Registry) removeParticipant(roomID domain.RoomID, identity domain.Identity, connID string) {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return
	}

	rm.mu.Lock()
	p, ok := rm.participants[identity]
	if !ok || (connID != "" && p.conn.ID() != connID) {
		rm.mu.Unlock()
		return
	}
	delete(rm.participants, identity)
	empty := len(rm.participants) == 0

	notice := protocol.MemberLeft(identity)
	for id, rest := range rm.participants {
		if err := rest.conn.Send(notice); err != nil {
			r.logger.Warnw("failed to notify member of departure",
				"room_id", roomID,
				"member", id,
				"error", err,
			)
		}
	}
	rm.mu.Unlock()

	r.logger.Infow("participant left room", "room_id", roomID, "identity", identity)

	if empty {
		r.deleteIfEmpty(roomID)
	}
}

// deleteIfEmpty removes the room from the registry map if it is still
// present and still empty. Lock order is registry then room, matching the
// join path.
func (r *Registry) deleteIfEmpty(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.participants) > 0 {
		return
	}
	rm.removed = true
	delete(r.rooms, roomID)
	r.logger.Infow("room deleted", "room_id", roomID)
}

// Route implements ports.Registry.
func (r *Registry) Route(ctx context.Context, roomID domain.RoomID, target domain.Identity) (ports.ClientConn, error) {
	rm, ok := r.getRoom(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.participants[target]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return p.conn, nil
}

// Stats implements ports.Registry.
func (r *Registry) Stats(ctx context.Context) domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.RegistryStats{}
	for _, rm := range r.rooms {
		rm.mu.Lock()
		n := len(rm.participants)
		rm.mu.Unlock()
		if n == 0 {
			// Empty rooms are logically deleted; never reported.
			continue
		}
		stats.RoomCount++
		stats.ParticipantCount += n
	}
	return stats
}

// Sweep implements ports.Registry. Empty rooms are normally deleted the
// moment their last participant leaves; the sweep catches rooms older than
// the retention window that still linger empty.
func (r *Registry) Sweep(ctx context.Context, retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	r.mu.RLock()
	var stale []domain.RoomID
	for roomID, rm := range r.rooms {
		rm.mu.Lock()
		if len(rm.participants) == 0 && rm.createdAt.Before(cutoff) {
			stale = append(stale, roomID)
		}
		rm.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, roomID := range stale {
		r.deleteIfEmpty(roomID)
	}
	if len(stale) > 0 {
		r.logger.Infow("swept stale empty rooms", "count", len(stale))
	}
	return len(stale)
}

// snapshotExcluding lists the room's members minus the given identity,
// ordered by join time for deterministic listing.
func (rm *room) snapshotExcluding(identity domain.Identity) []domain.Member {
	ordered := make([]*participant, 0, len(rm.participants))
	for id, p := range rm.participants {
		if id == identity {
			continue
		}
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].joinedAt.Equal(ordered[j].joinedAt) {
			return ordered[i].identity < ordered[j].identity
		}
		return ordered[i].joinedAt.Before(ordered[j].joinedAt)
	})

	members := make([]domain.Member, 0, len(ordered))
	for _, p := range ordered {
		members = append(members, domain.Member{Identity: p.identity, Name: p.name})
	}
	return members
}
