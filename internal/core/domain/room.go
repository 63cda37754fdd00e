package domain

// RoomID is an opaque, externally supplied room key.
type RoomID string

// Identity is an opaque participant identity, unique within a room and
// stable across that participant's session. It is independent of the
// underlying transport connection.
type Identity string

// MaxRoomSize is the hard cap on participants per room. This is protocol
// policy, not configuration.
const MaxRoomSize = 4

// Member is the externally visible view of a room participant.
type Member struct {
	Identity Identity `json:"identity"`
	Name     string   `json:"name"`
}

// RegistryStats is a read-only snapshot for operational visibility.
type RegistryStats struct {
	RoomCount        int `json:"room_count"`
	ParticipantCount int `json:"participant_count"`
}
