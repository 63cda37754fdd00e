package validation

import (
	"fmt"
	"regexp"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// IdentityRegex validates participant identity format
	IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomID validates a room ID. The raw string is checked as-is:
// callers store and route on it untrimmed, so a padded value must fail
// here rather than validate as a different room.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room id is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateIdentity validates a participant identity, checked as-is like
// room IDs.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > 100 {
		return fmt.Errorf("identity is too long (max 100 characters)")
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("identity contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates an optional display name
func ValidateDisplayName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 64 {
		return fmt.Errorf("display name is too long (max 64 characters)")
	}
	return nil
}
