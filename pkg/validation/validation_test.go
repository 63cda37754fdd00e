package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("room-1"))
	assert.NoError(t, ValidateRoomID("Team_Standup_2026"))

	assert.Error(t, ValidateRoomID(""))
	assert.Error(t, ValidateRoomID("room 1"))
	assert.Error(t, ValidateRoomID("room/1"))
	assert.Error(t, ValidateRoomID(strings.Repeat("r", 101)))

	// Padded values name a different key than their trimmed form and
	// would never route; they must be rejected, not silently accepted.
	assert.Error(t, ValidateRoomID(" room-1"))
	assert.Error(t, ValidateRoomID("room-1 "))
}

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, ValidateIdentity("alice"))
	assert.NoError(t, ValidateIdentity("user_42"))

	assert.Error(t, ValidateIdentity(""))
	assert.Error(t, ValidateIdentity("alice!"))
	assert.Error(t, ValidateIdentity(" alice"))
	assert.Error(t, ValidateIdentity("alice "))
	assert.Error(t, ValidateIdentity(strings.Repeat("a", 101)))
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Alice Liddell"))
	assert.NoError(t, ValidateDisplayName(strings.Repeat("n", 64)))

	assert.Error(t, ValidateDisplayName(strings.Repeat("n", 65)))
}
