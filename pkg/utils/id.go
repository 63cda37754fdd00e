package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateConnID generates a unique transport connection handle ID.
func GenerateConnID() string {
	return fmt.Sprintf("conn_%s", uuid.NewString())
}

// GenerateIdentity generates a participant identity for clients that
// do not supply their own.
func GenerateIdentity() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("user_%d_%s", time.Now().Unix(), hex.EncodeToString(b))
}
