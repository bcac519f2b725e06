package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix.
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// NewConnectionID returns an opaque id for a new real-time connection.
func NewConnectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// NewRoomID returns an opaque room id such as "room_<uuid>".
func NewRoomID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func NewRequestID() string {
	return uuid.NewString()
}

// GenerateRequestID returns an id for an HTTP request.
func GenerateRequestID() string {
	return GenerateID("req")
}
