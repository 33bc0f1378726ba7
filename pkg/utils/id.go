package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewSocketID names one signaling connection.
func NewSocketID() string {
	return "sock_" + uuid.NewString()
}

// NewInstanceID names one coordinator process on the event bus.
func NewInstanceID() string {
	return "inst_" + uuid.NewString()
}

// NewTraceID returns a compact id for log correlation.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
