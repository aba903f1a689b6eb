package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID generates a request id for a fate session
func NewRequestID() string {
	return uuid.New().String()
}

// EnsureRequestID returns id trimmed, or a new one when it is blank
func EnsureRequestID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return NewRequestID()
}
