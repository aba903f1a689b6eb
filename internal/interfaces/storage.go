package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/fateline/internal/models"
)

// ErrSessionNotFound is returned when no live session exists for a request id
var ErrSessionNotFound = errors.New("session not found")

// SessionStorage persists per-request fate sessions
type SessionStorage interface {
	// Get returns the session for requestID, or ErrSessionNotFound
	Get(ctx context.Context, requestID string) (*models.FateSession, error)
	// Save inserts or replaces a session
	Save(ctx context.Context, session *models.FateSession) error
	// Delete removes a session; deleting a missing session is not an error
	Delete(ctx context.Context, requestID string) error
	// DeleteCreatedBefore removes sessions created before cutoff and returns how many were removed
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Count returns the number of stored sessions
	Count(ctx context.Context) (int, error)
}

// StorageManager owns the database and the storages built on it
type StorageManager interface {
	SessionStorage() SessionStorage
	Close() error
}
