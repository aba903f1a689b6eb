package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
)

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func normalizeID(requestID string) string {
	return strings.TrimSpace(requestID)
}

// Get retrieves a session by request id
func (s *SessionStorage) Get(ctx context.Context, requestID string) (*models.FateSession, error) {
	var session models.FateSession
	err := s.db.Store().Get(normalizeID(requestID), &session)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Save inserts or replaces a session
func (s *SessionStorage) Save(ctx context.Context, session *models.FateSession) error {
	if session == nil || normalizeID(session.RequestID) == "" {
		return fmt.Errorf("session request id is required")
	}
	session.RequestID = normalizeID(session.RequestID)

	if err := s.db.Store().Upsert(session.RequestID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session; a missing session is not an error
func (s *SessionStorage) Delete(ctx context.Context, requestID string) error {
	err := s.db.Store().Delete(normalizeID(requestID), models.FateSession{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteCreatedBefore removes every session created before cutoff
func (s *SessionStorage) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CreatedAt").Lt(cutoff)

	count, err := s.db.Store().Count(&models.FateSession{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.FateSession{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	s.logger.Debug().Int("deleted", int(count)).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Expired sessions deleted")
	return int(count), nil
}

// Count returns the number of stored sessions
func (s *SessionStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.FateSession{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(count), nil
}
