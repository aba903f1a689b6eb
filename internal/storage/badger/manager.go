package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	sessions interfaces.SessionStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return &Manager{
		db:       db,
		sessions: NewSessionStorage(db, logger),
		logger:   logger,
	}, nil
}

// SessionStorage returns the session storage
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.sessions
}

// Close closes the database
func (m *Manager) Close() error {
	return m.db.Close()
}
