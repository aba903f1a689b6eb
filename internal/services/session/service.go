package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/kline"
)

// Service caches per-request results between the step endpoints. Entries live
// for the configured TTL; expired entries are dropped on read and by a
// scheduled sweep.
type Service struct {
	storage  interfaces.SessionStorage
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   arbor.ILogger

	mu sync.Mutex // serializes read-modify-write upserts
}

// NewService creates a session service from config
func NewService(storage interfaces.SessionStorage, config common.SessionConfig, logger arbor.ILogger) (*Service, error) {
	ttl, err := config.TTLDuration()
	if err != nil {
		return nil, err
	}
	if err := common.ValidateSweepSchedule(config.SweepSchedule); err != nil {
		return nil, err
	}

	return &Service{
		storage:  storage,
		ttl:      ttl,
		schedule: config.SweepSchedule,
		cron:     cron.New(),
		now:      time.Now,
		logger:   logger,
	}, nil
}

// TTL returns how long entries stay live
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Get returns the live session for requestID. An expired entry is deleted and
// reported as interfaces.ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, requestID string) (*models.FateSession, error) {
	session, err := s.storage.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if session.Expired(s.now(), s.ttl) {
		if err := s.storage.Delete(ctx, requestID); err != nil {
			s.logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to delete expired session")
		}
		return nil, interfaces.ErrSessionNotFound
	}
	return session, nil
}

// update loads the live session (or starts a new one), applies fn and saves it
func (s *Service) update(ctx context.Context, requestID string, fn func(*models.FateSession)) error {
	if requestID == "" {
		return fmt.Errorf("request id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.Get(ctx, requestID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		session = &models.FateSession{RequestID: requestID, CreatedAt: s.now()}
	} else if err != nil {
		return err
	}

	fn(session)

	if err := s.storage.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to save session %s: %w", requestID, err)
	}
	return nil
}

// UpsertBaseline stores the chart and baseline, keeping any cached K-line
func (s *Service) UpsertBaseline(ctx context.Context, requestID string, bazi *models.BaZiInfo, baseline int, analysis string) error {
	return s.update(ctx, requestID, func(session *models.FateSession) {
		session.BaZi = bazi
		session.Baseline = &baseline
		session.BaselineAnalysis = analysis
	})
}

// UpsertKLine stores a K-line and the items it came from, keeping the cached
// baseline. A nil bazi leaves the cached chart in place.
func (s *Service) UpsertKLine(ctx context.Context, requestID string, bazi *models.BaZiInfo, items []kline.CandidateItem, points []kline.Point) error {
	return s.update(ctx, requestID, func(session *models.FateSession) {
		if bazi != nil {
			session.BaZi = bazi
		}
		session.YearlyItems = items
		session.KLine = points
	})
}

// UpsertReport stores the narrative report
func (s *Service) UpsertReport(ctx context.Context, requestID string, bazi *models.BaZiInfo, report *models.AnalysisReport) error {
	return s.update(ctx, requestID, func(session *models.FateSession) {
		if bazi != nil {
			session.BaZi = bazi
		}
		session.Report = report
	})
}

// Sweep deletes every expired session and returns how many were removed
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.storage.DeleteCreatedBefore(ctx, s.now().Add(-s.ttl))
}

// Start schedules the expiry sweep. An empty schedule disables it.
func (s *Service) Start() error {
	if s.schedule == "" {
		s.logger.Info().Msg("Session sweep disabled (no schedule)")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		common.SafeGo(s.logger, "session-sweep", s.runSweep)
	})
	if err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("ttl", s.ttl).
		Msg("Session sweep scheduled")
	return nil
}

func (s *Service) runSweep() {
	deleted, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Expired sessions swept")
	}
}

// Stop halts the sweep scheduler and waits for a running sweep to return
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}
