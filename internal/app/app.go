package app

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/handlers"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/services/export"
	"github.com/ternarybob/fateline/internal/services/fate"
	"github.com/ternarybob/fateline/internal/services/kline"
	"github.com/ternarybob/fateline/internal/services/llm"
	"github.com/ternarybob/fateline/internal/services/session"
	"github.com/ternarybob/fateline/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// K-line engine with the active quantization rules
	Engine *kline.Engine

	// LLM service (Gemini or Claude)
	LLMService interfaces.LLMService

	FateService    *fate.Service
	SessionService *session.Service
	ExportService  *export.Service

	// HTTP handlers
	FateHandler   *handlers.FateHandler
	SystemHandler *handlers.SystemHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.SessionService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start session sweeper: %w", err)
	}

	logger.Info().
		Str("llm_provider", string(cfg.LLM.DefaultProvider)).
		Int("rule_length", cfg.Engine.RuleLength).
		Int("repair_length", cfg.Engine.RepairLength).
		Bool("fallback_enabled", cfg.Fate.FallbackEnabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// LoadRules returns the quantization rules from path, or the defaults when
// path is empty. An invalid rules file is an error, never a silent fallback.
func LoadRules(path string) (*kline.QuantRules, error) {
	if path == "" {
		return kline.DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	set, err := kline.ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return kline.NewQuantRules(set)
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	rules, err := LoadRules(a.Config.Engine.RulesFile)
	if err != nil {
		return err
	}
	a.Engine, err = kline.NewEngine(rules)
	if err != nil {
		return fmt.Errorf("failed to create K-line engine: %w", err)
	}
	if a.Config.Engine.RulesFile != "" {
		a.Logger.Info().Str("rules_file", a.Config.Engine.RulesFile).Msg("Loaded quantization rules")
	}

	llmService, err := llm.NewService(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}
	a.LLMService = llmService

	a.FateService = fate.NewService(
		a.LLMService,
		a.Engine,
		a.Config.Engine,
		a.Config.Fate,
		a.Logger,
	)

	a.SessionService, err = session.NewService(a.StorageManager.SessionStorage(), a.Config.Session, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	a.ExportService = export.NewService(a.Config.Export, a.Logger)

	return nil
}

// initHandlers wires the HTTP handlers to their services
func (a *App) initHandlers() {
	a.FateHandler = handlers.NewFateHandler(a.FateService, a.SessionService, a.ExportService, a.Logger)
	a.SystemHandler = handlers.NewSystemHandler(a.LLMService, a.StorageManager.SessionStorage(), a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.SessionService != nil {
		a.SessionService.Stop()
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		} else {
			a.Logger.Info().Msg("LLM service closed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
