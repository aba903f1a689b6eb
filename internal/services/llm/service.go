package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
)

// Service implements interfaces.LLMService on top of the provider factory.
// Every call goes to the configured default provider and model.
type Service struct {
	factory    *ProviderFactory
	provider   ProviderType
	model      string
	timeout    time.Duration
	jsonOutput bool
	logger     arbor.ILogger
}

var _ interfaces.LLMService = (*Service)(nil)

// NewService builds an LLM service from application config
func NewService(config *common.Config, logger arbor.ILogger) (*Service, error) {
	timeout, err := common.ParseOptionalDuration(config.LLM.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid llm.timeout: %w", err)
	}

	factory := NewProviderFactory(&config.Gemini, &config.Claude, &config.LLM, logger)
	provider := ProviderType(config.LLM.DefaultProvider)
	if provider != ProviderClaude {
		provider = ProviderGemini
	}

	return &Service{
		factory:    factory,
		provider:   provider,
		model:      factory.GetDefaultModel(provider),
		timeout:    timeout,
		jsonOutput: config.LLM.JSONOutput,
		logger:     logger,
	}, nil
}

// Provider returns the provider all calls are routed to
func (s *Service) Provider() ProviderType {
	return s.provider
}

// Chat sends the conversation and returns the raw text reply
func (s *Service) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	model := s.model
	if s.provider == ProviderClaude && s.factory.DetectProvider(model) != ProviderClaude {
		model = "claude/" + model
	}
	if s.provider == ProviderGemini && s.factory.DetectProvider(model) != ProviderGemini {
		model = "gemini/" + model
	}

	start := time.Now()
	resp, err := s.factory.GenerateContent(ctx, &ContentRequest{
		Messages:   messages,
		Model:      model,
		JSONOutput: s.jsonOutput,
	})
	if err != nil {
		s.logger.Error().
			Str("provider", string(s.provider)).
			Err(err).
			Msg("LLM chat failed")
		return "", err
	}

	s.logger.Debug().
		Str("provider", string(resp.Provider)).
		Str("model", resp.Model).
		Dur("elapsed", time.Since(start)).
		Int("response_length", len(resp.Text)).
		Msg("LLM chat completed")

	return resp.Text, nil
}

// HealthCheck verifies credentials resolve and the provider client can be created
func (s *Service) HealthCheck(ctx context.Context) error {
	switch s.provider {
	case ProviderClaude:
		_, err := s.factory.GetClaudeClient(ctx)
		return err
	default:
		_, err := s.factory.GetGeminiClient(ctx)
		return err
	}
}

// Close releases provider clients
func (s *Service) Close() error {
	return s.factory.Close()
}
