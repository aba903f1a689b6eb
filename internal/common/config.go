package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Gemini      GeminiConfig  `toml:"gemini"`
	Claude      ClaudeConfig  `toml:"claude"`
	LLM         LLMConfig     `toml:"llm"`
	Engine      EngineConfig  `toml:"engine"`
	Fate        FateConfig    `toml:"fate"`
	Session     SessionConfig `toml:"session"`
	Export      ExportConfig  `toml:"export"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05"
	Dir        string   `toml:"dir"`         // log directory for file output (default: next to the executable)
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	RateLimit   string  `toml:"rate_limit"` // minimum interval between requests, e.g. "4s"
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains provider-independent LLM settings
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
	Timeout         string      `toml:"timeout"`     // per-call timeout, e.g. "3m"
	JSONOutput      bool        `toml:"json_output"` // request JSON MIME output where supported
}

// EngineConfig controls the K-line engine
type EngineConfig struct {
	RuleLength   int    `toml:"rule_length"`   // points in a fact-driven series (default 100)
	RepairLength int    `toml:"repair_length"` // points in a repaired series (default 80)
	Seed         int64  `toml:"seed"`          // seed used when fixed_seed is set
	FixedSeed    bool   `toml:"fixed_seed"`    // ignore request ids and always use seed
	RulesFile    string `toml:"rules_file"`    // optional TOML overriding the quantization rules
}

// FateConfig controls the LLM-backed fate service
type FateConfig struct {
	FallbackEnabled bool `toml:"fallback_enabled"` // substitute defaults when generation fails
	MaxFactsAge     int  `toml:"max_facts_age"`    // ages requested from the facts prompt
}

// SessionConfig controls the request session cache
type SessionConfig struct {
	TTL           string `toml:"ttl"`            // e.g. "30m"
	SweepSchedule string `toml:"sweep_schedule"` // cron expression for the expiry sweep
}

// ExportConfig controls PDF export
type ExportConfig struct {
	FontPath string `toml:"font_path"` // UTF-8 TTF for CJK text; optional
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/fateline",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			RateLimit:   "4s", // 15 RPM free tier
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   8192,
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
			Timeout:         "3m",
			JSONOutput:      true,
		},
		Engine: EngineConfig{
			RuleLength:   100,
			RepairLength: 80,
			Seed:         42,
		},
		Fate: FateConfig{
			FallbackEnabled: true,
			MaxFactsAge:     100,
		},
		Session: SessionConfig{
			TTL:           "30m",
			SweepSchedule: "*/5 * * * *",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies FATELINE_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FATELINE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("FATELINE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FATELINE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("FATELINE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging
	if level := os.Getenv("FATELINE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FATELINE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Gemini
	if model := os.Getenv("FATELINE_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if rateLimit := os.Getenv("FATELINE_GEMINI_RATE_LIMIT"); rateLimit != "" {
		config.Gemini.RateLimit = rateLimit
	}

	// Claude
	if model := os.Getenv("FATELINE_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if rateLimit := os.Getenv("FATELINE_CLAUDE_RATE_LIMIT"); rateLimit != "" {
		config.Claude.RateLimit = rateLimit
	}

	// LLM
	if provider := os.Getenv("FATELINE_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if timeout := os.Getenv("FATELINE_LLM_TIMEOUT"); timeout != "" {
		config.LLM.Timeout = timeout
	}

	// Engine
	if seed := os.Getenv("FATELINE_ENGINE_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			config.Engine.Seed = s
			config.Engine.FixedSeed = true
		}
	}
	if rulesFile := os.Getenv("FATELINE_ENGINE_RULES_FILE"); rulesFile != "" {
		config.Engine.RulesFile = rulesFile
	}

	// Fate
	if fallback := os.Getenv("FATELINE_FATE_FALLBACK_ENABLED"); fallback != "" {
		if f, err := strconv.ParseBool(fallback); err == nil {
			config.Fate.FallbackEnabled = f
		}
	}

	// Session
	if ttl := os.Getenv("FATELINE_SESSION_TTL"); ttl != "" {
		config.Session.TTL = ttl
	}

	// Export
	if fontPath := os.Getenv("FATELINE_EXPORT_FONT_PATH"); fontPath != "" {
		config.Export.FontPath = fontPath
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Engine.RuleLength <= 0 {
		return fmt.Errorf("engine.rule_length must be positive, got %d", c.Engine.RuleLength)
	}
	if c.Engine.RepairLength <= 0 {
		return fmt.Errorf("engine.repair_length must be positive, got %d", c.Engine.RepairLength)
	}
	if c.Fate.MaxFactsAge <= 0 {
		return fmt.Errorf("fate.max_facts_age must be positive, got %d", c.Fate.MaxFactsAge)
	}
	if _, err := c.Session.TTLDuration(); err != nil {
		return err
	}
	if err := ValidateSweepSchedule(c.Session.SweepSchedule); err != nil {
		return fmt.Errorf("session.sweep_schedule: %w", err)
	}
	for _, d := range []struct{ name, value string }{
		{"gemini.rate_limit", c.Gemini.RateLimit},
		{"claude.rate_limit", c.Claude.RateLimit},
		{"llm.timeout", c.LLM.Timeout},
	} {
		if _, err := ParseOptionalDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// TTLDuration parses the session TTL. Zero disables expiry.
func (s SessionConfig) TTLDuration() (time.Duration, error) {
	d, err := ParseOptionalDuration(s.TTL)
	if err != nil {
		return 0, fmt.Errorf("session.ttl: %w", err)
	}
	return d, nil
}

// ParseOptionalDuration parses a duration string, treating empty as zero
func ParseOptionalDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}

// ResolveAPIKey resolves an API key by name with environment variable priority
// Resolution order: environment variables → config fallback → error
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":    {"FATELINE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic_api_key": {"FATELINE_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	for _, envVarName := range keyToEnvMapping[name] {
		if envValue := os.Getenv(envVarName); envValue != "" {
			return envValue, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ValidateSweepSchedule validates a cron expression (standard five fields or a descriptor such as @every 5m)
func ValidateSweepSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
