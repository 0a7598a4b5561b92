// Package config loads the server and CLI settings from PROMPTGRAPH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envPrefix = "PROMPTGRAPH_"

	defaultHTTPAddr        = "127.0.0.1:8080"
	defaultShutdownTimeout = 5 * time.Second
	defaultLogFormat       = LogFormatText
	defaultLogLevel        = slog.LevelInfo
	defaultModelMode       = ModelModeMock
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultMaxRounds       = 5
	defaultMaxToolCalls    = 5
	defaultMaxParallel     = 4
	defaultRetryAttempts   = 1
	defaultRetryDelay      = time.Second
	defaultEventHistory    = 256
)

type ModelMode string

const (
	ModelModeMock   ModelMode = "mock"
	ModelModeOpenAI ModelMode = "openai"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config controls runtime wiring, HTTP boot and shutdown behavior.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogFormat       LogFormat
	LogLevel        slog.Level

	ModelMode     ModelMode
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// CatalogPath names an HCL file of prompt executables. Empty disables it.
	CatalogPath string
	// SessionDir selects the file session store. Empty keeps sessions in memory.
	SessionDir string
	// MCPCommand starts a stdio MCP server whose tools join the registry.
	MCPCommand string

	MaxRounds     int
	MaxToolCalls  int
	MaxParallel   int
	RetryAttempts int
	RetryDelay    time.Duration
	EventHistory  int
}

// Load reads runtime configuration from environment variables.
func Load() (Config, error) {
	cfg := Default()

	if addr := env("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if err := durationVar("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if level := env("LOG_LEVEL"); level != "" {
		parsed, err := parseLogLevel(level)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = parsed
	}
	if format := env("LOG_FORMAT"); format != "" {
		parsed, err := parseLogFormat(format)
		if err != nil {
			return Config{}, err
		}
		cfg.LogFormat = parsed
	}

	if mode := env("MODEL_MODE"); mode != "" {
		cfg.ModelMode = ModelMode(strings.ToLower(mode))
	}
	if key := env("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
	}
	if model := env("OPENAI_MODEL"); model != "" {
		cfg.OpenAIModel = model
	}
	if baseURL := env("OPENAI_BASE_URL"); baseURL != "" {
		cfg.OpenAIBaseURL = baseURL
	}
	cfg.CatalogPath = env("CATALOG_PATH")
	cfg.SessionDir = env("SESSION_DIR")
	cfg.MCPCommand = env("MCP_COMMAND")

	for _, v := range []struct {
		name string
		dst  *int
	}{
		{"MAX_ROUNDS", &cfg.MaxRounds},
		{"MAX_TOOL_CALLS", &cfg.MaxToolCalls},
		{"MAX_PARALLEL", &cfg.MaxParallel},
		{"RETRY_ATTEMPTS", &cfg.RetryAttempts},
		{"EVENT_HISTORY", &cfg.EventHistory},
	} {
		if err := intVar(v.name, v.dst); err != nil {
			return Config{}, err
		}
	}
	if err := durationVar("RETRY_DELAY", &cfg.RetryDelay); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Default() Config {
	return Config{
		HTTPAddr:        defaultHTTPAddr,
		ShutdownTimeout: defaultShutdownTimeout,
		LogFormat:       defaultLogFormat,
		LogLevel:        defaultLogLevel,
		ModelMode:       defaultModelMode,
		OpenAIModel:     defaultOpenAIModel,
		OpenAIBaseURL:   defaultOpenAIBaseURL,
		MaxRounds:       defaultMaxRounds,
		MaxToolCalls:    defaultMaxToolCalls,
		MaxParallel:     defaultMaxParallel,
		RetryAttempts:   defaultRetryAttempts,
		RetryDelay:      defaultRetryDelay,
		EventHistory:    defaultEventHistory,
	}
}

func (c Config) Validate() error {
	switch c.ModelMode {
	case ModelModeMock:
	case ModelModeOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return errors.New("validate config: openai mode requires PROMPTGRAPH_OPENAI_API_KEY")
		}
		if strings.TrimSpace(c.OpenAIModel) == "" {
			return errors.New("validate config: openai mode requires PROMPTGRAPH_OPENAI_MODEL")
		}
		if strings.TrimSpace(c.OpenAIBaseURL) == "" {
			return errors.New("validate config: openai mode requires PROMPTGRAPH_OPENAI_BASE_URL")
		}
	default:
		return fmt.Errorf(
			"validate config: unsupported PROMPTGRAPH_MODEL_MODE %q (allowed: %q, %q)",
			c.ModelMode,
			ModelModeMock,
			ModelModeOpenAI,
		)
	}

	if c.ShutdownTimeout <= 0 {
		return errors.New("validate config: PROMPTGRAPH_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("validate config: PROMPTGRAPH_RETRY_DELAY must be >= 0")
	}
	for _, limit := range []struct {
		name  string
		value int
	}{
		{"MAX_ROUNDS", c.MaxRounds},
		{"MAX_TOOL_CALLS", c.MaxToolCalls},
		{"MAX_PARALLEL", c.MaxParallel},
		{"RETRY_ATTEMPTS", c.RetryAttempts},
		{"EVENT_HISTORY", c.EventHistory},
	} {
		if limit.value <= 0 {
			return fmt.Errorf("validate config: %s%s must be > 0", envPrefix, limit.name)
		}
	}

	switch c.LogLevel {
	case slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError:
	default:
		return fmt.Errorf(
			"validate config: unsupported PROMPTGRAPH_LOG_LEVEL %q (allowed: %q, %q, %q, %q)",
			c.LogLevel.String(),
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf(
			"validate config: unsupported PROMPTGRAPH_LOG_FORMAT %q (allowed: %q, %q)",
			c.LogFormat,
			LogFormatText,
			LogFormatJSON,
		)
	}
	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func durationVar(name string, dst *time.Duration) error {
	raw := env(name)
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	*dst = parsed
	return nil
}

func intVar(name string, dst *int) error {
	raw := env(name)
	if raw == "" {
		return nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	*dst = parsed
	return nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"parse PROMPTGRAPH_LOG_LEVEL: unsupported value %q (allowed: %q, %q, %q, %q)",
			input,
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}
}

func parseLogFormat(input string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf(
			"parse PROMPTGRAPH_LOG_FORMAT: unsupported value %q (allowed: %q, %q)",
			input,
			LogFormatText,
			LogFormatJSON,
		)
	}
}
