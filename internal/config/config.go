// Package config provides configuration loading for taskd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. This package covers the HTTP server, observability, the
// document store, the pipeline, completion backends, and VCS publishing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete taskd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Data          DataConfig          `koanf:"data"`
	Store         StoreConfig         `koanf:"store"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Completion    CompletionConfig    `koanf:"completion"`
	VCS           VCSConfig           `koanf:"vcs"`
	Monitor       MonitorConfig       `koanf:"monitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// DataConfig locates taskd's on-disk state. Tasks, collections, and the
// inbox all live under Dir.
type DataConfig struct {
	Dir string `koanf:"dir"`
}

// StoreConfig holds document store tuning.
type StoreConfig struct {
	LockTimeout     Duration `koanf:"lock_timeout"`
	MaxDocumentKB   int      `koanf:"max_document_kb"`
	DefaultPageSize int      `koanf:"default_page_size"`
	MaxPageSize     int      `koanf:"max_page_size"`
}

// PipelineConfig holds task pipeline tuning.
type PipelineConfig struct {
	Workspace   string   `koanf:"workspace"`
	RolesFile   string   `koanf:"roles_file"`
	StepTimeout Duration `koanf:"step_timeout"`
	MaxSteps    int      `koanf:"max_steps"`
}

// CompletionConfig selects and configures the model backend used for
// planning and step execution.
type CompletionConfig struct {
	Provider          string  `koanf:"provider"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	OpenAIBaseURL     string  `koanf:"openai_base_url"`
	OpenAIModel       string  `koanf:"openai_model"`
	OpenAIAPIKey      Secret  `koanf:"openai_api_key"`
	GeminiModel       string  `koanf:"gemini_model"`
	GeminiAPIKey      Secret  `koanf:"gemini_api_key"`
}

// VCSConfig holds version control publishing configuration. Token is the
// hosting provider API token used to open pull requests. Owner and Repo
// override the values parsed from the origin remote URL.
type VCSConfig struct {
	Remote       string `koanf:"remote"`
	BaseBranch   string `koanf:"base_branch"`
	Push         bool   `koanf:"push"`
	Owner        string `koanf:"owner"`
	Repo         string `koanf:"repo"`
	Token        Secret `koanf:"token"`
	CommitAuthor string `koanf:"commit_author"`
	CommitEmail  string `koanf:"commit_email"`
}

// MonitorConfig holds inbox watcher configuration. Dir defaults to
// <data.dir>/inbox when empty.
type MonitorConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Dir      string   `koanf:"dir"`
	Debounce Duration `koanf:"debounce"`
}

// Completion provider names accepted by Config.Validate.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// DefaultDataDir returns the default on-disk state location,
// ~/.config/taskd/data.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "taskd", "data"), nil
}

// InboxDir returns the monitor inbox directory, deriving it from the
// data directory when not set explicitly.
func (c *Config) InboxDir() string {
	if c.Monitor.Dir != "" {
		return c.Monitor.Dir
	}
	return filepath.Join(c.Data.Dir, "inbox")
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty when telemetry is enabled
//   - Store page sizes are inconsistent or exceed the 500 cap
//   - Completion provider is not a known backend
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Data.Dir == "" {
		return errors.New("data directory must be set")
	}

	if c.Store.LockTimeout.Duration() <= 0 {
		return errors.New("store lock timeout must be positive")
	}
	if c.Store.MaxPageSize < 1 || c.Store.MaxPageSize > 500 {
		return fmt.Errorf("invalid max page size: %d (must be 1-500)", c.Store.MaxPageSize)
	}
	if c.Store.DefaultPageSize < 1 || c.Store.DefaultPageSize > c.Store.MaxPageSize {
		return fmt.Errorf("invalid default page size: %d (must be 1-%d)", c.Store.DefaultPageSize, c.Store.MaxPageSize)
	}
	if c.Store.MaxDocumentKB < 1 {
		return fmt.Errorf("invalid max document size: %dKB", c.Store.MaxDocumentKB)
	}

	if c.Pipeline.MaxSteps < 1 {
		return fmt.Errorf("invalid max steps: %d", c.Pipeline.MaxSteps)
	}
	if c.Pipeline.StepTimeout.Duration() <= 0 {
		return errors.New("step timeout must be positive")
	}

	switch c.Completion.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderScripted:
	default:
		return fmt.Errorf("unknown completion provider: %q", c.Completion.Provider)
	}
	if c.Completion.Provider == ProviderOpenAI && !c.Completion.OpenAIAPIKey.IsSet() && c.Completion.OpenAIBaseURL == "" {
		return errors.New("openai provider requires an API key or a base URL")
	}
	if c.Completion.Provider == ProviderGemini && !c.Completion.GeminiAPIKey.IsSet() {
		return errors.New("gemini provider requires an API key")
	}
	if c.Completion.RequestsPerSecond < 0 {
		return errors.New("completion rate limit cannot be negative")
	}

	if c.Monitor.Debounce.Duration() < 0 {
		return errors.New("monitor debounce cannot be negative")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "taskd"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "console"
	}

	// Data defaults
	if cfg.Data.Dir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			cfg.Data.Dir = dir
		}
	}

	// Store defaults
	if cfg.Store.LockTimeout == 0 {
		cfg.Store.LockTimeout = Duration(5 * time.Second)
	}
	if cfg.Store.MaxDocumentKB == 0 {
		cfg.Store.MaxDocumentKB = 1024
	}
	if cfg.Store.DefaultPageSize == 0 {
		cfg.Store.DefaultPageSize = 100
	}
	if cfg.Store.MaxPageSize == 0 {
		cfg.Store.MaxPageSize = 500
	}

	// Pipeline defaults
	if cfg.Pipeline.Workspace == "" {
		cfg.Pipeline.Workspace = "."
	}
	if cfg.Pipeline.StepTimeout == 0 {
		cfg.Pipeline.StepTimeout = Duration(2 * time.Minute)
	}
	if cfg.Pipeline.MaxSteps == 0 {
		cfg.Pipeline.MaxSteps = 20
	}

	// Completion defaults (scripted is the default - embedded, no external deps)
	if cfg.Completion.Provider == "" {
		cfg.Completion.Provider = ProviderScripted
	}
	if cfg.Completion.OpenAIModel == "" {
		cfg.Completion.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.Completion.GeminiModel == "" {
		cfg.Completion.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.Completion.Burst == 0 {
		cfg.Completion.Burst = 1
	}

	// VCS defaults
	if cfg.VCS.Remote == "" {
		cfg.VCS.Remote = "origin"
	}
	if cfg.VCS.BaseBranch == "" {
		cfg.VCS.BaseBranch = "main"
	}
	if cfg.VCS.CommitAuthor == "" {
		cfg.VCS.CommitAuthor = "taskd"
	}
	if cfg.VCS.CommitEmail == "" {
		cfg.VCS.CommitEmail = "taskd@localhost"
	}

	// Monitor defaults
	if cfg.Monitor.Debounce == 0 {
		cfg.Monitor.Debounce = Duration(500 * time.Millisecond)
	}
}
