// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for chatflow.
//
// Configuration is read from TOML with environment variable overrides
// applied on top, then validated. File location (in order of precedence):
//   - path given explicitly (--config)
//   - ~/.chatflow/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for environment overrides, e.g. CHATFLOW_CLOUD_KEY.
const envPrefix = "chatflow"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatflow configuration.
type Config struct {
	// DefaultProvider selects the provider used when none is given:
	// "openrouter" or "ollama".
	DefaultProvider string `toml:"default_provider"`

	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Cloud        CloudConfig        `toml:"cloud"`
	Local        LocalConfig        `toml:"local"`
	Tools        ToolsConfig        `toml:"tools"`
	Store        StoreConfig        `toml:"store"`
	Log          LogConfig          `toml:"log"`
}

// OrchestratorConfig tunes the conversation engine.
type OrchestratorConfig struct {
	// MaxDepth is the tool-call recursion ceiling per top-level call.
	MaxDepth int `toml:"max_depth"`
}

// CloudConfig configures the OpenRouter provider.
type CloudConfig struct {
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	Key     string `toml:"key"`
}

// LocalConfig configures the local Ollama provider.
type LocalConfig struct {
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

// ToolsConfig tunes tool dispatch.
type ToolsConfig struct {
	// TimeoutSecs is the per-call timeout applied when the caller carries
	// no deadline.
	TimeoutSecs int `toml:"timeout_secs"`

	// MaxOutput clamps tool output fed back into the conversation.
	MaxOutput int `toml:"max_output"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	// Enabled controls whether conversations are persisted at all.
	Enabled bool `toml:"enabled"`

	// Path is the SQLite database path, empty for the default under the
	// config directory.
	Path string `toml:"path"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `toml:"level"`

	// Format is "console" or "json".
	Format string `toml:"format"`
}

// Timeout returns the tool timeout as a duration.
func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DefaultProvider: "ollama",

		Orchestrator: OrchestratorConfig{
			MaxDepth: 10,
		},

		Cloud: CloudConfig{
			Model:   "anthropic/claude-3.5-sonnet",
			BaseURL: "https://openrouter.ai/api/v1",
		},

		Local: LocalConfig{
			Model:   "qwen2.5-coder:14b",
			BaseURL: "http://127.0.0.1:11434",
		},

		Tools: ToolsConfig{
			TimeoutSecs: 30,
			MaxOutput:   30000,
		},

		Store: StoreConfig{
			Enabled: true,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the chatflow configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatflow"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		cfg := Default()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		cfg.fillDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with env
// overrides and full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the given path with owner-only
// permissions, since it may carry an API key.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# chatflow configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// applyEnv applies CHATFLOW_* environment variable overrides.
func (c *Config) applyEnv() error {
	flat := struct {
		Provider      string `envconfig:"PROVIDER"`
		MaxDepth      int    `envconfig:"MAX_DEPTH"`
		CloudModel    string `envconfig:"CLOUD_MODEL"`
		CloudBaseURL  string `envconfig:"CLOUD_BASE_URL"`
		OpenRouterKey string `envconfig:"OPENROUTER_KEY"`
		LocalModel    string `envconfig:"LOCAL_MODEL"`
		OllamaURL     string `envconfig:"OLLAMA_URL"`
		ToolTimeout   int    `envconfig:"TOOL_TIMEOUT_SECS"`
		ToolMaxOutput int    `envconfig:"TOOL_MAX_OUTPUT"`
		StorePath     string `envconfig:"STORE_PATH"`
		LogLevel      string `envconfig:"LOG_LEVEL"`
		LogFormat     string `envconfig:"LOG_FORMAT"`
	}{}
	if err := envconfig.Process(envPrefix, &flat); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if flat.Provider != "" {
		c.DefaultProvider = flat.Provider
	}
	if flat.MaxDepth != 0 {
		c.Orchestrator.MaxDepth = flat.MaxDepth
	}
	if flat.CloudModel != "" {
		c.Cloud.Model = flat.CloudModel
	}
	if flat.CloudBaseURL != "" {
		c.Cloud.BaseURL = flat.CloudBaseURL
	}
	if flat.OpenRouterKey != "" {
		c.Cloud.Key = flat.OpenRouterKey
	}
	if flat.LocalModel != "" {
		c.Local.Model = flat.LocalModel
	}
	if flat.OllamaURL != "" {
		c.Local.BaseURL = flat.OllamaURL
	}
	if flat.ToolTimeout != 0 {
		c.Tools.TimeoutSecs = flat.ToolTimeout
	}
	if flat.ToolMaxOutput != 0 {
		c.Tools.MaxOutput = flat.ToolMaxOutput
	}
	if flat.StorePath != "" {
		c.Store.Path = flat.StorePath
	}
	if flat.LogLevel != "" {
		c.Log.Level = flat.LogLevel
	}
	if flat.LogFormat != "" {
		c.Log.Format = flat.LogFormat
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.DefaultProvider == "" {
		c.DefaultProvider = defaults.DefaultProvider
	}
	if c.Orchestrator.MaxDepth == 0 {
		c.Orchestrator.MaxDepth = defaults.Orchestrator.MaxDepth
	}
	if c.Cloud.Model == "" {
		c.Cloud.Model = defaults.Cloud.Model
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if c.Local.Model == "" {
		c.Local.Model = defaults.Local.Model
	}
	if c.Local.BaseURL == "" {
		c.Local.BaseURL = defaults.Local.BaseURL
	}
	if c.Tools.TimeoutSecs == 0 {
		c.Tools.TimeoutSecs = defaults.Tools.TimeoutSecs
	}
	if c.Tools.MaxOutput == 0 {
		c.Tools.MaxOutput = defaults.Tools.MaxOutput
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	validProviders := map[string]bool{"openrouter": true, "ollama": true}
	if !validProviders[strings.ToLower(c.DefaultProvider)] {
		errs = append(errs, ValidationError{
			Field:   "default_provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openrouter, ollama", c.DefaultProvider),
		})
	}

	if c.Orchestrator.MaxDepth < 1 || c.Orchestrator.MaxDepth > 100 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.max_depth",
			Message: fmt.Sprintf("must be 1-100, got %d", c.Orchestrator.MaxDepth),
		})
	}

	for field, raw := range map[string]string{
		"cloud.base_url": c.Cloud.BaseURL,
		"local.base_url": c.Local.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid URL '%s'", raw),
			})
		}
	}

	if c.Tools.TimeoutSecs < 1 || c.Tools.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "tools.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Tools.TimeoutSecs),
		})
	}
	if c.Tools.MaxOutput < 1 {
		errs = append(errs, ValidationError{
			Field:   "tools.max_output",
			Message: "must be positive",
		})
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be console or json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// DBPath resolves the SQLite database path, defaulting to the config
// directory.
func (c *Config) DBPath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatflow.db"), nil
}
