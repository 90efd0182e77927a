// Package config loads server settings.
//
// Settings are layered: built-in defaults, then an optional TOML or YAML file,
// then the environment (after loading a .env file if one exists). Provider
// credentials are deliberately absent; they are read from the environment on
// every generation call.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvOutputDir     = "IMAGEGEN_MCP_OUTPUT_DIR"
	EnvTimeout       = "IMAGEGEN_MCP_TIMEOUT"
	EnvLogLevel      = "IMAGEGEN_MCP_LOG_LEVEL"
	EnvWorkers       = "IMAGEGEN_MCP_WORKERS"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvOpenAIModel   = "OPENAI_IMAGE_MODEL"
)

// Config is the resolved server configuration.
type Config struct {
	// OutputDir is the default directory for generated images.
	OutputDir string `toml:"output_dir" yaml:"output_dir"`

	// Timeout bounds each outbound HTTP request.
	Timeout time.Duration `toml:"-" yaml:"-"`

	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// Workers bounds concurrent tool calls.
	Workers int `toml:"workers" yaml:"workers"`

	OpenAI OpenAIConfig `toml:"openai" yaml:"openai"`
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	Model   string `toml:"model" yaml:"model"`
}

// fileConfig is the on-disk shape; durations are strings like "90s".
type fileConfig struct {
	OutputDir string       `toml:"output_dir" yaml:"output_dir"`
	Timeout   string       `toml:"timeout" yaml:"timeout"`
	LogLevel  string       `toml:"log_level" yaml:"log_level"`
	Workers   int          `toml:"workers" yaml:"workers"`
	OpenAI    OpenAIConfig `toml:"openai" yaml:"openai"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir: "generated_images",
		Timeout:   60 * time.Second,
		LogLevel:  "info",
		Workers:   4,
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-image-1",
		},
	}
}

// Load resolves the configuration. path may be empty. A .env file in the
// working directory is loaded first without overriding variables already set.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return fmt.Errorf("config load failed (%s): unsupported extension, use .toml, .yaml or .yml", path)
	}

	if raw.OutputDir != "" {
		cfg.OutputDir = raw.OutputDir
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.Workers != 0 {
		cfg.Workers = raw.Workers
	}
	if raw.OpenAI.BaseURL != "" {
		cfg.OpenAI.BaseURL = raw.OpenAI.BaseURL
	}
	if raw.OpenAI.Model != "" {
		cfg.OpenAI.Model = raw.OpenAI.Model
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvOutputDir); ok && v != "" {
		cfg.OutputDir = v
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvWorkers, err)
		}
		cfg.Workers = n
	}
	if v, ok := lookup(EnvOpenAIBaseURL); ok && v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v, ok := lookup(EnvOpenAIModel); ok && v != "" {
		cfg.OpenAI.Model = v
	}
	return nil
}
