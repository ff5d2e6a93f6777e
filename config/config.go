// Package config loads the evrange configuration from a YAML or JSON file,
// an optional .env file and K_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/training"
	"github.com/kilianp07/evrange/infra/audit"
	"github.com/kilianp07/evrange/infra/monitoring"
	"github.com/kilianp07/evrange/infra/mqtt"
	"github.com/kilianp07/evrange/infra/telemetry"
)

type Config struct {
	Training  training.Config   `json:"training"`
	Data      DataConfig        `json:"data"`
	Artifacts ArtifactsConfig   `json:"artifacts"`
	Server    ServerConfig      `json:"server"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Metrics   metrics.Config    `json:"metrics"`
	Logging   LoggingConfig     `json:"logging"`
	History   HistoryConfig     `json:"history"`
	Sentry    monitoring.Config `json:"sentry"`
	Audit     audit.Config      `json:"audit"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	cfg := &Config{Training: training.DefaultConfig()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Training.SetDefaults()
	c.Data.SetDefaults()
	c.Artifacts.SetDefaults()
	c.Server.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
	c.History.SetDefaults()
	c.Audit.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"training", c.Training.Validate},
		{"data", c.Data.Validate},
		{"server", c.Server.Validate},
		{"mqtt", c.MQTT.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// Load reads path on top of the defaults. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides, e.g. K_TRAINING__EPOCHS=10.
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	// Only the training section is pre-populated: zero is a meaningful value
	// for dropout and seed, and decoding into defaulted slices would merge
	// rather than replace them.
	cfg := &Config{Training: training.DefaultConfig()}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DataConfig selects the telemetry source and how it is windowed.
type DataConfig struct {
	Processor dataset.ProcessorConfig `json:"processor"`
	Source    telemetry.SourceConfig  `json:"source"`
}

func (c *DataConfig) SetDefaults() {
	c.Processor.SetDefaults()
	c.Source.SetDefaults()
}

// Validate checks the processor settings. The source is checked by the train
// command since serve does not need one.
func (c DataConfig) Validate() error { return c.Processor.Validate() }

// ArtifactsConfig locates saved bundles and plots.
type ArtifactsConfig struct {
	Dir string `json:"dir"`
	// Bundle pins serve to one bundle directory. Empty uses the latest run.
	Bundle  string `json:"bundle"`
	PlotDir string `json:"plot_dir"`
}

func (c *ArtifactsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "artifacts"
	}
	if c.PlotDir == "" {
		c.PlotDir = c.Dir
	}
}

// ServerConfig configures the prediction HTTP server.
type ServerConfig struct {
	Addr               string   `json:"addr"`
	AllowedOrigins     []string `json:"allowed_origins"`
	ReadTimeoutSeconds int      `json:"read_timeout_seconds"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 10
	}
}

func (c ServerConfig) Validate() error {
	if c.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("read_timeout_seconds must not be negative")
	}
	return nil
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
		return nil
	}
	return fmt.Errorf("unknown level %q", c.Level)
}

// HistoryConfig locates the training run database.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

func (c *HistoryConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "evrange.db"
	}
}
