// Package config loads the composer configuration: a YAML file, an optional
// .env file, and COMPOSER_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"composer/internal/domain"
	"composer/internal/schema"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COMPOSER_"

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "composer.yaml"

// Config is the full composer configuration.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // "text" | "json"

	// DataDir holds the sample store. Empty disables persistence.
	DataDir string `yaml:"dataDir"`

	// Bundle is the mapping bundle file (JSON or YAML).
	Bundle string        `yaml:"bundle"`
	Format schema.Format `yaml:"format"`

	Index    IndexConfig    `yaml:"index"`
	Sampling SamplingConfig `yaml:"sampling"`

	// Refresh is a cron expression refreshing every source.
	Refresh string `yaml:"refresh"`
	// Watch re-samples file sources when their file changes.
	Watch bool `yaml:"watch"`

	Sources []domain.DataSource `yaml:"sources"`
}

type IndexConfig struct {
	MaxDepth int `yaml:"maxDepth"`
}

type SamplingConfig struct {
	Size        int           `yaml:"size"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Format:    schema.FormatJSON,
		Index:     IndexConfig{MaxDepth: 4},
		Sampling: SamplingConfig{
			Size:        20,
			Timeout:     30 * time.Second,
			Concurrency: 4,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is DefaultPath. A .env file next to the config is loaded before the
// environment overrides are applied; variables already set win.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DATA_DIR", &c.DataDir)
	str("BUNDLE", &c.Bundle)
	str("REFRESH", &c.Refresh)

	var format string
	str("FORMAT", &format)
	if format != "" {
		c.Format = schema.Format(format)
	}
	if v, ok := lookup(EnvPrefix + "WATCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sWATCH: %w", EnvPrefix, err)
		}
		c.Watch = b
	}
	if v, ok := lookup(EnvPrefix + "SAMPLE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSAMPLE_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Sampling.Timeout = d
	}
	for name, dst := range map[string]*int{
		"MAX_DEPTH":          &c.Index.MaxDepth,
		"SAMPLE_SIZE":        &c.Sampling.Size,
		"SAMPLE_CONCURRENCY": &c.Sampling.Concurrency,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, err := schema.ParseFormat(string(c.Format)); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	c.Format, _ = schema.ParseFormat(string(c.Format))
	if c.Index.MaxDepth < 1 {
		return fmt.Errorf("index.maxDepth must be at least 1, got %d", c.Index.MaxDepth)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Type == "" && src.SampleDocument.IsUndefined() {
			return fmt.Errorf("source %s: type or sampleDocument is required", src.ID)
		}
	}
	return nil
}

// Source returns the configured source with id.
func (c *Config) Source(id string) (domain.DataSource, bool) {
	for _, src := range c.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return domain.DataSource{}, false
}

// SamplesDB returns the sample store path, or "" when persistence is off.
func (c *Config) SamplesDB() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "composer.db")
}

// SlogLevel maps LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
