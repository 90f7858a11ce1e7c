// Package config loads per-project settings from .graft/config.yaml with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/jward/graft/internal/fileio"
)

// Dir is the per-project state directory, relative to the project root.
const Dir = ".graft"

// Well-known files inside Dir.
const (
	ConfigFile  = "config.yaml"
	HistoryFile = "history.db"
	TagsFile    = "tags.toml"
	HooksDir    = "hooks"
)

// Config holds project settings.
type Config struct {
	// Workers bounds parse/validate parallelism inside a batch.
	Workers int `yaml:"workers"`

	// Languages, when non-empty, restricts structural parsing to these
	// languages; other files are treated as plain text.
	Languages []string `yaml:"languages,omitempty"`

	// HooksDir holds policy scripts, relative to the project root.
	HooksDir string `yaml:"hooks_dir"`

	// LogLevel is a zap level name: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:  runtime.NumCPU(),
		HooksDir: filepath.ToSlash(filepath.Join(Dir, HooksDir)),
		LogLevel: "info",
	}
}

// Path returns the config file location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, ConfigFile)
}

// Load reads the config for projectRoot. A missing file yields defaults.
// Environment variables GRAFT_WORKERS, GRAFT_LOG_LEVEL and GRAFT_LANGUAGES
// override file values.
func Load(projectRoot string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(projectRoot))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("config: read: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", Path(projectRoot), err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config for projectRoot, creating the state directory.
func (c *Config) Save(projectRoot string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := fileio.WriteFile(Path(projectRoot), data); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("GRAFT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: GRAFT_WORKERS=%q: %w", v, err)
		}
		c.Workers = n
	}
	if v := os.Getenv("GRAFT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GRAFT_LANGUAGES"); v != "" {
		c.Languages = nil
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				c.Languages = append(c.Languages, l)
			}
		}
	}
	return nil
}

// Validate rejects settings the engine cannot honour.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}

// HooksPath resolves HooksDir against projectRoot.
func (c *Config) HooksPath(projectRoot string) string {
	if filepath.IsAbs(c.HooksDir) {
		return c.HooksDir
	}
	return filepath.Join(projectRoot, filepath.FromSlash(c.HooksDir))
}
