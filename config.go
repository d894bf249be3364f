package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"go-require/luaunit"
)

const (
	EngineStarlark = "starlark"
	EngineLua      = "lua"

	defaultConfigName = "config.yaml"
	journalOff        = "off"
)

// Config is the host configuration, read from YAML.
type Config struct {
	Engine     string        `yaml:"engine"`
	Path       []string      `yaml:"path"`
	WriteCache bool          `yaml:"write_cache"`
	Journal    string        `yaml:"journal"`
	Addr       string        `yaml:"addr"`
	Roots      []string      `yaml:"roots"`
	Timeout    time.Duration `yaml:"timeout"`
	Verbose    bool          `yaml:"verbose"`
	Watch      WatchConfig   `yaml:"watch"`
}

// WatchConfig controls hot reload.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	Cascade  bool          `yaml:"cascade"`
	InPlace  bool          `yaml:"inplace"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Engine:     EngineStarlark,
		WriteCache: true,
		Addr:       "localhost:8989",
		Timeout:    luaunit.MaxExecutionTime,
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
			Cascade:  true,
		},
	}
}

// LoadConfig reads the config file at path over the defaults. With an empty
// path, config.yaml in the data directory is used if it exists.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		dataDir, err := getDataDir()
		if err != nil {
			return cfg, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dataDir, defaultConfigName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineStarlark, EngineLua:
	default:
		return fmt.Errorf("unknown engine %q (want %s or %s)", c.Engine, EngineStarlark, EngineLua)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}
