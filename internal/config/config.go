package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Backend              string
	DBPath               string
	PrefsPath            string
	KeyPrefix            string
	OwnSourceID          string
	FocusWindow          time.Duration
	DriftWindow          time.Duration
	PromptOnWindowChange bool
	LogLevel             string
	LogFormat            string
}

func DefaultConfig() Config {
	return Config{
		Backend:              BackendSQLite,
		DBPath:               defaultStatePath("state.db"),
		PrefsPath:            defaultStatePath("prefs.json"),
		KeyPrefix:            "flutter.",
		OwnSourceID:          "",
		FocusWindow:          300 * time.Millisecond,
		DriftWindow:          1200 * time.Millisecond,
		PromptOnWindowChange: false,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tapmon-" + name
	}
	return filepath.Join(home, ".local", "state", "tapmon", name)
}

// fileConfig mirrors Config with YAML-friendly types. Pointer fields let an
// overlay leave defaults untouched.
type fileConfig struct {
	Backend              *string `yaml:"backend"`
	DBPath               *string `yaml:"db_path"`
	PrefsPath            *string `yaml:"prefs_path"`
	KeyPrefix            *string `yaml:"key_prefix"`
	OwnSourceID          *string `yaml:"own_source_id"`
	FocusWindow          *string `yaml:"focus_window"`
	DriftWindow          *string `yaml:"drift_window"`
	PromptOnWindowChange *bool   `yaml:"prompt_on_window_change"`
	Log                  struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`
}

// LoadFile overlays the YAML file at path onto base. A blank path returns
// base unchanged.
func LoadFile(path string, base Config) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, base)
}

func Parse(data []byte, base Config) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("%w: decode yaml: %v", ErrInvalid, err)
	}
	cfg := base
	setString(&cfg.Backend, fc.Backend)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.PrefsPath, fc.PrefsPath)
	setString(&cfg.KeyPrefix, fc.KeyPrefix)
	setString(&cfg.OwnSourceID, fc.OwnSourceID)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	if fc.PromptOnWindowChange != nil {
		cfg.PromptOnWindowChange = *fc.PromptOnWindowChange
	}
	if err := setDuration(&cfg.FocusWindow, fc.FocusWindow, "focus_window"); err != nil {
		return base, err
	}
	if err := setDuration(&cfg.DriftWindow, fc.DriftWindow, "drift_window"); err != nil {
		return base, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("%w: db path required for sqlite backend", ErrInvalid)
		}
	case BackendJSON:
		if strings.TrimSpace(c.PrefsPath) == "" {
			return fmt.Errorf("%w: prefs path required for json backend", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if strings.TrimSpace(c.OwnSourceID) == "" {
		return fmt.Errorf("%w: own source id required", ErrInvalid)
	}
	// Timestamps are whole milliseconds, so a shorter window would truncate to 0.
	if c.FocusWindow < time.Millisecond || c.DriftWindow < time.Millisecond {
		return fmt.Errorf("%w: debounce windows must be at least 1ms", ErrInvalid)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	*dst = d
	return nil
}
