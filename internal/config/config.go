// Package config loads engine settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"okrengine/internal/okrstore"
)

const envPrefix = "OKRENGINE_"

// Config holds the settings shared by the engine, the reconciler and the CLI.
type Config struct {
	StateDB           string                 `yaml:"state_db"`
	AuditDB           string                 `yaml:"audit_db"`
	StaleAfterDays    int                    `yaml:"stale_after_days"`
	ReconcileSchedule string                 `yaml:"reconcile_schedule"`
	ReconcileWorkers  int                    `yaml:"reconcile_workers"`
	LogLevel          string                 `yaml:"log_level"`
	CycleDefaults     okrstore.CycleSettings `yaml:"cycle_defaults"`

	// Dir anchors relative paths. It is the config file's directory, or the
	// working directory when no file is loaded.
	Dir string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDB:           filepath.Join("state", "okrengine.db"),
		AuditDB:           filepath.Join("state", "audit.db"),
		StaleAfterDays:    14,
		ReconcileSchedule: "@every 1h",
		ReconcileWorkers:  4,
		LogLevel:          "info",
		CycleDefaults: okrstore.CycleSettings{
			DefaultCadence: okrstore.CadenceWeekly,
			ScoringMethod:  okrstore.ScoringAverage,
			MinKeyResults:  1,
			MaxKeyResults:  5,
			AllowStretch:   true,
		},
	}
}

// Load reads path over the defaults, applies OKRENGINE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		expanded, err := expandHome(path)
		if err != nil {
			return Config{}, err
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		cfg.Dir = filepath.Dir(abs)
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.Dir = wd
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := cast.ToIntE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("STATE_DB", &cfg.StateDB)
	str("AUDIT_DB", &cfg.AuditDB)
	num("STALE_AFTER_DAYS", &cfg.StaleAfterDays)
	str("RECONCILE_SCHEDULE", &cfg.ReconcileSchedule)
	num("RECONCILE_WORKERS", &cfg.ReconcileWorkers)
	str("LOG_LEVEL", &cfg.LogLevel)
	num("MIN_KEY_RESULTS", &cfg.CycleDefaults.MinKeyResults)
	num("MAX_KEY_RESULTS", &cfg.CycleDefaults.MaxKeyResults)
	if v, ok := os.LookupEnv(envPrefix + "ALLOW_STRETCH"); ok {
		b, err := cast.ToBoolE(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sALLOW_STRETCH: %w", envPrefix, err))
		} else {
			cfg.CycleDefaults.AllowStretch = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs okrstore.ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, okrstore.ValidationError{Source: "config", Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.StateDB) == "" {
		add("state_db", "state_db is required")
	}
	if strings.TrimSpace(c.AuditDB) == "" {
		add("audit_db", "audit_db is required")
	}
	if c.StaleAfterDays <= 0 {
		add("stale_after_days", "must be positive")
	}
	if c.ReconcileWorkers <= 0 {
		add("reconcile_workers", "must be positive")
	}
	if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
		add("reconcile_schedule", "invalid schedule %q: %v", c.ReconcileSchedule, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("log_level", "unknown level %q", c.LogLevel)
	}
	switch c.CycleDefaults.ScoringMethod {
	case okrstore.ScoringAverage, okrstore.ScoringWeighted:
	default:
		add("cycle_defaults.scoring_method", "unknown scoring method %q", c.CycleDefaults.ScoringMethod)
	}
	if c.CycleDefaults.MinKeyResults < 0 || c.CycleDefaults.MaxKeyResults < 0 {
		add("cycle_defaults", "key result bounds must not be negative")
	} else if c.CycleDefaults.MaxKeyResults > 0 && c.CycleDefaults.MinKeyResults > c.CycleDefaults.MaxKeyResults {
		add("cycle_defaults", "min_key_results exceeds max_key_results")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// StaleAfter is the staleness threshold as a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// ResolvePath returns an absolute path, resolving relative paths from Dir.
func (c Config) ResolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(c.Dir, expanded))
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
