// Package config provides aiowasp configuration with a defined load order:
// CLI flags > environment variables > project config > global config > defaults.
//
// Paths:
//   - Project: .aiowasp/config.toml (relative to the working root)
//   - Global: XDG config dir, e.g. ~/.config/aiowasp/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - AIOWASP_SERVER_URL, AIOWASP_PROJECT, AIOWASP_TAXONOMY_VERSION, AIOWASP_TAXONOMY_FILE,
//   - AIOWASP_TIMEOUT (Go duration string or integer seconds), AIOWASP_STATE_DIR,
//   - AIOWASP_RATE_LIMIT (gateway requests per second; 0 = unlimited),
//   - AIOWASP_TOKEN_BUDGET (estimated suggestion tokens per minute; 0 = unlimited),
//   - AIOWASP_FALLBACK_TO_SAMPLE (1/true/yes/on = true, 0/false/no/off = false),
//   - AIOWASP_LOG_LEVEL, AIOWASP_LOG_FORMAT (console or json), AIOWASP_LOG_FILE.
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"aiowasp/cli/internal/erruser"
)

// Config holds all aiowasp configuration. Empty StateDir means
// "<root>/.aiowasp".
type Config struct {
	ServerURL       string        `toml:"server_url"`
	Project         string        `toml:"project"`
	TaxonomyVersion string        `toml:"taxonomy_version"`
	// TaxonomyFile is an optional YAML file adding taxonomy versions.
	TaxonomyFile string        `toml:"taxonomy_file"`
	Timeout      time.Duration `toml:"timeout"`
	StateDir     string        `toml:"state_dir"`
	// RateLimit caps gateway requests per second (0 = unlimited).
	RateLimit float64 `toml:"rate_limit"`
	// TokenBudget caps estimated suggestion tokens per minute (0 = unlimited).
	TokenBudget int `toml:"token_budget"`
	// FallbackToSample loads the built-in sample report when fetching fails.
	FallbackToSample bool   `toml:"fallback_to_sample"`
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	LogFile          string `toml:"log_file"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	ServerURL       *string
	Project         *string
	TaxonomyVersion *string
	TaxonomyFile    *string
	Timeout         *time.Duration
	StateDir        *string
	LogLevel        *string
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// Root is the working root; if set, project config is Root/.aiowasp/config.toml.
	Root string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultServerURL       = "http://localhost:9000"
	_defaultTaxonomyVersion = "2021"
	_defaultTimeout         = 60 * time.Second
	_defaultLogLevel        = "warn"
	_defaultLogFormat       = "console"

	projectDirName = ".aiowasp"
)

var validLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

var validLogFormats = map[string]struct{}{
	"console": {}, "json": {},
}

func validateLogLevel(s string) (string, error) {
	norm := strings.TrimSpace(strings.ToLower(s))
	if _, ok := validLogLevels[norm]; !ok {
		return "", erruser.New("Invalid log level; use debug, info, warn, or error.", nil)
	}
	return norm, nil
}

func validateLogFormat(s string) (string, error) {
	norm := strings.TrimSpace(strings.ToLower(s))
	if _, ok := validLogFormats[norm]; !ok {
		return "", erruser.New("Invalid log format; use console or json.", nil)
	}
	return norm, nil
}

// errIntOverflow is returned when an int64 value does not fit in int.
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		ServerURL:       _defaultServerURL,
		TaxonomyVersion: _defaultTaxonomyVersion,
		Timeout:         _defaultTimeout,
		LogLevel:        _defaultLogLevel,
		LogFormat:       _defaultLogFormat,
	}
}

// EffectiveStateDir returns the directory used for session and lock files.
// If StateDir is set, it is returned as-is; otherwise root/.aiowasp is returned.
func (c Config) EffectiveStateDir(root string) string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(root, projectDirName)
}

// Load loads configuration with precedence: defaults < global file < project file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "aiowasp", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.Root != "" {
		if err := mergeFile(&cfg, filepath.Join(opts.Root, projectDirName, "config.toml")); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	if err := applyOverrides(&cfg, opts.Overrides); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only fields present in the file
// are applied; empty strings keep the previous value except for paths.
// Missing file is skipped (no error).
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		ServerURL        *string  `toml:"server_url"`
		Project          *string  `toml:"project"`
		TaxonomyVersion  *string  `toml:"taxonomy_version"`
		TaxonomyFile     *string  `toml:"taxonomy_file"`
		Timeout          *string  `toml:"timeout"`
		StateDir         *string  `toml:"state_dir"`
		RateLimit        *float64 `toml:"rate_limit"`
		TokenBudget      *int64   `toml:"token_budget"`
		FallbackToSample *bool    `toml:"fallback_to_sample"`
		LogLevel         *string  `toml:"log_level"`
		LogFormat        *string  `toml:"log_format"`
		LogFile          *string  `toml:"log_file"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New(fmt.Sprintf("Invalid configuration in %s.", path), err)
	}
	if file.ServerURL != nil && *file.ServerURL != "" {
		cfg.ServerURL = *file.ServerURL
	}
	if file.Project != nil && *file.Project != "" {
		cfg.Project = *file.Project
	}
	if file.TaxonomyVersion != nil && *file.TaxonomyVersion != "" {
		cfg.TaxonomyVersion = *file.TaxonomyVersion
	}
	if file.TaxonomyFile != nil {
		cfg.TaxonomyFile = *file.TaxonomyFile
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	if file.StateDir != nil {
		cfg.StateDir = *file.StateDir
	}
	if file.RateLimit != nil {
		if *file.RateLimit < 0 {
			return erruser.New("Configuration rate_limit must be non-negative.", nil)
		}
		cfg.RateLimit = *file.RateLimit
	}
	if file.TokenBudget != nil {
		if *file.TokenBudget < 0 {
			return erruser.New("Configuration token_budget must be non-negative.", nil)
		}
		v, err := int64ToInt(*file.TokenBudget)
		if err != nil {
			return erruser.New("Configuration token_budget value out of range.", err)
		}
		cfg.TokenBudget = v
	}
	if file.FallbackToSample != nil {
		cfg.FallbackToSample = *file.FallbackToSample
	}
	if file.LogLevel != nil && *file.LogLevel != "" {
		norm, err := validateLogLevel(*file.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	if file.LogFormat != nil && *file.LogFormat != "" {
		norm, err := validateLogFormat(*file.LogFormat)
		if err != nil {
			return err
		}
		cfg.LogFormat = norm
	}
	if file.LogFile != nil {
		cfg.LogFile = *file.LogFile
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	// Integer seconds
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

const (
	envServerURL        = "AIOWASP_SERVER_URL"
	envProject          = "AIOWASP_PROJECT"
	envTaxonomyVersion  = "AIOWASP_TAXONOMY_VERSION"
	envTaxonomyFile     = "AIOWASP_TAXONOMY_FILE"
	envTimeout          = "AIOWASP_TIMEOUT"
	envStateDir         = "AIOWASP_STATE_DIR"
	envRateLimit        = "AIOWASP_RATE_LIMIT"
	envTokenBudget      = "AIOWASP_TOKEN_BUDGET"
	envFallbackToSample = "AIOWASP_FALLBACK_TO_SAMPLE"
	envLogLevel         = "AIOWASP_LOG_LEVEL"
	envLogFormat        = "AIOWASP_LOG_FORMAT"
	envLogFile          = "AIOWASP_LOG_FILE"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v, ok := vals[envServerURL]; ok && v != "" {
		cfg.ServerURL = v
	}
	if v, ok := vals[envProject]; ok && v != "" {
		cfg.Project = v
	}
	if v, ok := vals[envTaxonomyVersion]; ok && v != "" {
		cfg.TaxonomyVersion = v
	}
	if v, ok := vals[envTaxonomyFile]; ok {
		cfg.TaxonomyFile = v
	}
	if v, ok := vals[envTimeout]; ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New("AIOWASP_TIMEOUT must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	if v, ok := vals[envStateDir]; ok {
		cfg.StateDir = v
	}
	if v, ok := vals[envRateLimit]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New("AIOWASP_RATE_LIMIT must be a valid number.", err)
		}
		if f < 0 {
			return erruser.New("AIOWASP_RATE_LIMIT must be non-negative.", nil)
		}
		cfg.RateLimit = f
	}
	if v, ok := vals[envTokenBudget]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New("AIOWASP_TOKEN_BUDGET must be a valid number.", err)
		}
		if n < 0 {
			return erruser.New("AIOWASP_TOKEN_BUDGET must be non-negative.", nil)
		}
		cfg.TokenBudget, err = int64ToInt(n)
		if err != nil {
			return erruser.New("AIOWASP_TOKEN_BUDGET value out of range.", err)
		}
	}
	if v, ok := vals[envFallbackToSample]; ok && v != "" {
		b, err := parseBool(v)
		if err != nil {
			return erruser.New("AIOWASP_FALLBACK_TO_SAMPLE must be 1/true/yes/on or 0/false/no/off.", err)
		}
		cfg.FallbackToSample = b
	}
	if v, ok := vals[envLogLevel]; ok && v != "" {
		norm, err := validateLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	if v, ok := vals[envLogFormat]; ok && v != "" {
		norm, err := validateLogFormat(v)
		if err != nil {
			return err
		}
		cfg.LogFormat = norm
	}
	if v, ok := vals[envLogFile]; ok {
		cfg.LogFile = v
	}
	return nil
}

// parseBool parses common boolean env values: 1/true/yes/on = true, 0/false/no/off = false (case-insensitive).
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func applyOverrides(cfg *Config, o *Overrides) error {
	if o == nil {
		return nil
	}
	if o.ServerURL != nil && *o.ServerURL != "" {
		cfg.ServerURL = *o.ServerURL
	}
	if o.Project != nil && *o.Project != "" {
		cfg.Project = *o.Project
	}
	if o.TaxonomyVersion != nil && *o.TaxonomyVersion != "" {
		cfg.TaxonomyVersion = *o.TaxonomyVersion
	}
	if o.TaxonomyFile != nil {
		cfg.TaxonomyFile = *o.TaxonomyFile
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.StateDir != nil {
		cfg.StateDir = *o.StateDir
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		norm, err := validateLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	return nil
}
