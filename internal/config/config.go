// Package config loads buildweaver settings from YAML with environment
// variable overrides.
//
// The loading sequence is:
//  1. Load YAML from file (optional)
//  2. Apply default values
//  3. Apply BUILDWEAVER_* environment overrides
//  4. Validate the final configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the engine and the sandbox.
type Config struct {
	// Workers bounds concurrently running rules. Defaults to the CPU count.
	Workers int `yaml:"workers"`

	// ScratchDir is where sandboxes are materialized. Defaults to the OS
	// temp directory.
	ScratchDir string `yaml:"scratch_dir"`

	// KeepSandboxes leaves materialized sandboxes on disk for debugging.
	KeepSandboxes bool `yaml:"keep_sandboxes"`

	// DefaultTimeout applies to processes that declare none. Zero means
	// unbounded.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// ToolHome is mounted into processes that do not set their own.
	ToolHome string `yaml:"tool_home"`

	// BuildRoot is the workspace globs are expanded in. Defaults to ".".
	BuildRoot string `yaml:"build_root"`

	// GoBinary is the go tool used by the Go module rules.
	GoBinary string `yaml:"go_binary"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.BuildRoot == "" {
		cfg.BuildRoot = "."
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies BUILDWEAVER_* variables. Unlike file values, a
// malformed variable is reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if val := os.Getenv("BUILDWEAVER_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Workers = i
		} else {
			errs = append(errs, fmt.Errorf("BUILDWEAVER_WORKERS: %w", err))
		}
	}
	if val := os.Getenv("BUILDWEAVER_SCRATCH_DIR"); val != "" {
		cfg.ScratchDir = val
	}
	if val := os.Getenv("BUILDWEAVER_KEEP_SANDBOXES"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.KeepSandboxes = b
		} else {
			errs = append(errs, fmt.Errorf("BUILDWEAVER_KEEP_SANDBOXES: %w", err))
		}
	}
	if val := os.Getenv("BUILDWEAVER_DEFAULT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.DefaultTimeout = d
		} else {
			errs = append(errs, fmt.Errorf("BUILDWEAVER_DEFAULT_TIMEOUT: %w", err))
		}
	}
	if val := os.Getenv("BUILDWEAVER_TOOL_HOME"); val != "" {
		cfg.ToolHome = val
	}
	if val := os.Getenv("BUILDWEAVER_BUILD_ROOT"); val != "" {
		cfg.BuildRoot = val
	}
	if val := os.Getenv("BUILDWEAVER_GO_BINARY"); val != "" {
		cfg.GoBinary = val
	}
	if val := os.Getenv("BUILDWEAVER_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("BUILDWEAVER_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}

	return errors.Join(errs...)
}

// FieldError is a validation failure of one field.
type FieldError struct {
	// Field is the YAML path, e.g. "log.level".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError of a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "workers", Message: "must be at least 1"})
	}
	if cfg.DefaultTimeout < 0 {
		errs = append(errs, FieldError{Field: "default_timeout", Message: "must not be negative"})
	}
	if cfg.ToolHome != "" {
		if info, err := os.Stat(cfg.ToolHome); err != nil || !info.IsDir() {
			errs = append(errs, FieldError{Field: "tool_home", Message: fmt.Sprintf("%q is not a directory", cfg.ToolHome)})
		}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", cfg.Log.Level)})
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, FieldError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", cfg.Log.Format)})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
