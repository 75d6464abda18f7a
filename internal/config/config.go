// Package config loads cscan settings from .cscan.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cscan/internal/scanner"

	"gopkg.in/yaml.v3"
)

// FileName is looked up in the scan root when no --config is given.
const FileName = ".cscan.yaml"

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// FailOnNone disables the severity exit gate.
const FailOnNone = "none"

// Config holds all cscan configuration.
type Config struct {
	// Checks to run, by name. Empty means the default set.
	Checks []string `yaml:"checks"`
	// StackThreshold is the largest char array not flagged by large-stack-buffer.
	StackThreshold int `yaml:"stack_threshold"`
	// Workers bounds concurrent file scans.
	Workers int `yaml:"workers"`
	// Extensions scanned, as case-sensitive suffixes.
	Extensions []string `yaml:"extensions"`
	// IgnorePatterns skip directories by name or glob relative to the root.
	IgnorePatterns []string `yaml:"ignore_patterns"`
	// Engine is regex or ast.
	Engine string `yaml:"engine"`
	// FailOn is none, LOW, MED or HIGH.
	FailOn string `yaml:"fail_on"`
	// Format is text or json.
	Format string `yaml:"format"`
	// Baseline is the path of a baseline database; empty disables filtering.
	Baseline string `yaml:"baseline"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	opts := scanner.DefaultOptions()
	return &Config{
		Checks:         opts.Checks,
		StackThreshold: opts.StackThreshold,
		Workers:        opts.Workers,
		Extensions:     opts.Extensions,
		IgnorePatterns: []string{".git"},
		Engine:         scanner.EngineRegex,
		FailOn:         FailOnNone,
		Format:         FormatText,
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Locate returns the config path for a scan root: root/.cscan.yaml when root
// is a directory, otherwise the file next to it.
func Locate(root string) string {
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return filepath.Join(filepath.Dir(root), FileName)
	}
	return filepath.Join(root, FileName)
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies CSCAN_* environment variables. Malformed
// numbers are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CSCAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CSCAN_STACK_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.StackThreshold = n
		}
	}
	if v := os.Getenv("CSCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("CSCAN_ENGINE"); v != "" {
		c.Engine = strings.ToLower(v)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("unknown format %q (want text or json)", c.Format)
	}
	if _, err := c.FailOnSeverity(); err != nil {
		return err
	}
	return c.ScannerOptions().Validate()
}

// FailOnSeverity parses FailOn. The empty severity means the gate is off.
func (c *Config) FailOnSeverity() (scanner.Severity, error) {
	if c.FailOn == "" || strings.EqualFold(c.FailOn, FailOnNone) {
		return "", nil
	}
	sev, err := scanner.ParseSeverity(c.FailOn)
	if err != nil {
		return "", fmt.Errorf("fail_on: %w", err)
	}
	return sev, nil
}

// ScannerOptions converts the config into scanner options.
func (c *Config) ScannerOptions() scanner.Options {
	checks := c.Checks
	if len(checks) == 0 {
		checks = scanner.DefaultChecks()
	}
	return scanner.Options{
		Checks:         checks,
		StackThreshold: c.StackThreshold,
		Workers:        c.Workers,
		Extensions:     c.Extensions,
		IgnorePatterns: c.IgnorePatterns,
		Engine:         c.Engine,
	}
}
