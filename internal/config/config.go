package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/fingerprint"
	"github.com/anstrom/nemesis/internal/logging"
	"github.com/anstrom/nemesis/internal/orchestrator"
	"github.com/anstrom/nemesis/internal/output"
	"github.com/anstrom/nemesis/internal/scanning"
)

// DefaultOutputPath is where the result artifact is written.
const DefaultOutputPath = output.DefaultPath

// Config represents the complete nemesis configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Web fingerprinting configuration
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`

	// Result artifact configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Recurring run configuration
	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Size tier used when none is requested (small, medium, large)
	DefaultSize string `yaml:"default_size" json:"default_size" validate:"omitempty,oneof=small medium large s m l"`

	// Enable service detection on the primary attempt
	ServiceDetection bool `yaml:"service_detection" json:"service_detection"`

	// NSE scripts run on the primary attempt
	Scripts []string `yaml:"scripts" json:"scripts" validate:"dive,required"`

	// Enable OS detection on the primary attempt (requires root)
	OSDetection bool `yaml:"os_detection" json:"os_detection"`

	// Bound on a single nmap invocation; zero disables it
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// FingerprintConfig holds webanalyze settings
type FingerprintConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Binary   string `yaml:"binary" json:"binary" validate:"required_if=Enabled true"`
	Crawl    int    `yaml:"crawl" json:"crawl" validate:"gte=0"`
	AppsFile string `yaml:"apps_file" json:"apps_file"`

	// Scripts key fingerprint output is stored under
	Key string `yaml:"key" json:"key" validate:"required"`
}

// OutputConfig holds result artifact settings
type OutputConfig struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// WatchConfig holds settings for `nemesis watch`
type WatchConfig struct {
	// Cron expression or @every descriptor
	Schedule string `yaml:"schedule" json:"schedule"`

	// Address for the Prometheus endpoint; empty disables it
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			DefaultSize:      scanning.DefaultSizeTier.String(),
			ServiceDetection: true,
			Scripts:          append([]string(nil), orchestrator.DefaultScripts...),
			OSDetection:      false,
			Timeout:          0,
		},
		Fingerprint: FingerprintConfig{
			Enabled: true,
			Binary:  fingerprint.DefaultBinary,
			Crawl:   0,
			Key:     orchestrator.DefaultFingerprintKey,
		},
		Output: OutputConfig{
			Path: DefaultOutputPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Watch: WatchConfig{
			Schedule: "@daily",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder handles both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration. The first offending field is
// reported as a *errors.ConfigError with CodeValidation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q validation", fe.Tag()), fieldPath(fe.Namespace()), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}
	return nil
}

// fieldPath turns "Config.Scanning.DefaultSize" into "Scanning.DefaultSize".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// SizeTier returns the configured default tier.
func (c *Config) SizeTier() scanning.SizeTier {
	tier, err := scanning.ParseSizeTier(c.Scanning.DefaultSize)
	if err != nil || tier == scanning.SizeUnset {
		return scanning.DefaultSizeTier
	}
	return tier
}

// LoggerConfig returns the logging package configuration.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
	}
}

// FingerprintOptions returns the webanalyze options.
func (c *Config) FingerprintOptions() fingerprint.Options {
	return fingerprint.Options{
		Binary:   c.Fingerprint.Binary,
		Crawl:    c.Fingerprint.Crawl,
		AppsFile: c.Fingerprint.AppsFile,
	}
}

// GetOutputPath returns the result artifact path
func (c *Config) GetOutputPath() string {
	return c.Output.Path
}

// IsMetricsEnabled returns true if watch mode should serve metrics
func (c *Config) IsMetricsEnabled() bool {
	return c.Watch.MetricsAddr != ""
}
