package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/logging"
	"github.com/anstrom/nemesis/internal/scanning"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantErr  bool
		wantCode errors.ErrorCode
		check    func(t *testing.T, c *Config)
	}{
		{
			name: "valid yaml config",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.yaml", `
scanning:
  default_size: large
  scripts: [vulners]
  timeout: 10m
fingerprint:
  enabled: false
  crawl: 2
output:
  path: /tmp/out.json
logging:
  level: debug
`)
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, scanning.SizeLarge, c.SizeTier())
				assert.Equal(t, []string{"vulners"}, c.Scanning.Scripts)
				assert.Equal(t, 10*time.Minute, c.Scanning.Timeout)
				assert.False(t, c.Fingerprint.Enabled)
				assert.Equal(t, 2, c.Fingerprint.Crawl)
				assert.Equal(t, "/tmp/out.json", c.GetOutputPath())
				assert.Equal(t, "debug", c.Logging.Level)
				// Untouched sections keep their defaults.
				assert.Equal(t, "text", c.Logging.Format)
				assert.True(t, c.Scanning.ServiceDetection)
			},
		},
		{
			name: "valid json config",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.json", `{
					"scanning": {"default_size": "s"},
					"watch": {"schedule": "@every 1h", "metrics_addr": ":9090"}
				}`)
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, scanning.SizeSmall, c.SizeTier())
				assert.Equal(t, "@every 1h", c.Watch.Schedule)
				assert.True(t, c.IsMetricsEnabled())
			},
		},
		{
			name: "missing file returns defaults",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope.yaml")
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, Default(), c)
			},
		},
		{
			name: "empty path returns defaults",
			path: func(t *testing.T) string { return "" },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, scanning.SizeMedium, c.SizeTier())
			},
		},
		{
			name: "invalid yaml syntax",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.yaml", "scanning: [unclosed")
			},
			wantErr:  true,
			wantCode: errors.CodeConfiguration,
		},
		{
			name: "invalid size tier",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.yaml", "scanning:\n  default_size: huge\n")
			},
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.path(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				assert.Equal(t, tt.wantCode, errors.GetCode(err))
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Logging.Level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
		{"empty output path", func(c *Config) { c.Output.Path = "" }, "Output.Path"},
		{"empty script name", func(c *Config) { c.Scanning.Scripts = []string{"vulners", ""} }, "Scanning.Scripts[1]"},
		{"negative timeout", func(c *Config) { c.Scanning.Timeout = -time.Second }, "Scanning.Timeout"},
		{"negative crawl", func(c *Config) { c.Fingerprint.Crawl = -1 }, "Fingerprint.Crawl"},
		{"binary required when enabled", func(c *Config) { c.Fingerprint.Binary = "" }, "Fingerprint.Binary"},
		{"binary optional when disabled", func(c *Config) {
			c.Fingerprint.Enabled = false
			c.Fingerprint.Binary = ""
		}, ""},
		{"bad metrics address", func(c *Config) { c.Watch.MetricsAddr = "not an address" }, "Watch.MetricsAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var cfgErr *errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, errors.CodeValidation, cfgErr.Code)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Scanning.Timeout = 90 * time.Second
	cfg.Watch.MetricsAddr = "127.0.0.1:9090"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestAccessors(t *testing.T) {
	cfg := Default()
	cfg.Scanning.DefaultSize = "L"
	assert.Equal(t, scanning.SizeLarge, cfg.SizeTier())

	cfg.Scanning.DefaultSize = ""
	assert.Equal(t, scanning.DefaultSizeTier, cfg.SizeTier())

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelInfo, lc.Level)
	assert.Equal(t, logging.FormatText, lc.Format)
	assert.Equal(t, "stderr", lc.Output)

	cfg.Fingerprint.AppsFile = "/etc/technologies.json"
	opts := cfg.FingerprintOptions()
	assert.Equal(t, "webanalyze", opts.Binary)
	assert.Equal(t, "/etc/technologies.json", opts.AppsFile)

	assert.False(t, cfg.IsMetricsEnabled())
}
