// Package cli provides command-line interface commands for nemesis.
// This package implements the Cobra-based CLI structure with commands for
// one-shot scans, scheduled re-scans, and version information.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/nemesis/internal/config"
	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/logging"
)

const (
	envPrefix = "NEMESIS"

	// Exit statuses.
	exitSuccess     = 0
	exitFailure     = 1
	exitConfigError = 2
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nemesis",
	Short: "Top-ports scan orchestrator",
	Long: `Nemesis drives nmap over the most common ports of one or more targets,
falls back to a bare port scan when service detection is unavailable,
fingerprints every web endpoint it finds with webanalyze, and writes one
consolidated JSON report.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		debug := logging.Default().Config().Level == logging.LevelDebug
		code := exitCode(err)
		if code == exitSuccess {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", errorMessage(err, debug))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err, debug))
		os.Exit(code)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nemesis.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("nemesis")
	}

	// NEMESIS_OUTPUT_PATH overrides output.path, and so on.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig loads the config file through the config package, then applies
// environment variables and explicitly set flags on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	if viper.IsSet("scanning.default_size") {
		cfg.Scanning.DefaultSize = viper.GetString("scanning.default_size")
	}
	if viper.IsSet("scanning.service_detection") {
		cfg.Scanning.ServiceDetection = viper.GetBool("scanning.service_detection")
	}
	if viper.IsSet("scanning.scripts") {
		cfg.Scanning.Scripts = scriptList(viper.GetStringSlice("scanning.scripts"))
	}
	if viper.IsSet("scanning.os_detection") {
		cfg.Scanning.OSDetection = viper.GetBool("scanning.os_detection")
	}
	if viper.IsSet("scanning.timeout") {
		cfg.Scanning.Timeout = viper.GetDuration("scanning.timeout")
	}
	if viper.IsSet("fingerprint.enabled") {
		cfg.Fingerprint.Enabled = viper.GetBool("fingerprint.enabled")
	}
	if viper.IsSet("fingerprint.binary") {
		cfg.Fingerprint.Binary = viper.GetString("fingerprint.binary")
	}
	if viper.IsSet("fingerprint.crawl") {
		cfg.Fingerprint.Crawl = viper.GetInt("fingerprint.crawl")
	}
	if viper.IsSet("fingerprint.apps_file") {
		cfg.Fingerprint.AppsFile = viper.GetString("fingerprint.apps_file")
	}
	if viper.IsSet("fingerprint.key") {
		cfg.Fingerprint.Key = viper.GetString("fingerprint.key")
	}
	if viper.IsSet("output.path") {
		cfg.Output.Path = viper.GetString("output.path")
	}
	if viper.IsSet("logging.level") {
		cfg.Logging.Level = viper.GetString("logging.level")
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = viper.GetString("logging.format")
	}
	if viper.IsSet("logging.output") {
		cfg.Logging.Output = viper.GetString("logging.output")
	}
	if viper.IsSet("watch.schedule") {
		cfg.Watch.Schedule = viper.GetString("watch.schedule")
	}
	if viper.IsSet("watch.metrics_addr") {
		cfg.Watch.MetricsAddr = viper.GetString("watch.metrics_addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// scriptList normalizes a script list from the environment, where
// NEMESIS_SCANNING_SCRIPTS="vulners vulscan/vulscan.nse" and
// "vulners,vulscan/vulscan.nse" are both accepted.
func scriptList(raw []string) []string {
	var scripts []string
	for _, entry := range raw {
		for _, name := range strings.Split(entry, ",") {
			if name = strings.TrimSpace(name); name != "" {
				scripts = append(scripts, name)
			}
		}
	}
	return scripts
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging(cfg *config.Config) *logging.Logger {
	logConfig := cfg.LoggerConfig()
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logger.Info("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
	return logger
}

// errorMessage renders err for the terminal. Scan failures carry nmap's
// output, so they are reduced to their codes unless debug is set.
func errorMessage(err error, debug bool) string {
	if debug || !errors.IsCode(err, errors.CodeScanFailed) {
		return err.Error()
	}
	return errors.Summary(err) + " (rerun with --debug for details)"
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	if !errors.IsFatal(err) {
		return exitSuccess
	}
	switch errors.GetCode(err) {
	case errors.CodeConfiguration, errors.CodeValidation:
		return exitConfigError
	default:
		return exitFailure
	}
}
