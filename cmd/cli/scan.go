package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/nemesis/internal/config"
	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/fingerprint"
	"github.com/anstrom/nemesis/internal/logging"
	"github.com/anstrom/nemesis/internal/metrics"
	"github.com/anstrom/nemesis/internal/orchestrator"
	"github.com/anstrom/nemesis/internal/output"
	"github.com/anstrom/nemesis/internal/scanning"
)

// runFlags are shared by scan and watch.
type runFlags struct {
	target      string
	targetList  string
	small       bool
	medium      bool
	large       bool
	output      string
	debug       bool
	noWebscan   bool
	osDetection bool
}

var scanFlags runFlags

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the top ports of one or more targets",
	Long: `Scan the most common ports of a target with nmap service detection and
the vulners/vulscan scripts. If that attempt fails (nmap missing scripts,
insufficient privileges, ...) the scan is repeated once as a bare port scan.

Every http/https port found by the full scan is fingerprinted with
webanalyze. The merged result is written as JSON to --output.`,
	Example: `  nemesis scan --target 192.168.1.10
  nemesis scan --target scanme.nmap.org -l --output /tmp/scanme.json
  nemesis scan --target-list hosts.txt -s --no-webscan`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindRunFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runScan(ctx, cmd.OutOrStdout(), &scanFlags)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addRunFlags(scanCmd, &scanFlags)
}

// addRunFlags defines the target, size and behavior flags on cmd.
func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "Target host, address or CIDR range")
	cmd.Flags().StringVar(&f.targetList, "target-list", "", "File with one target per line")
	cmd.Flags().BoolVarP(&f.small, "small", "s", false, "Scan the top 10 ports")
	cmd.Flags().BoolVarP(&f.medium, "medium", "m", false, "Scan the top 1000 ports")
	cmd.Flags().BoolVarP(&f.large, "large", "l", false, "Scan the top 65389 ports")
	cmd.Flags().StringVarP(&f.output, "output", "o", config.DefaultOutputPath, "Path of the JSON result")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Log at debug level, including failure causes")
	cmd.Flags().BoolVar(&f.noWebscan, "no-webscan", false, "Skip webanalyze fingerprinting")
	cmd.Flags().BoolVar(&f.osDetection, "os-detection", false, "Add OS detection to the full scan (requires root)")

	cmd.MarkFlagsMutuallyExclusive("target", "target-list")
	cmd.MarkFlagsOneRequired("target", "target-list")
	cmd.MarkFlagsMutuallyExclusive("small", "medium", "large")
}

// bindRunFlags binds cmd's flags to their config keys. Binding happens per
// invocation because scan and watch define flags with the same names.
func bindRunFlags(cmd *cobra.Command) error {
	bindings := map[string]string{
		"output.path": "output",
	}
	for key, name := range bindings {
		if err := bindFlag(cmd.Flags(), key, name); err != nil {
			return err
		}
	}
	return nil
}

// bindFlag binds the flag called name in fs to the config key.
func bindFlag(fs *pflag.FlagSet, key, name string) error {
	flag := fs.Lookup(name)
	if flag == nil {
		return fmt.Errorf("flag --%s is not defined", name)
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind %s flag: %w", name, err)
	}
	return nil
}

// sizeTier returns the tier selected by the size flags, or SizeUnset.
func (f *runFlags) sizeTier() scanning.SizeTier {
	switch {
	case f.small:
		return scanning.SizeSmall
	case f.medium:
		return scanning.SizeMedium
	case f.large:
		return scanning.SizeLarge
	default:
		return scanning.SizeUnset
	}
}

// targets returns the targets named by --target or read from --target-list.
func (f *runFlags) targets() ([]string, error) {
	if f.targetList != "" {
		return readTargetList(f.targetList)
	}
	target := strings.TrimSpace(f.target)
	if target == "" {
		return nil, errors.ErrConfigMissing("target")
	}
	return []string{target}, nil
}

// readTargetList reads one target per line, skipping blank lines and
// comments introduced by '#'.
func readTargetList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to open target list", err)
	}
	defer file.Close()

	targets, err := parseTargetList(file)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read target list", err)
	}
	if len(targets) == 0 {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration, "target list is empty", "target-list", path)
	}
	return targets, nil
}

func parseTargetList(r io.Reader) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		targets = append(targets, line)
	}
	return targets, scanner.Err()
}

// setup loads configuration, configures logging and wires the orchestrator.
func setup(f *runFlags, pm *metrics.PrometheusMetrics) (*config.Config, *orchestrator.Orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if f.debug {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	logger := initLogging(cfg)

	return cfg, newOrchestrator(cfg, f, logger, pm), nil
}

// newOrchestrator builds the orchestrator and its collaborators from cfg.
func newOrchestrator(cfg *config.Config, f *runFlags, logger *logging.Logger,
	pm *metrics.PrometheusMetrics) *orchestrator.Orchestrator {
	ocfg := orchestrator.DefaultConfig()
	ocfg.DefaultSize = cfg.SizeTier()
	ocfg.ServiceDetection = cfg.Scanning.ServiceDetection
	ocfg.Scripts = cfg.Scanning.Scripts
	ocfg.OSDetection = cfg.Scanning.OSDetection || f.osDetection
	ocfg.Webscan = cfg.Fingerprint.Enabled && !f.noWebscan
	ocfg.FingerprintKey = cfg.Fingerprint.Key

	scanner := scanning.NewNmapScanner(logger).WithTimeout(cfg.Scanning.Timeout)

	var fp fingerprint.Fingerprinter
	if ocfg.Webscan {
		fp = fingerprint.NewWebanalyze(cfg.FingerprintOptions(), nil)
	}

	return orchestrator.New(ocfg, scanner, fp, output.NewFileStore(cfg.GetOutputPath()),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(pm))
}

func runScan(ctx context.Context, w io.Writer, f *runFlags) error {
	targets, err := f.targets()
	if err != nil {
		return err
	}

	cfg, orch, err := setup(f, metrics.NewPrometheusMetrics())
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, orchestrator.Request{Targets: targets, Size: f.sizeTier()})
	if report != nil {
		printReport(w, report, cfg.GetOutputPath(), f.debug)
	}
	return err
}

// printReport writes the human-readable outcome of a run. Causes are shown
// as error codes unless debug is set.
func printReport(w io.Writer, report *orchestrator.Report, path string, debug bool) {
	describe := func(err error) string {
		if debug {
			return err.Error()
		}
		return errors.Summary(err)
	}

	if report.Persisted {
		output.PrintSummary(w, report.Result())
	}

	fmt.Fprintf(w, "\nRun %s: %d target(s), size %s (top %d ports), %v\n",
		report.RunID, len(report.Targets), report.Tier, report.PortBudget, report.Duration)

	for _, t := range report.Degraded() {
		fmt.Fprintf(w, "  %s: degraded scan only (%s)\n", t.Target, describe(t.PrimaryErr))
	}
	for _, t := range report.Targets {
		if t.EnrichFailed > 0 {
			fmt.Fprintf(w, "  %s: %d web endpoint(s) could not be fingerprinted\n", t.Target, t.EnrichFailed)
		}
	}
	for _, t := range report.Failed() {
		fmt.Fprintf(w, "  %s: failed (%s)\n", t.Target, describe(t.Err))
	}

	if report.Persisted {
		fmt.Fprintf(w, "Results written to %s\n", path)
	} else {
		fmt.Fprintln(w, "No results written")
	}
}
