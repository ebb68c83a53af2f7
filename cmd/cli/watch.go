package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/nemesis/internal/logging"
	"github.com/anstrom/nemesis/internal/metrics"
	"github.com/anstrom/nemesis/internal/orchestrator"
	"github.com/anstrom/nemesis/internal/scheduler"
)

const stopTimeout = 30 * time.Second

var (
	watchFlags       runFlags
	watchSchedule    string
	watchMetricsAddr string
	watchNow         bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-scan targets on a schedule",
	Long: `Run the scan workflow on a cron schedule until interrupted. Each run
overwrites the result file. A run that is still going when the next one is
due causes that tick to be skipped.

Schedules use the standard five cron fields or descriptors such as @hourly
and @every 6h.`,
	Example: `  nemesis watch --target 10.0.0.0/24 --schedule "0 3 * * *"
  nemesis watch --target-list hosts.txt --schedule "@every 6h" --metrics-addr :9090`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindRunFlags(cmd); err != nil {
			return err
		}
		if err := bindFlag(cmd.Flags(), "watch.schedule", "schedule"); err != nil {
			return err
		}
		return bindFlag(cmd.Flags(), "watch.metrics_addr", "metrics-addr")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd.OutOrStdout(), &watchFlags)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addRunFlags(watchCmd, &watchFlags)

	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@daily", "Cron expression or @every interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "Run once immediately before the first scheduled tick")
}

func runWatch(ctx context.Context, w io.Writer, f *runFlags) error {
	targets, err := f.targets()
	if err != nil {
		return err
	}

	pm := metrics.GetGlobalMetrics()
	cfg, orch, err := setup(f, pm)
	if err != nil {
		return err
	}
	logger := logging.Default()

	req := orchestrator.Request{Targets: targets, Size: f.sizeTier()}
	run := func(ctx context.Context) error {
		report, err := orch.Run(ctx, req)
		if report != nil {
			printReport(w, report, cfg.GetOutputPath(), f.debug)
		}
		return err
	}

	sched := scheduler.NewScheduler(logger)
	if err := sched.Schedule(cfg.Watch.Schedule, run); err != nil {
		return err
	}

	// A failing metrics listener cancels gctx, which stops the scheduler.
	g, gctx := errgroup.WithContext(ctx)

	if cfg.IsMetricsEnabled() {
		srv := scheduler.NewMetricsServer(cfg.Watch.MetricsAddr, pm.Handler(), os.Stderr, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if watchNow {
		if err := run(gctx); err != nil {
			logger.Error("Initial run failed", "error", err)
		}
	}

	if err := sched.Start(gctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "Watching %d target(s) on schedule %q, next run at %s\n",
		len(targets), cfg.Watch.Schedule, sched.NextRun().Format(time.RFC3339))

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		sched.Stop(stopCtx)
		return nil
	})

	return g.Wait()
}
