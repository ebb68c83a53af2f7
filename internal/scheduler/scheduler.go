// Package scheduler re-runs the nemesis workflow on a cron schedule for the
// watch command. Ticks never overlap: a tick that fires while the previous
// run is still going is skipped.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/logging"
)

// RunFunc is one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler manages a single recurring job.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger
	job    *ScheduledJob
	mu     sync.RWMutex

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob describes the recurring job and its last outcome.
type ScheduledJob struct {
	ID         uuid.UUID
	CronID     cron.EntryID
	Expression string
	LastRun    time.Time
	LastErr    error
	Runs       int
	Running    bool
}

// NewScheduler creates a new job scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule registers run under cronExpr. Standard five-field expressions and
// descriptors such as @daily or @every 30m are accepted. Only one job can be
// registered.
func (s *Scheduler) Schedule(cronExpr string, run RunFunc) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		return fmt.Errorf("a job is already scheduled")
	}

	job := &ScheduledJob{ID: uuid.New(), Expression: cronExpr}
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(run) })
	if err != nil {
		return fmt.Errorf("failed to add job to scheduler: %w", err)
	}
	job.CronID = cronID
	s.job = job

	s.logger.Info("Job scheduled", "job_id", job.ID.String(), "schedule", cronExpr)
	return nil
}

// Start begins the scheduler. Runs receive a context derived from ctx, so
// canceling ctx interrupts a run in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.job == nil {
		return fmt.Errorf("no job scheduled")
	}

	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "next_run", s.cron.Entry(s.job.CronID).Next)
	return nil
}

// Stop stops the scheduler and waits for a run in progress to finish or
// for ctx to expire. The run's context is canceled either way.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Run still in progress at shutdown, canceling")
	}
	s.cancel()

	s.logger.Info("Scheduler stopped")
}

// Job returns a copy of the scheduled job, or nil.
func (s *Scheduler) Job() *ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.job == nil {
		return nil
	}
	job := *s.job
	return &job
}

// NextRun returns when the job fires next; zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.job == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.job.CronID).Next
}

// execute runs one tick.
func (s *Scheduler) execute(run RunFunc) {
	s.mu.Lock()
	job := s.job
	ctx := s.ctx
	job.Running = true
	job.LastRun = time.Now()
	job.Runs++
	n := job.Runs
	s.mu.Unlock()

	s.logger.Info("Scheduled run started", "job_id", job.ID.String(), "run", n)
	err := run(ctx)

	s.mu.Lock()
	job.Running = false
	job.LastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled run failed", "job_id", job.ID.String(), "run", n,
			"code", string(errors.GetCode(err)))
		s.logger.Debug("Scheduled run failed (detail)", "job_id", job.ID.String(), "run", n, "error", err)
		return
	}
	s.logger.Info("Scheduled run completed", "job_id", job.ID.String(), "run", n)
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
