// Package orchestrator drives one scan-and-enrich workflow: resolve the size
// tier, scan each target with a single degraded fallback, fingerprint web
// endpoints found by the primary scan, and persist one consolidated result.
package orchestrator

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/fingerprint"
	"github.com/anstrom/nemesis/internal/logging"
	"github.com/anstrom/nemesis/internal/metrics"
	"github.com/anstrom/nemesis/internal/output"
	"github.com/anstrom/nemesis/internal/scanning"
)

// DefaultFingerprintKey is the scripts key fingerprint output is stored under.
const DefaultFingerprintKey = "webanalyze"

// DefaultScripts are the vulnerability scripts run by the primary attempt.
var DefaultScripts = []string{"vulners", "vulscan/vulscan.nse"}

// Config controls the workflow. It is fixed for the lifetime of an Orchestrator.
type Config struct {
	// DefaultSize applies when a request leaves the tier unset.
	DefaultSize scanning.SizeTier
	// ServiceDetection enables version detection on the primary attempt.
	ServiceDetection bool
	// Scripts run on the primary attempt.
	Scripts []string
	// OSDetection adds -O to the primary attempt. Requires root.
	OSDetection bool
	// Webscan enables fingerprinting of web endpoints.
	Webscan bool
	// FingerprintKey overrides DefaultFingerprintKey.
	FingerprintKey string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DefaultSize:      scanning.DefaultSizeTier,
		ServiceDetection: true,
		Scripts:          append([]string(nil), DefaultScripts...),
		Webscan:          true,
		FingerprintKey:   DefaultFingerprintKey,
	}
}

// Request is one invocation: one or more targets scanned at one tier.
type Request struct {
	Targets []string
	Size    scanning.SizeTier
}

// Orchestrator runs scan workflows. It holds no per-run state.
type Orchestrator struct {
	cfg           Config
	scanner       scanning.Scanner
	fingerprinter fingerprint.Fingerprinter
	store         output.Store
	logger        *logging.Logger
	metrics       *metrics.PrometheusMetrics
	now           func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is logging.Default().
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records into m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. fingerprinter may be nil, which disables
// enrichment regardless of cfg.Webscan.
func New(cfg Config, scanner scanning.Scanner, fingerprinter fingerprint.Fingerprinter,
	store output.Store, opts ...Option) *Orchestrator {
	if cfg.FingerprintKey == "" {
		cfg.FingerprintKey = DefaultFingerprintKey
	}

	o := &Orchestrator{
		cfg:           cfg,
		scanner:       scanner,
		fingerprinter: fingerprinter,
		store:         store,
		logger:        logging.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("orchestrator")
	return o
}

// ResolveSizeTier applies the configured default to requested.
func (o *Orchestrator) ResolveSizeTier(requested scanning.SizeTier) (scanning.SizeTier, int) {
	return scanning.ResolveSizeTier(requested, o.cfg.DefaultSize)
}

// Run executes the workflow for every target in req, sequentially, and
// persists the merged result once if any target produced data.
//
// The returned error is a ConfigError when the request is unusable, a
// CodePersistence ScanError when the artifact could not be written, or the
// joined CodeScanFailed errors of the targets that failed. The report is
// returned in every case except an invalid request.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	tier, budget := o.ResolveSizeTier(req.Size)
	report := &Report{
		RunID:      uuid.NewString(),
		Tier:       tier,
		PortBudget: budget,
	}
	log := o.logger.WithRunID(report.RunID)
	log.Info("Run started", "targets", len(req.Targets), "size", tier.String(), "ports", budget)

	merged := make(scanning.ScanResult)
	var failures []error

	for _, target := range req.Targets {
		tr, result := o.runTarget(ctx, log, target, tier, budget)
		if report.StartedAt.IsZero() {
			report.StartedAt = tr.StartedAt
		}
		report.Targets = append(report.Targets, tr)

		if tr.Err != nil {
			failures = append(failures, tr.Err)
			continue
		}
		if overlapping := merged.Merge(result); len(overlapping) > 0 {
			log.Warn("Target overlaps an earlier target, keeping the more detailed port records",
				"target", target, "hosts", overlapping)
		}
	}
	report.Duration = elapsed(o.now, report.StartedAt)

	if len(failures) == len(req.Targets) {
		o.metrics.RecordRun(metrics.StatusError, o.now())
		log.Error("Run failed, no results written", "duration", report.Duration)
		return report, stderrors.Join(failures...)
	}

	if err := o.persist(log, merged); err != nil {
		o.metrics.RecordRun(metrics.StatusError, o.now())
		return report, err
	}
	report.Persisted = true
	report.result = merged
	o.metrics.RecordRun(metrics.StatusSuccess, o.now())

	log.Info("Run finished",
		"duration", report.Duration,
		"hosts", len(merged),
		"ports", merged.PortCount(),
		"failed_targets", len(failures))

	if len(failures) > 0 {
		return report, stderrors.Join(failures...)
	}
	return report, nil
}

// runTarget drives the per-target state machine.
func (o *Orchestrator) runTarget(ctx context.Context, log *logging.Logger, target string,
	tier scanning.SizeTier, budget int) (TargetReport, scanning.ScanResult) {
	tr := TargetReport{Target: target, StartedAt: o.now()}

	outcome := o.runScan(ctx, log, target, budget)
	tr.PrimaryErr = outcome.PrimaryErr

	status := metrics.StatusSuccess
	switch {
	case outcome.Err != nil:
		tr.State = StateFailed
		tr.Err = outcome.Err
		status = metrics.StatusError
		log.ErrorScan("Scan failed", target, outcome.Err, "code", errors.Summary(outcome.Err))
	case outcome.Degraded:
		tr.State = StateDegraded
	default:
		tr.State = StateDone
		if o.enrichmentEnabled() {
			tr.Enriched, tr.EnrichFailed = o.enrichWebServices(ctx, log, outcome.Result)
		}
	}

	tr.Duration = elapsed(o.now, tr.StartedAt)
	o.metrics.RecordScanDuration(tier.String(), status, tr.Duration)

	if outcome.Result != nil {
		tr.Hosts = len(outcome.Result)
		tr.Ports = outcome.Result.PortCount()
		log.InfoScan("Scan finished", target,
			"state", tr.State.String(),
			"hosts", tr.Hosts,
			"ports", tr.Ports,
			"duration", tr.Duration)
	}
	return tr, outcome.Result
}

// ScanOutcome is the discriminated result of RunScan. Exactly one of Result
// and Err is set.
type ScanOutcome struct {
	Result scanning.ScanResult
	// Degraded is true when Result came from the fallback attempt.
	Degraded bool
	// PrimaryErr is a CodeScanUnavailable error wrapping why the primary
	// attempt failed, if it did.
	PrimaryErr error
	// Err is a CodeScanFailed error when both attempts failed.
	Err error
}

// RunScan scans target with the primary options and, if that fails, once
// more without service detection, scripts or OS detection.
func (o *Orchestrator) RunScan(ctx context.Context, target string, budget int) ScanOutcome {
	return o.runScan(ctx, o.logger, target, budget)
}

func (o *Orchestrator) runScan(ctx context.Context, log *logging.Logger, target string, budget int) ScanOutcome {
	primary := scanning.ScanOptions{
		Target:           target,
		PortBudget:       budget,
		ServiceDetection: o.cfg.ServiceDetection,
		Scripts:          o.cfg.Scripts,
		OSDetection:      o.cfg.OSDetection,
	}

	log.InfoScan("Scan started", target, "ports", budget, "scripts", strings.Join(primary.Scripts, ","))
	result, err := o.scanner.Scan(ctx, primary)
	if err == nil {
		o.metrics.IncrementScanAttempts(metrics.ModePrimary, metrics.StatusSuccess)
		o.metrics.AddPortsFound(metrics.ModePrimary, result.PortCount())
		return ScanOutcome{Result: ensureResult(result)}
	}
	o.metrics.IncrementScanAttempts(metrics.ModePrimary, metrics.StatusError)
	primaryErr := errors.ErrScanUnavailable(target, err)

	// An interrupted primary attempt is not a degradation.
	if ctx.Err() != nil {
		return ScanOutcome{PrimaryErr: primaryErr, Err: errors.ErrScanFailed(target, err)}
	}

	reason := errors.CauseCode(err)
	o.metrics.IncrementFallbacks(string(reason))
	log.WarnDegraded("Primary scan failed, retrying in degraded mode", target, primaryErr, "reason", string(reason))

	result, fallbackErr := o.scanner.Scan(ctx, primary.Degraded())
	if fallbackErr == nil {
		o.metrics.IncrementScanAttempts(metrics.ModeFallback, metrics.StatusSuccess)
		o.metrics.AddPortsFound(metrics.ModeFallback, result.PortCount())
		return ScanOutcome{Result: ensureResult(result), Degraded: true, PrimaryErr: primaryErr}
	}
	o.metrics.IncrementScanAttempts(metrics.ModeFallback, metrics.StatusError)

	return ScanOutcome{
		PrimaryErr: primaryErr,
		Err: errors.ErrScanFailed(target, fallbackErr).
			WithContext("primary_error", err.Error()).
			WithContext("primary_code", string(reason)),
	}
}

func (o *Orchestrator) enrichmentEnabled() bool {
	return o.cfg.Webscan && o.fingerprinter != nil
}

// EnrichWebServices fingerprints every http/https port in result and attaches
// the output under the configured key. Failures leave the record untouched.
// It returns how many endpoints were enriched and how many failed.
func (o *Orchestrator) EnrichWebServices(ctx context.Context, result scanning.ScanResult) (int, int) {
	if !o.enrichmentEnabled() {
		return 0, 0
	}
	return o.enrichWebServices(ctx, o.logger, result)
}

func (o *Orchestrator) enrichWebServices(ctx context.Context, log *logging.Logger, result scanning.ScanResult) (int, int) {
	enriched, failed := 0, 0

	addrs := make([]string, 0, len(result))
	for addr := range result {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		host := result[addr]
		for i := range host.Ports {
			p := &host.Ports[i]
			if !p.IsWebService() {
				continue
			}

			url := p.URL(host.DisplayName(addr))
			payload, err := o.fingerprinter.Fingerprint(ctx, url)
			if err != nil {
				failed++
				o.metrics.IncrementFingerprints(metrics.StatusError)
				log.WarnEnrich("Fingerprinting failed, endpoint left unenriched", url,
					errors.WrapScanErrorWithTarget(errors.CodeEnrichmentFailed, "fingerprint failed", url, err))
				continue
			}

			if p.Scripts == nil {
				p.Scripts = make(map[string]any)
			}
			p.Scripts[o.cfg.FingerprintKey] = payload
			enriched++
			o.metrics.IncrementFingerprints(metrics.StatusSuccess)
			log.InfoEnrich("Fingerprint attached", url, "documents", len(payload))
		}
	}
	return enriched, failed
}

func (o *Orchestrator) persist(log *logging.Logger, result scanning.ScanResult) error {
	if err := o.store.Persist(result); err != nil {
		log.Error("Failed to write results", "code", errors.Summary(err))
		log.Debug("Failed to write results (detail)", "error", err)
		if errors.IsCode(err, errors.CodePersistence) {
			return err
		}
		return errors.WrapScanError(errors.CodePersistence, "Failed to write results", err)
	}
	if fs, ok := o.store.(*output.FileStore); ok {
		log.Info("Results written", "path", fs.Path())
	} else {
		log.Info("Results written")
	}
	return nil
}

func validateRequest(req Request) error {
	if len(req.Targets) == 0 {
		return errors.ErrConfigMissing("target")
	}
	for _, t := range req.Targets {
		if strings.TrimSpace(t) == "" {
			return errors.ErrConfigInvalid("target", t)
		}
	}
	return nil
}

// ensureResult turns a nil map from a collaborator into an empty result so
// that a successful scan is always persisted.
func ensureResult(r scanning.ScanResult) scanning.ScanResult {
	if r == nil {
		return make(scanning.ScanResult)
	}
	return r
}

// elapsed returns the time since start, or zero if start was never set.
func elapsed(now func() time.Time, start time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	return now().Sub(start)
}
