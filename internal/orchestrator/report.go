package orchestrator

import (
	"time"

	"github.com/anstrom/nemesis/internal/scanning"
)

// State is the terminal state of one target's workflow.
type State int

const (
	// StateIdle is the zero value; no attempt has run.
	StateIdle State = iota
	// StateDone means the primary attempt succeeded (and enrichment ran if enabled).
	StateDone
	// StateDegraded means only the fallback attempt succeeded.
	StateDegraded
	// StateFailed means both attempts failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// TargetReport summarizes one target's workflow.
type TargetReport struct {
	Target       string
	State        State
	StartedAt    time.Time
	Duration     time.Duration
	Hosts        int
	Ports        int
	Enriched     int
	EnrichFailed int
	// PrimaryErr is set whenever the primary attempt failed.
	PrimaryErr error
	// Err is set when State is StateFailed.
	Err error
}

// Report summarizes a run. It is never persisted.
type Report struct {
	RunID      string
	Tier       scanning.SizeTier
	PortBudget int
	// StartedAt is when the first scan attempt began; zero if none did.
	StartedAt time.Time
	Duration  time.Duration
	Targets   []TargetReport
	// Persisted is true when the artifact was written.
	Persisted bool

	result scanning.ScanResult
}

// Result returns the merged result that was persisted, or nil.
func (r *Report) Result() scanning.ScanResult {
	return r.result
}

// Failed returns the reports of targets whose scan failed.
func (r *Report) Failed() []TargetReport {
	var failed []TargetReport
	for _, t := range r.Targets {
		if t.State == StateFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// Degraded returns the reports of targets that were only scanned in degraded mode.
func (r *Report) Degraded() []TargetReport {
	var degraded []TargetReport
	for _, t := range r.Targets {
		if t.State == StateDegraded {
			degraded = append(degraded, t)
		}
	}
	return degraded
}
