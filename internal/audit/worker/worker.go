// Package worker implements one sweep over a device subset at a fixed
// mode: driving the location walker through the object verifier, pacing
// with per-worker rate governors, and periodically reporting counters.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/policy"
	"github.com/NVIDIA/objaudit/internal/audit/ratelimit"
	"github.com/NVIDIA/objaudit/internal/audit/recon"
	"github.com/NVIDIA/objaudit/internal/audit/statsbuckets"
	"github.com/NVIDIA/objaudit/internal/audit/walker"
)

const defaultLogInterval = 3600 * time.Second

// Verifier is the subset of *verifier.Verifier the worker needs, narrowed
// to an interface so tests can fake it without touching a filesystem.
type Verifier interface {
	Audit(loc audit.AuditLocation, mode audit.Mode, expectedName string) audit.Result
}

// Config is everything one sweep needs, all owned exclusively by this
// worker for the sweep's duration.
type Config struct {
	Mode         audit.Mode
	DevicesRoot  string
	DeviceFilter []string
	MountCheck   bool
	Registry     *policy.Registry
	Rand         *rand.Rand

	// Verifier is configured with its own bytes RateGovernor already;
	// the worker only paces files, per object, after each audit.
	Verifier      Verifier
	FilesGovernor *ratelimit.Governor
	Buckets       *statsbuckets.Buckets
	Recon         *recon.Cache
	Device        string // the recon-cache row key for this worker

	LogInterval time.Duration // 0 selects the default (3600s)
	Now         func() time.Time
}

func (c *Config) logInterval() time.Duration {
	if c.LogInterval > 0 {
		return c.LogInterval
	}
	return defaultLogInterval
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Worker runs one sweep over a device subset, from the first location the
// walker yields through the final summary log.
type Worker struct {
	cfg     Config
	counter audit.AuditorCounters
}

// New builds a Worker. cfg must not be mutated afterward.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

// Run sweeps every AuditLocation the walker yields until the channel
// closes or ctx is cancelled, then emits the final summary. It never
// returns an error for per-object failures, which are folded into the
// worker's counters instead, but does return one if the walker itself
// reports a hard, sweep-level failure (e.g. the devices root is
// unreadable).
func (w *Worker) Run(ctx context.Context) error {
	start := w.cfg.now()
	w.counter = audit.AuditorCounters{LastReportWallClock: start.UnixNano()}
	reportDeadline := start.Add(w.cfg.logInterval())

	results := walker.Walk(ctx, walker.Options{
		DevicesRoot:  w.cfg.DevicesRoot,
		DeviceFilter: w.cfg.DeviceFilter,
		MountCheck:   w.cfg.MountCheck,
		Registry:     w.cfg.Registry,
		Rand:         w.cfg.Rand,
	})

	var walkErr error
	for res := range results {
		if res.Err != nil {
			// a sweep-level walk error (unreadable devices root, etc.) is
			// logged and remembered, but does not stop in-flight progress
			// reporting: only a configuration fault escalates.
			alog.Errorf("worker: walk error: %v", res.Err)
			walkErr = res.Err
			continue
		}

		if fatal := w.failsafeAudit(res.Loc); fatal != nil {
			// XattrNotSupported propagates out of the worker. Stop
			// consuming further locations; the worker's device needs
			// operator attention, not a retry.
			w.finalSummary()
			return fatal
		}

		if w.cfg.FilesGovernor != nil {
			w.cfg.FilesGovernor.SleepIfNeeded(1)
		}
		w.counter.TotalFilesProcessed++

		if !w.cfg.now().Before(reportDeadline) {
			w.report()
			reportDeadline = w.cfg.now().Add(w.cfg.logInterval())
		}
	}

	w.finalSummary()
	return walkErr
}

// failsafeAudit is the catch-all dispatch: every Outcome except NotExist
// maps to exactly one counter update, and a Go panic from deep inside the verifier (a bug,
// not an expected fault) is recovered here rather than taking the whole
// sweep down with it. It returns non-nil only for the one fault that must
// propagate out of the worker entirely.
func (w *Worker) failsafeAudit(loc audit.AuditLocation) (fatal error) {
	res := w.safeAudit(loc)

	switch res.Outcome {
	case audit.OutcomePassed, audit.OutcomeDeleted, audit.OutcomeExpired:
		w.counter.Passes++
	case audit.OutcomeNotExist:
		// ignored: neither pass nor error
	case audit.OutcomeQuarantined:
		w.counter.Quarantines++
		alog.Errorf("worker: quarantined %s: %s", loc, res.Reason)
	case audit.OutcomeCollision:
		w.counter.Errors++
		alog.Warningf("worker: collision at %s: %s", loc, res.Reason)
	case audit.OutcomeFatal:
		if errors.Is(res.Err, audit.ErrXattrNotSupported) {
			return res.Err
		}
		w.counter.Errors++
		alog.Exception("worker: unexpected fault auditing "+loc.String(), res.Err)
	default:
		w.counter.Errors++
		alog.Errorf("worker: unrecognized outcome %v auditing %s", res.Outcome, loc)
	}

	if res.Size > 0 && w.cfg.Buckets != nil {
		w.cfg.Buckets.Record(res.Size)
	}
	// Only bytes actually streamed off disk count toward the byte-rate
	// counters: a ZeroByteFast pass that short-circuited the body never
	// touched it, so it contributes 0 here even though res.Size (used
	// above for size bucketing) is the object's full Content-Length.
	w.counter.BytesProcessed += res.BytesRead
	w.counter.TotalBytesProcessed += res.BytesRead
	return nil
}

// safeAudit recovers from a panic escaping the verifier (a bug, since
// every expected fault is expressed as a Result, not a panic) and folds
// it into a Fatal outcome so one broken object never kills the sweep.
func (w *Worker) safeAudit(loc audit.AuditLocation) (res audit.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = audit.Result{Outcome: audit.OutcomeFatal, Err: toError(r)}
		}
	}()
	return w.cfg.Verifier.Audit(loc, w.cfg.Mode, "")
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic during audit: %w", err)
	}
	return fmt.Errorf("panic during audit: %v", r)
}

// report emits the periodic structured log and stats-cache flush, then
// resets the per-interval counters.
func (w *Worker) report() {
	elapsed := time.Duration(w.cfg.now().UnixNano()-w.counter.LastReportWallClock) * time.Nanosecond
	rate := 0.0
	if elapsed > 0 {
		rate = float64(w.counter.TotalFilesProcessed) / elapsed.Seconds()
	}
	alog.Infof("worker[%s/%s]: passes=%d quarantines=%d errors=%d bytes=%d rate=%.2f/s",
		w.cfg.Device, w.cfg.Mode, w.counter.Passes, w.counter.Quarantines, w.counter.Errors,
		w.counter.BytesProcessed, rate)

	if w.cfg.Recon != nil {
		entry := recon.Entry{
			Passes:         w.counter.Passes,
			Quarantines:    w.counter.Quarantines,
			Errors:         w.counter.Errors,
			BytesProcessed: w.counter.BytesProcessed,
			StartTime:      float64(w.counter.LastReportWallClock) / float64(time.Second),
			AuditTime:      elapsed.Seconds(),
		}
		statsKey := "object_auditor_stats_" + w.cfg.Mode.String()
		if err := w.cfg.Recon.Update(statsKey, w.cfg.Device, entry); err != nil {
			alog.Errorf("worker: failed to update recon cache: %v", err)
		}
	}

	w.counter.Passes = 0
	w.counter.Quarantines = 0
	w.counter.Errors = 0
	w.counter.BytesProcessed = 0
	w.counter.LastReportWallClock = w.cfg.now().UnixNano()
}

// finalSummary logs the sweep-lifetime totals and the size-bucket
// breakdown.
func (w *Worker) finalSummary() {
	bucketSummary := ""
	if w.cfg.Buckets != nil && w.cfg.Buckets.Enabled() {
		bucketSummary = " buckets={" + w.cfg.Buckets.Snapshot() + "}"
	}
	alog.Infof("worker[%s/%s]: sweep complete: total_files=%d total_bytes=%d%s",
		w.cfg.Device, w.cfg.Mode, w.counter.TotalFilesProcessed, w.counter.TotalBytesProcessed, bucketSummary)
}
