// Package goroutine is the in-process flavor of the Supervisor: a
// device-dispatch algorithm that multiplexes full-mode and
// zero-byte-fast workers across devices, and the once/forever sweep
// lifecycles. A worker crash here is a returned error, not a process
// exit, so recovery is simply: log it and let the same goroutine pull
// the next device. See process.Supervisor for the multi-process
// alternative; both satisfy the same interface.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package goroutine

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/fsutil"
)

const defaultInterval = 30 * time.Second

// RunFunc runs one worker sweep restricted to devices, in mode. Errors are
// logged by the caller, not escalated, except the one the worker itself
// chooses to return for an unrecoverable fault (e.g. XattrNotSupported):
// this is still just "one device had a bad sweep," never grounds for
// aborting the supervisor.
type RunFunc func(ctx context.Context, mode audit.Mode, devices []string) error

// Config is the supervisor's device-dispatch configuration.
type Config struct {
	DevicesRoot     string
	OverrideDevices []string // empty means "discover from DevicesRoot"
	Concurrency     int      // full-mode workers in parallel; 0 means 1
	ZeroByteFPS     float64  // > 0 enables the dedicated ZBF worker
	Interval        time.Duration

	Run  RunFunc
	Rand *rand.Rand
}

func (c *Config) concurrency() int {
	if c.Concurrency <= 0 {
		return 1
	}
	return c.Concurrency
}

func (c *Config) interval() time.Duration {
	if c.Interval <= 0 {
		return defaultInterval
	}
	return c.Interval
}

// Supervisor dispatches devices to workers and drives their sweep
// lifecycles.
type Supervisor struct {
	cfg     Config
	stopped atomic.Bool // checked in the hot dispatch loop alongside ctx
}

// New builds a Supervisor. cfg must not be mutated afterward.
func New(cfg Config) *Supervisor { return &Supervisor{cfg: cfg} }

// Stop fail-fasts every in-flight dispatch loop: no goroutine picks up a
// new device after this is called, even one already past its ctx.Done()
// select but still looping. The CLI's signal handler calls this alongside
// cancelling the context.
func (s *Supervisor) Stop() { s.stopped.Store(true) }

// deviceList discovers the device set (unless overridden), then shuffles
// it so repeated sweeps don't always hit the same devices first.
func (s *Supervisor) deviceList() ([]string, error) {
	devices := s.cfg.OverrideDevices
	if len(devices) == 0 {
		discovered, err := fsutil.ReadSubdirNames(s.cfg.DevicesRoot)
		if err != nil {
			return nil, err
		}
		devices = discovered
	}
	devices = append([]string(nil), devices...)
	sort.Strings(devices)
	r := s.cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	r.Shuffle(len(devices), func(i, j int) { devices[i], devices[j] = devices[j], devices[i] })
	return devices, nil
}

// RunOnce performs exactly one full-mode sweep across all devices,
// running the zero-byte-fast worker alongside it (if enabled) for the
// sweep's duration only.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	devices, err := s.deviceList()
	if err != nil {
		return err
	}

	var zbfWG sync.WaitGroup
	var zbfCtx context.Context
	var zbfCancel context.CancelFunc
	if s.cfg.ZeroByteFPS > 0 {
		zbfCtx, zbfCancel = context.WithCancel(ctx)
		zbfWG.Add(1)
		go func() {
			defer zbfWG.Done()
			s.zbfLoop(zbfCtx)
		}()
	}

	s.runFullSweep(ctx, devices)

	if zbfCancel != nil {
		zbfCancel()
		zbfWG.Wait()
	}
	return nil
}

// RunForever repeats RunOnce's full-mode sweep every Interval until ctx is
// cancelled, while the zero-byte-fast worker (if enabled) runs
// continuously across sweep boundaries rather than being torn down
// between them.
func (s *Supervisor) RunForever(ctx context.Context) error {
	var zbfWG sync.WaitGroup
	if s.cfg.ZeroByteFPS > 0 {
		zbfWG.Add(1)
		go func() {
			defer zbfWG.Done()
			s.zbfLoop(ctx)
		}()
	}
	defer zbfWG.Wait()

	for {
		if ctx.Err() != nil || s.stopped.Load() {
			return ctx.Err()
		}
		devices, err := s.deviceList()
		if err != nil {
			alog.Errorf("supervisor: failed to list devices: %v", err)
		} else {
			s.runFullSweep(ctx, devices)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.interval()):
		}
	}
}

// runFullSweep fans the non-zero-byte sweep out across `concurrency`
// goroutines, each pulling one device at a time from a shared queue until
// it's drained. A worker failing on one device is logged and simply moves
// on to the next: the device is not retried this sweep.
func (s *Supervisor) runFullSweep(ctx context.Context, devices []string) {
	queue := make(chan string, len(devices))
	for _, d := range devices {
		queue <- d
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.concurrency(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if s.stopped.Load() {
					return
				}
				select {
				case <-ctx.Done():
					return
				case device, ok := <-queue:
					if !ok {
						return
					}
					if err := s.cfg.Run(ctx, audit.Full, []string{device}); err != nil {
						alog.Errorf("supervisor: full-mode sweep of device %q failed: %v", device, err)
					}
				}
			}
		}()
	}
	wg.Wait()
}

// zbfLoop runs the dedicated zero-byte-fast worker against the full
// device set, respawning it after Interval each time it finishes.
func (s *Supervisor) zbfLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.stopped.Load() {
			return
		}
		devices, err := s.deviceList()
		if err != nil {
			alog.Errorf("supervisor: zero-byte worker: failed to list devices: %v", err)
		} else if err := s.cfg.Run(ctx, audit.ZeroByteFast, devices); err != nil {
			alog.Errorf("supervisor: zero-byte worker exited with error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.interval()):
		}
	}
}
