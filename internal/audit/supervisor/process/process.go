// Package process is the multi-process Supervisor: a fault-isolating
// scheduling model that spawns one child process per device via os/exec
// rather than one goroutine. Device dispatch, recovery, and the
// once/forever lifecycles mirror goroutine.Supervisor exactly; only how a
// worker is actually run differs.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package process

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/fsutil"
)

const defaultInterval = 30 * time.Second

// Config is the process supervisor's device-dispatch configuration.
type Config struct {
	DevicesRoot     string
	OverrideDevices []string
	Concurrency     int
	ZeroByteFPS     float64
	Interval        time.Duration
	ConfigPath      string

	// Executable is the binary re-exec'd for each device; empty selects
	// os.Args[0] (the running objaudit binary itself).
	Executable string
	Rand       *rand.Rand
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

func (c *Config) executable() string {
	if c.Executable != "" {
		return c.Executable
	}
	return os.Args[0]
}

// Supervisor is the process-based alternative to goroutine.Supervisor.
type Supervisor struct {
	cfg     Config
	stopped atomic.Bool
}

func New(cfg Config) *Supervisor { return &Supervisor{cfg: cfg} }

// Stop fail-fasts dispatch the same way goroutine.Supervisor.Stop does,
// and additionally lets in-flight children run to completion rather than
// killing them; cancelling ctx is what terminates them (SIGTERM, then a
// kill if a child outlives the grace period in spawnWorker).
func (s *Supervisor) Stop() { s.stopped.Store(true) }

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

func (s *Supervisor) RunOnce(ctx context.Context) error {
	devices, err := s.deviceList()
	if err != nil {
		return err
	}

	var zbfWG sync.WaitGroup
	var zbfCancel context.CancelFunc
	if s.cfg.ZeroByteFPS > 0 {
		var zbfCtx context.Context
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
			alog.Errorf("process-supervisor: failed to list devices: %v", err)
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
					if err := s.spawnWorker(ctx, audit.Full, device); err != nil {
						alog.Errorf("process-supervisor: device %q worker exited: %v", device, err)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Supervisor) zbfLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.stopped.Load() {
			return
		}
		if err := s.spawnWorker(ctx, audit.ZeroByteFast, ""); err != nil {
			alog.Errorf("process-supervisor: zero-byte worker exited: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.interval()):
		}
	}
}

// spawnWorker re-execs the running binary into its hidden worker-device
// subcommand, one child per device (or the full device set, for the
// zero-byte worker, which the child itself discovers via --config). A
// non-zero exit is reported to the caller, who logs it and simply does
// not retry this device within the current sweep.
func (s *Supervisor) spawnWorker(ctx context.Context, mode audit.Mode, device string) error {
	args := []string{"worker-device", "--mode", cliModeFlag(mode), "--config", s.cfg.ConfigPath}
	if device != "" {
		args = append(args, "--device", device)
	}
	cmd := exec.CommandContext(ctx, s.cfg.executable(), args...)
	// on ctx cancellation the child gets SIGTERM first, and is killed only
	// if it has not exited within the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker-device %v: %w", args, err)
	}
	return nil
}

// cliModeFlag renders mode the way the CLI's --mode flag spells it
// (lowercase full|zbf), distinct from audit.Mode.String()'s ALL/ZBF used
// in logs and the recon cache key.
func cliModeFlag(mode audit.Mode) string {
	if mode == audit.ZeroByteFast {
		return "zbf"
	}
	return "full"
}
