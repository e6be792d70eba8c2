package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/policy"
	"github.com/NVIDIA/objaudit/internal/audit/supervisor"
	"github.com/NVIDIA/objaudit/internal/audit/supervisor/goroutine"
	"github.com/NVIDIA/objaudit/internal/audit/supervisor/process"
	"github.com/NVIDIA/objaudit/internal/config"
)

// commonFlags are shared by once, forever, and worker-device.
type commonFlags struct {
	configPath  string
	devicesCSV  string
	zeroByteFPS float64
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to an objaudit YAML config file")
	cmd.Flags().StringVar(&f.devicesCSV, "devices", "", "comma-separated device override (default: discover from config's devices root)")
	cmd.Flags().Float64Var(&f.zeroByteFPS, "zero-byte-fps", -1, "override zero_byte_files_per_second (<0 keeps the config value)")
}

func (f *commonFlags) loadConfig() (config.Config, []string, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.zeroByteFPS >= 0 {
		cfg.ZeroByteFilesPerSecond = f.zeroByteFPS
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	var devices []string
	if f.devicesCSV != "" {
		for _, d := range strings.Split(f.devicesCSV, ",") {
			if d = strings.TrimSpace(d); d != "" {
				devices = append(devices, d)
			}
		}
	}
	return cfg, devices, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "objaudit",
		Short:         "Continuously audit on-disk objects for bit-rot and metadata corruption",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newOnceCmd(), newForeverCmd(), newWorkerDeviceCmd())
	return root
}

func newOnceCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single full-device sweep, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, devices, err := flags.loadConfig()
			if err != nil {
				return &configError{err}
			}
			sup, reg := buildSupervisor(cfg, flags.configPath, devices)
			return runSupervised(sup, reg, func(ctx context.Context) error {
				return sup.RunOnce(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newForeverCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "forever",
		Short: "Sweep, sleep, repeat until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, devices, err := flags.loadConfig()
			if err != nil {
				return &configError{err}
			}
			sup, reg := buildSupervisor(cfg, flags.configPath, devices)
			return runSupervised(sup, reg, func(ctx context.Context) error {
				return sup.RunForever(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// newWorkerDeviceCmd is the hidden single-device entry point that
// process.Supervisor re-execs the binary into.
func newWorkerDeviceCmd() *cobra.Command {
	var (
		flags      commonFlags
		device     string
		modeString string
	)
	cmd := &cobra.Command{
		Use:    "worker-device",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, devices, err := flags.loadConfig()
			if err != nil {
				return &configError{err}
			}
			if device != "" {
				devices = []string{device}
			}
			mode := modeFromFlag(modeString)
			reg := policy.NewRegistry(cfg.KnownPolicies)
			w := makeWorkerRunFunc(cfg, reg)
			return w(context.Background(), mode, devices)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&device, "device", "", "single device name to audit")
	cmd.Flags().StringVar(&modeString, "mode", "full", "full or zbf")
	return cmd
}

// runSupervised runs the given lifecycle under a context cancelled by
// SIGTERM/SIGINT, setting the package-level exitCode to 2 when a signal
// (rather than natural completion) is what ended it.
func runSupervised(sup supervisor.Supervisor, _ *policy.Registry, lifecycle func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- lifecycle(ctx) }()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	case <-ctx.Done():
		alog.Infof("objaudit: signal received, stopping")
		sup.Stop()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			alog.Warningf("objaudit: grace period elapsed, exiting anyway")
		}
		exitCode = 2
		return nil
	}
}

// buildSupervisor constructs the goroutine- or process-based Supervisor
// selected by cfg.Scheduler. The process flavor needs the config's own
// path (to pass to re-exec'd workers) in addition to everything the
// goroutine flavor needs.
func buildSupervisor(cfg config.Config, configPath string, overrideDevices []string) (supervisor.Supervisor, *policy.Registry) {
	reg := policy.NewRegistry(cfg.KnownPolicies)

	if cfg.SchedulerOrDefault() == "process" {
		sup := process.New(process.Config{
			DevicesRoot:     cfg.DevicesRoot,
			OverrideDevices: overrideDevices,
			Concurrency:     cfg.Concurrency,
			ZeroByteFPS:     cfg.ZeroByteFilesPerSecond,
			Interval:        time.Duration(cfg.Interval) * time.Second,
			ConfigPath:      configPath,
		})
		return sup, reg
	}

	run := makeWorkerRunFunc(cfg, reg)
	sup := goroutine.New(goroutine.Config{
		DevicesRoot:     cfg.DevicesRoot,
		OverrideDevices: overrideDevices,
		Concurrency:     cfg.Concurrency,
		ZeroByteFPS:     cfg.ZeroByteFilesPerSecond,
		Interval:        time.Duration(cfg.Interval) * time.Second,
		Run:             run,
	})
	return sup, reg
}

func modeFromFlag(s string) audit.Mode {
	if s == "zbf" {
		return audit.ZeroByteFast
	}
	return audit.Full
}
