package main

import (
	"context"
	"strings"
	"time"

	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/policy"
	"github.com/NVIDIA/objaudit/internal/audit/quarantine"
	"github.com/NVIDIA/objaudit/internal/audit/ratelimit"
	"github.com/NVIDIA/objaudit/internal/audit/recon"
	"github.com/NVIDIA/objaudit/internal/audit/statsbuckets"
	"github.com/NVIDIA/objaudit/internal/audit/verifier"
	"github.com/NVIDIA/objaudit/internal/audit/worker"
	"github.com/NVIDIA/objaudit/internal/audit/xattr"
	"github.com/NVIDIA/objaudit/internal/config"
)

// makeWorkerRunFunc builds the function both the goroutine and process
// Supervisors call to run one worker.Worker sweep: it wires together
// everything a single sweep owns fresh each call, so concurrent calls for
// different devices never share rate-limiter or bucket state.
func makeWorkerRunFunc(cfg config.Config, reg *policy.Registry) func(ctx context.Context, mode audit.Mode, devices []string) error {
	return func(ctx context.Context, mode audit.Mode, devices []string) error {
		thresholds, err := statsbuckets.ParseThresholds(cfg.ObjectSizeStats)
		if err != nil {
			return err
		}
		buckets := statsbuckets.New(thresholds)

		filesRate := cfg.FilesPerSecond
		if mode == audit.ZeroByteFast {
			filesRate = cfg.ZeroByteFilesPerSecond
		}

		sink := &quarantine.Sink{}
		v := &verifier.Verifier{
			Metadata:      xattr.Store{},
			Quarantine:    sink,
			BytesGovernor: ratelimit.New(cfg.BytesPerSecond, 0),
			ChunkSize:     cfg.DiskChunkSize,
			Hash:          verifier.HashConfig{Prefix: cfg.HashPathPrefix, Suffix: cfg.HashPathSuffix},
		}

		var reconCache *recon.Cache
		if cfg.ReconCachePath != "" {
			reconCache = &recon.Cache{Path: cfg.ReconCachePath}
		}

		deviceKey := strings.Join(devices, "+")
		if deviceKey == "" {
			deviceKey = "all"
		}
		// sink.Counter is left nil: the worker's own Quarantines counter
		// (incremented in failsafeAudit from the Result it gets back) is
		// authoritative, so the sink doesn't need a second one.

		w := worker.New(worker.Config{
			Mode:          mode,
			DevicesRoot:   cfg.DevicesRoot,
			DeviceFilter:  devices,
			MountCheck:    cfg.MountCheck,
			Registry:      reg,
			Verifier:      v,
			FilesGovernor: ratelimit.New(filesRate, 0),
			Buckets:       buckets,
			Recon:         reconCache,
			Device:        deviceKey,
			LogInterval:   time.Duration(cfg.LogTime) * time.Second,
		})
		return w.Run(ctx)
	}
}
