// Package walker implements a lazy, finite, single-pass enumerator of
// AuditLocations over a device tree: a producer goroutine that walks
// devices, policy directories, partitions, and hash-suffix levels, and
// feeds each hash directory it finds to a channel.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package walker

import (
	"context"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/fsutil"
	"github.com/NVIDIA/objaudit/internal/audit/policy"
)

// Options configures one sweep of the device tree.
type Options struct {
	DevicesRoot string
	// DeviceFilter restricts the sweep to these device names, intersected
	// with what's actually present. Empty means "all devices."
	DeviceFilter []string
	MountCheck   bool
	Registry     *policy.Registry
	// Rand, when non-nil, drives device-order shuffling; nil selects the
	// package-level default source. Exposed for deterministic tests.
	Rand *rand.Rand
}

// Result is one element of the walker's output stream: either a location
// or a propagated (non-transient) error.
type Result struct {
	Loc audit.AuditLocation
	Err error
}

// Walk starts a producer goroutine enumerating opts.DevicesRoot and returns
// the channel it feeds. The channel is closed when the sweep completes or
// ctx is cancelled. Consumption must be single-threaded and sequential.
func Walk(ctx context.Context, opts Options) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		emit := func(r Result) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}
		walkDevices(ctx, opts, emit)
	}()
	return out
}

func walkDevices(ctx context.Context, opts Options, emit func(Result) bool) {
	devices, err := fsutil.ReadSubdirNames(opts.DevicesRoot)
	if err != nil {
		emit(Result{Err: err})
		return
	}
	devices = intersect(devices, opts.DeviceFilter)
	shuffle(devices, opts.Rand)

	for _, device := range devices {
		if ctx.Err() != nil {
			return
		}
		devicePath := filepath.Join(opts.DevicesRoot, device)
		if opts.MountCheck && !fsutil.IsMountPoint(devicePath) {
			alog.Infof("walker: %s is not a mount point, skipping", devicePath)
			continue
		}
		if !walkDevice(ctx, devicePath, device, opts, emit) {
			return
		}
	}
}

func walkDevice(ctx context.Context, devicePath, device string, opts Options, emit func(Result) bool) bool {
	children, err := fsutil.ReadSubdirNames(devicePath)
	if err != nil {
		return emit(Result{Err: err})
	}
	for _, child := range children {
		idx, perr := policy.Extract(child)
		if perr != nil {
			continue // not a policy directory at all; silently skip
		}
		if !opts.Registry.IsKnown(idx) {
			alog.Warningf("walker: %s: unknown storage policy %d, skipping", filepath.Join(devicePath, child), idx)
			continue
		}
		if !walkPolicyDir(ctx, filepath.Join(devicePath, child), device, idx, emit) {
			return false
		}
	}
	return true
}

func walkPolicyDir(ctx context.Context, policyPath, device string, idx int, emit func(Result) bool) bool {
	partitions, err := fsutil.ReadSubdirNames(policyPath)
	if err != nil {
		return emit(Result{Err: err})
	}
	for _, partition := range partitions {
		if ctx.Err() != nil {
			return false
		}
		partitionPath := filepath.Join(policyPath, partition)
		suffixes, err := fsutil.ReadSubdirNames(partitionPath)
		if err != nil {
			if !emit(Result{Err: err}) {
				return false
			}
			continue
		}
		for _, suffix := range suffixes {
			suffixPath := filepath.Join(partitionPath, suffix)
			hashes, err := fsutil.ReadSubdirNames(suffixPath)
			if err != nil {
				if !emit(Result{Err: err}) {
					return false
				}
				continue
			}
			for _, hash := range hashes {
				loc := audit.AuditLocation{
					Path:      filepath.Join(suffixPath, hash),
					Device:    device,
					Partition: partition,
					Policy:    idx,
				}
				if !emit(Result{Loc: loc}) {
					return false
				}
			}
		}
	}
	return true
}

func intersect(present, filter []string) []string {
	if len(filter) == 0 {
		return present
	}
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}
	out := make([]string, 0, len(present))
	for _, d := range present {
		if want[d] {
			out = append(out, d)
		}
	}
	return out
}

func shuffle(devices []string, r *rand.Rand) {
	sort.Strings(devices) // deterministic starting order before randomizing
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	r.Shuffle(len(devices), func(i, j int) { devices[i], devices[j] = devices[j], devices[i] })
}
