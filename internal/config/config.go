// Package config is the auditor's typed configuration surface, loaded
// from (in ascending priority) built-in defaults, an optional YAML file,
// and CLI flags bound by cmd/objaudit.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/objaudit/internal/audit/statsbuckets"
)

// Config is the full set of auditor configuration keys.
type Config struct {
	DevicesRoot            string  `yaml:"devices"`
	MountCheck             bool    `yaml:"mount_check"`
	Concurrency            int     `yaml:"concurrency"`
	FilesPerSecond         float64 `yaml:"files_per_second"`
	BytesPerSecond         float64 `yaml:"bytes_per_second"`
	ZeroByteFilesPerSecond float64 `yaml:"zero_byte_files_per_second"`
	LogTime                int     `yaml:"log_time"`
	Interval               int     `yaml:"interval"`
	ReconCachePath         string  `yaml:"recon_cache_path"`
	ObjectSizeStats        string  `yaml:"object_size_stats"`
	DiskChunkSize          int     `yaml:"disk_chunk_size"`
	KnownPolicies          []int   `yaml:"known_policies"`
	HashPathPrefix         string  `yaml:"hash_path_prefix"`
	HashPathSuffix         string  `yaml:"hash_path_suffix"`

	// Scheduler selects which Supervisor implementation dispatches devices
	// to workers: "goroutine" (default) runs each device's sweep in its
	// own goroutine within this process; "process" re-execs the binary
	// into a child process per device for fault isolation.
	Scheduler string `yaml:"scheduler"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		DevicesRoot:            "/srv/node",
		MountCheck:             true,
		Concurrency:            1,
		FilesPerSecond:         20,
		BytesPerSecond:         10_000_000,
		ZeroByteFilesPerSecond: 50,
		LogTime:                3600,
		Interval:               30,
		ReconCachePath:         "/var/cache/swift",
		ObjectSizeStats:        "",
		DiskChunkSize:          65536,
		KnownPolicies:          []int{0},
		Scheduler:              "goroutine",
	}
}

// Load starts from Default, overlays path (if non-empty and present), and
// returns the result. A missing file is not an error: the defaults (plus
// any later CLI-flag overlay the caller applies) stand on their own.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants a Supervisor assumes are already true by
// the time it's constructed, so a bad config fails fast with exit code 1
// rather than manifesting as a confusing runtime error partway through a
// sweep.
func (c Config) Validate() error {
	if c.DevicesRoot == "" {
		return fmt.Errorf("config: devices root must not be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.DiskChunkSize <= 0 {
		return fmt.Errorf("config: disk_chunk_size must be > 0, got %d", c.DiskChunkSize)
	}
	if _, err := statsbuckets.ParseThresholds(c.ObjectSizeStats); err != nil {
		return fmt.Errorf("config: object_size_stats: %w", err)
	}
	if len(c.KnownPolicies) == 0 {
		return fmt.Errorf("config: known_policies must include at least the default policy (0)")
	}
	switch c.Scheduler {
	case "", "goroutine", "process":
	default:
		return fmt.Errorf("config: scheduler must be \"goroutine\" or \"process\", got %q", c.Scheduler)
	}
	return nil
}

// SchedulerOrDefault returns the configured scheduler, defaulting an empty
// value to "goroutine" for configs loaded from files written before this
// field existed.
func (c Config) SchedulerOrDefault() string {
	if c.Scheduler == "" {
		return "goroutine"
	}
	return c.Scheduler
}
