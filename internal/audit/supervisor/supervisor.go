// Package supervisor declares the common interface shared by the two
// device-dispatch scheduling models (in-process goroutines and re-exec'd
// child processes), so the CLI can select between them without caring
// which it got. The concrete implementations live in the goroutine and
// process subpackages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package supervisor

import "context"

// Supervisor is one sweep lifecycle driver, regardless of whether a
// device's worker runs as a goroutine or a child process.
type Supervisor interface {
	// RunOnce performs exactly one full-mode sweep across all devices.
	RunOnce(ctx context.Context) error
	// RunForever repeats RunOnce every configured interval until ctx is
	// cancelled.
	RunForever(ctx context.Context) error
	// Stop fail-fasts in-flight dispatch ahead of ctx cancellation, for
	// signal handlers that want spawning to stop immediately.
	Stop()
}
