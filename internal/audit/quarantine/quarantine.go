// Package quarantine atomically moves a corrupt hash directory out of the
// live object tree via a single rename, disambiguating the destination
// name on a racing double-quarantine rather than ever overwriting data.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package quarantine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/NVIDIA/objaudit/internal/alog"
)

// Sink moves hash directories under <device>/quarantined/objects[-N]/<hash>.
type Sink struct {
	// Counter, when non-nil, is incremented once per successful
	// quarantine.
	Counter func()
}

// Quarantine moves the hash directory at hashDirPath (whose parent chain is
// .../<device>/<policyDir>/<partition>/<suffix>/<hash>) to
// <device>/quarantined/<policyDir>/<hash>, logging reason as a warning. If
// the destination already exists, a numeric suffix is appended until a free
// name is found, so a racing double-quarantine never clobbers data.
func (s *Sink) Quarantine(devicePath, policyDir, hashDirPath, reason string) (string, error) {
	hash := filepath.Base(hashDirPath)
	destRoot := filepath.Join(devicePath, "quarantined", policyDir)
	if err := os.MkdirAll(destRoot, 0o750); err != nil {
		return "", fmt.Errorf("quarantine: mkdir %s: %w", destRoot, err)
	}

	dest := filepath.Join(destRoot, hash)
	for attempt := 0; ; attempt++ {
		candidate := dest
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", dest, attempt)
		}
		err := os.Rename(hashDirPath, candidate)
		if err == nil {
			alog.Warningf("quarantined %s -> %s: %s", hashDirPath, candidate, reason)
			if s.Counter != nil {
				s.Counter()
			}
			return candidate, nil
		}
		if !isDestOccupied(err) {
			return "", fmt.Errorf("quarantine: rename %s -> %s: %w", hashDirPath, candidate, err)
		}
		// destination occupied (rare race): try the next disambiguating
		// suffix rather than overwrite.
	}
}

// isDestOccupied reports whether a failed rename was due to the
// destination already existing: os.IsExist covers EEXIST, and
// ENOTEMPTY is what Linux's rename(2) returns when the destination is a
// non-empty directory (the case that matters here, since quarantined
// hash directories are never empty).
func isDestOccupied(err error) bool {
	return os.IsExist(err) || errors.Is(err, syscall.ENOTEMPTY)
}
