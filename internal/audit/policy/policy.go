// Package policy implements the storage-policy directory naming
// convention: mapping a device-level directory name to a policy index,
// and knowing which indices are registered.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const objectsPrefix = "objects"

// Error is returned by Extract for any directory name that does not
// resolve to a policy index, independent of whether that index is known.
type Error struct {
	Dir    string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("invalid policy directory %q: %s", e.Dir, e.Reason) }

var errNotPolicyDir = errors.New("does not match objects[-N] prefix")

// Extract parses a device's immediate child directory name into a policy
// index: "objects" -> 0, "objects-<n>" -> n (n >= 1, no leading zero).
func Extract(dirName string) (int, error) {
	if dirName == objectsPrefix {
		return 0, nil
	}
	suffix := strings.TrimPrefix(dirName, objectsPrefix+"-")
	if suffix == dirName || suffix == "" {
		return 0, &Error{Dir: dirName, Reason: errNotPolicyDir.Error()}
	}
	if suffix[0] == '0' {
		return 0, &Error{Dir: dirName, Reason: "leading zero in policy suffix"}
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, &Error{Dir: dirName, Reason: "non-integer policy suffix"}
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, &Error{Dir: dirName, Reason: "non-integer policy suffix"}
	}
	if n <= 0 {
		return 0, &Error{Dir: dirName, Reason: "policy index must be positive"}
	}
	return n, nil
}

// DirName is the inverse of Extract, used by the verifier when quarantining
// to reconstruct "objects[-N]" under the device's quarantined/ tree.
func DirName(idx int) string {
	if idx == 0 {
		return objectsPrefix
	}
	return fmt.Sprintf("%s-%d", objectsPrefix, idx)
}

// Registry is a narrow, read-only stand-in for the ring/placement
// subsystem: it only ever answers "is this policy index known," never
// anything about placement.
type Registry struct {
	known map[int]bool
}

// NewRegistry builds a Registry from the set of known policy indices.
// Index 0 (the legacy/default policy) is always known.
func NewRegistry(indices []int) *Registry {
	known := map[int]bool{0: true}
	for _, i := range indices {
		known[i] = true
	}
	return &Registry{known: known}
}

func (r *Registry) IsKnown(idx int) bool { return r.known[idx] }
