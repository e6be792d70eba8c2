// Package audit holds the core data model of the object auditor: the
// immutable value types threaded between the location generator, the
// on-disk resolver, and the object verifier.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package audit

import (
	"errors"
	"fmt"
)

// AuditLocation is the four-tuple produced by the location walker and
// consumed exactly once by the object verifier.
type AuditLocation struct {
	Path      string // hash directory path
	Device    string
	Partition string
	Policy    int
}

func (l AuditLocation) String() string {
	return fmt.Sprintf("loc[path=%s device=%s partition=%s policy=%d]", l.Path, l.Device, l.Partition, l.Policy)
}

// Mode selects how deeply the verifier inspects an object's body.
type Mode int

const (
	// Full reads and hashes every byte of the object.
	Full Mode = iota
	// ZeroByteFast opens each object and verifies metadata, skipping the
	// body when Content-Length > 0.
	ZeroByteFast
)

func (m Mode) String() string {
	if m == ZeroByteFast {
		return "ZBF"
	}
	return "ALL"
}

// FileKind classifies a filename found in a hash directory.
type FileKind int

const (
	KindJunk FileKind = iota
	KindData
	KindMeta
	KindTombstone
)

// DiskFile is one timestamped file found in a hash directory.
type DiskFile struct {
	Path      string
	Timestamp Timestamp
	Ext       string // ".data", ".meta", ".ts"
}

// FileTriple is the result of resolving one hash directory: the current
// data/meta/tombstone files (each optional) plus the obsolete leftovers.
type FileTriple struct {
	Data      *DiskFile
	Meta      *DiskFile
	Tombstone *DiskFile
	Obsolete  []string
}

// Deleted reports whether the hash directory represents a deleted object:
// a tombstone with no newer data file.
func (t FileTriple) Deleted() bool { return t.Data == nil && t.Tombstone != nil }

// Empty reports whether the hash directory has neither a data file nor a
// tombstone: nothing for the verifier to do.
func (t FileTriple) Empty() bool { return t.Data == nil && t.Tombstone == nil }

// ObjectMetadata is the opaque key-value map attached to a data file.
// Lookups through Get (used for the required keys "name",
// "Content-Length", "ETag", "X-Timestamp") are case-insensitive.
type ObjectMetadata map[string]string

// systemKeys is the case-folded reserved key set that a meta-file overlay
// may never override from user metadata.
var systemKeys = map[string]bool{
	"content-length": true,
	"content-type":   true,
	"deleted":        true,
	"etag":           true,
}

// IsSystemKey reports whether name is a system-reserved metadata key (case
// insensitive), or matches the policy-specific system-meta naming
// convention carried in sysMetaPrefix (e.g. "x-object-sysmeta-").
func IsSystemKey(name, sysMetaPrefix string) bool {
	lower := toLower(name)
	if systemKeys[lower] {
		return true
	}
	if sysMetaPrefix == "" {
		return false
	}
	return len(lower) >= len(sysMetaPrefix) && lower[:len(sysMetaPrefix)] == toLower(sysMetaPrefix)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Get performs a case-insensitive lookup for system keys; callers that want
// raw, case-preserving user-key lookups should index the map directly.
func (m ObjectMetadata) Get(key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	lower := toLower(key)
	for k, v := range m {
		if toLower(k) == lower {
			return v, true
		}
	}
	return "", false
}

// AuditorCounters are the per-worker counters reset every report interval,
// except the Total* fields, which are sweep-lifetime.
type AuditorCounters struct {
	Passes              int64
	Quarantines         int64
	Errors              int64
	BytesProcessed      int64
	TotalBytesProcessed int64
	TotalFilesProcessed int64
	LastReportWallClock int64 // unix nanos
}

// Outcome is the tagged result of auditing a single location: a plain
// value the caller switches on, instead of an error used for control flow.
type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeDeleted
	OutcomeExpired
	OutcomeNotExist
	OutcomeQuarantined
	OutcomeCollision
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotExist:
		return "not-exist"
	case OutcomeQuarantined:
		return "quarantined"
	case OutcomeCollision:
		return "collision"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is what the ObjectVerifier returns for a single AuditLocation.
type Result struct {
	Outcome Outcome
	Reason  string // populated for Quarantined/Collision
	Size    int64  // Content-Length, when known (0 for Deleted/NotExist)
	// BytesRead is how many body bytes were actually streamed off disk for
	// this object: 0 for every outcome that never opened or read a body
	// (Deleted, NotExist, Expired, a ZeroByteFast short-circuit on a
	// non-empty object, or any fault caught before streaming began).
	BytesRead int64
	QuarPath  string // populated when Outcome == OutcomeQuarantined
	Err       error  // underlying error, when Outcome == OutcomeFatal
}

// Sentinel errors forming the auditor's error taxonomy. Components return
// these (or wrap them) rather than ad hoc strings so that worker code can
// dispatch on them with errors.Is/errors.As.
var (
	// ErrNotExist: the hash directory has neither a data file nor a
	// tombstone, or vanished mid-sweep (ENOENT). Ignored by the worker.
	ErrNotExist = errors.New("object audit: not found")

	// ErrXattrNotSupported: the filesystem backing a device does not
	// support extended attributes. Fatal for the worker that hit it.
	ErrXattrNotSupported = errors.New("object audit: extended attributes not supported")

	// ErrCollision: the name recorded in metadata does not match the
	// path-derived object name. Surfaced, not quarantined.
	ErrCollision = errors.New("object audit: name in metadata does not match path")
)

// QuarantinedError wraps the human-readable reason a hash directory was
// quarantined.
type QuarantinedError struct {
	Reason string
}

func (e *QuarantinedError) Error() string { return "quarantined: " + e.Reason }

// MetadataFault is the small closed taxonomy of ways reading an object's
// metadata can fail.
type MetadataFaultKind int

const (
	FaultNotSupported MetadataFaultKind = iota
	FaultMissing
	FaultCorrupt
)

type MetadataFault struct {
	Kind   MetadataFaultKind
	Reason string
}

func (f *MetadataFault) Error() string {
	switch f.Kind {
	case FaultNotSupported:
		return "metadata not supported: " + f.Reason
	case FaultMissing:
		return "metadata missing: " + f.Reason
	default:
		return "metadata corrupt: " + f.Reason
	}
}
