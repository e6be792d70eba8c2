// Package verifier implements the per-object audit pass: resolving a hash
// directory's current files, validating their metadata against what's on
// disk, and (outside ZeroByteFast mode) streaming and hashing the body
// against its recorded ETag.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package verifier

import (
	"crypto/md5" //nolint:gosec // ETag compatibility, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/objaudit/internal/alog"
	"github.com/NVIDIA/objaudit/internal/audit"
	"github.com/NVIDIA/objaudit/internal/audit/diskfile"
	"github.com/NVIDIA/objaudit/internal/audit/policy"
	"github.com/NVIDIA/objaudit/internal/audit/ratelimit"
)

// dropCacheWindow is the byte interval at which the verifier hints the
// kernel to evict already-streamed pages.
const dropCacheWindow = 1 << 20 // 1 MiB

const defaultChunkSize = 65536

// Sink is the subset of quarantine.Sink the verifier needs, narrowed to
// an interface so tests can fake it without touching a filesystem.
type Sink interface {
	Quarantine(devicePath, policyDir, hashDirPath, reason string) (string, error)
}

// Verifier is safe to share read-only across goroutines; the BytesGovernor
// it is given, however, belongs to exactly one worker and must not be
// shared across concurrent calls.
type Verifier struct {
	Metadata      audit.MetadataReader
	Quarantine    Sink
	BytesGovernor *ratelimit.Governor
	ChunkSize     int
	Hash          HashConfig

	// Now is overridable for deterministic expiry tests; defaults to
	// time.Now.
	Now func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Verifier) chunkSize() int {
	if v.ChunkSize > 0 {
		return v.ChunkSize
	}
	return defaultChunkSize
}

// Audit runs the full per-object check against loc, in the given mode.
// expectedName, when non-empty, enables the collision check: a caller that
// already knows what object it expected to find at loc can pass it here;
// the default sweep (which discovers locations blind) leaves it empty and
// relies solely on the hash(name) == directory check.
func (v *Verifier) Audit(loc audit.AuditLocation, mode audit.Mode, expectedName string) audit.Result {
	triple, err := diskfile.Resolve(loc.Path)
	if err != nil {
		var qerr *audit.QuarantinedError
		if errors.As(err, &qerr) {
			return v.quarantine(loc, qerr.Reason)
		}
		return audit.Result{Outcome: audit.OutcomeFatal, Err: err}
	}

	if triple.Deleted() {
		return audit.Result{Outcome: audit.OutcomeDeleted}
	}
	if triple.Empty() {
		return audit.Result{Outcome: audit.OutcomeNotExist}
	}

	f, err := os.Open(triple.Data.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// vanished between resolve and open: treat like any other
			// transient mid-sweep disappearance.
			return audit.Result{Outcome: audit.OutcomeNotExist}
		}
		return audit.Result{Outcome: audit.OutcomeFatal, Err: err}
	}
	defer f.Close()

	md, err := v.readMergedMetadata(f, triple)
	if err != nil {
		var fault *audit.MetadataFault
		if errors.As(err, &fault) && fault.Kind == audit.FaultNotSupported {
			return audit.Result{Outcome: audit.OutcomeFatal, Err: audit.ErrXattrNotSupported}
		}
		return v.quarantine(loc, err.Error())
	}

	name, _ := md.Get("name")
	if expectedName != "" && name != expectedName {
		return audit.Result{Outcome: audit.OutcomeCollision, Reason: "name in metadata does not match path", Err: audit.ErrCollision}
	}
	if got := HashObjectName(name, v.Hash); got != filepath.Base(loc.Path) {
		return v.quarantine(loc, "hash of name in metadata does not match directory name")
	}

	if deleteAt, ok := md.Get("X-Delete-At"); ok {
		if at, err := strconv.ParseInt(deleteAt, 10, 64); err == nil && at <= v.now().Unix() {
			return audit.Result{Outcome: audit.OutcomeExpired}
		}
	}

	contentLengthStr, ok := md.Get("Content-Length")
	if !ok {
		return v.quarantine(loc, "missing Content-Length metadata")
	}
	contentLength, err := strconv.ParseInt(contentLengthStr, 10, 64)
	if err != nil {
		return v.quarantine(loc, "malformed Content-Length metadata: "+contentLengthStr)
	}

	fi, err := f.Stat()
	if err != nil {
		return audit.Result{Outcome: audit.OutcomeFatal, Err: err}
	}
	if fi.Size() != contentLength {
		return v.quarantine(loc, fmt.Sprintf("Content-Length %d does not match disk size %d", contentLength, fi.Size()))
	}

	if mode == audit.ZeroByteFast && contentLength > 0 {
		return audit.Result{Outcome: audit.OutcomePassed, Size: contentLength}
	}

	etag, _ := md.Get("ETag")
	sum, read, err := v.streamAndHash(f, contentLength)
	if err != nil {
		return audit.Result{Outcome: audit.OutcomeFatal, Err: err}
	}
	if sum != etag {
		return v.quarantineRead(loc, fmt.Sprintf("ETag %s and file's md5 %s do not match", etag, sum), read)
	}
	if read != contentLength {
		return v.quarantineRead(loc, fmt.Sprintf("read %d bytes but Content-Length was %d", read, contentLength), read)
	}

	return audit.Result{Outcome: audit.OutcomePassed, Size: contentLength, BytesRead: read}
}

// readMergedMetadata reads the data file's metadata and, if a current meta
// file exists, overlays its user keys on top; system keys are never
// overridden by the overlay.
func (v *Verifier) readMergedMetadata(f *os.File, triple audit.FileTriple) (audit.ObjectMetadata, error) {
	md, err := v.Metadata.ReadMetadata(audit.MetadataSource{File: f})
	if err != nil {
		return nil, err
	}
	if triple.Meta == nil {
		return md, nil
	}
	overlay, err := v.Metadata.ReadMetadata(audit.MetadataSource{Path: triple.Meta.Path})
	if err != nil {
		return nil, err
	}
	merged := make(audit.ObjectMetadata, len(md)+len(overlay))
	for k, val := range md {
		merged[k] = val
	}
	for k, val := range overlay {
		if audit.IsSystemKey(k, "") {
			continue
		}
		merged[k] = val
	}
	return merged, nil
}

// streamAndHash reads the file in chunks, pacing through the bytes
// governor and periodically hinting the kernel to drop consumed pages.
func (v *Verifier) streamAndHash(f *os.File, expected int64) (hexSum string, totalRead int64, err error) {
	h := md5.New() //nolint:gosec
	buf := make([]byte, v.chunkSize())
	var sinceDrop int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			totalRead += int64(n)
			sinceDrop += int64(n)
			if v.BytesGovernor != nil {
				v.BytesGovernor.SleepIfNeeded(float64(n))
			}
			if sinceDrop >= dropCacheWindow {
				dropCache(f, totalRead-sinceDrop, sinceDrop)
				sinceDrop = 0
			}
		}
		if rerr == io.EOF {
			if sinceDrop > 0 {
				dropCache(f, totalRead-sinceDrop, sinceDrop)
			}
			return hex.EncodeToString(h.Sum(nil)), totalRead, nil
		}
		if rerr != nil {
			return "", totalRead, rerr
		}
	}
}

// dropCache hints the kernel that the byte range [offset, offset+length)
// of f will not be reused. Best-effort: a failure here never fails the
// audit.
func dropCache(f *os.File, offset, length int64) {
	if err := unix.Fadvise(int(f.Fd()), offset, length, unix.FADV_DONTNEED); err != nil && alog.V(alog.SmoduleAudit) {
		alog.Infof("fadvise(%s, %d, %d) failed: %v", f.Name(), offset, length, err)
	}
}

func (v *Verifier) quarantine(loc audit.AuditLocation, reason string) audit.Result {
	return v.quarantineRead(loc, reason, 0)
}

// quarantineRead is quarantine plus the number of body bytes actually
// streamed before the fault that triggered quarantine was found.
func (v *Verifier) quarantineRead(loc audit.AuditLocation, reason string, bytesRead int64) audit.Result {
	// loc.Path is <device>/<policyDir>/<partition>/<suffix>/<hash>; the sink
	// needs the device directory itself, not loc.Device (the device's name).
	devicePath := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(loc.Path))))
	path, err := v.Quarantine.Quarantine(devicePath, policy.DirName(loc.Policy), loc.Path, reason)
	if err != nil {
		return audit.Result{Outcome: audit.OutcomeFatal, Err: err}
	}
	return audit.Result{Outcome: audit.OutcomeQuarantined, Reason: reason, QuarPath: path, BytesRead: bytesRead}
}
