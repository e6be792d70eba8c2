// Package xattr binds the auditor's MetadataReader (and its write-side
// counterpart) to Linux extended attributes, the on-disk encoding a real
// deployment uses, kept behind the same interface boundary the rest of
// the auditor depends on.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xattr

import (
	"errors"
	"os"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/objaudit/internal/audit"
)

// attrName is the single extended attribute the auditor reads; everything
// the opaque metadata map carries (system and user keys alike) round-trips
// through this one blob, exactly as on the canonical deployment.
const attrName = "user.swift.metadata"

const initialBufSize = 4096

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store implements audit.MetadataReader and audit.MetadataWriter against
// xattrs. It is stateless and safe for concurrent use.
type Store struct{}

// ReadMetadata reads and JSON-decodes the metadata xattr from src.
func (Store) ReadMetadata(src audit.MetadataSource) (audit.ObjectMetadata, error) {
	fd, closeFd, err := fdFor(src)
	if err != nil {
		return nil, err
	}
	if closeFd != nil {
		defer closeFd()
	}

	buf := make([]byte, initialBufSize)
	n, err := unix.Fgetxattr(fd, attrName, buf)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP):
			return nil, &audit.MetadataFault{Kind: audit.FaultNotSupported, Reason: err.Error()}
		case errors.Is(err, unix.ENODATA):
			return nil, &audit.MetadataFault{Kind: audit.FaultMissing, Reason: "no metadata xattr"}
		case errors.Is(err, unix.ERANGE):
			// buffer too small: ask the kernel for the real size and retry once
			size, serr := unix.Fgetxattr(fd, attrName, nil)
			if serr != nil {
				return nil, &audit.MetadataFault{Kind: audit.FaultCorrupt, Reason: serr.Error()}
			}
			buf = make([]byte, size)
			n, err = unix.Fgetxattr(fd, attrName, buf)
			if err != nil {
				return nil, &audit.MetadataFault{Kind: audit.FaultCorrupt, Reason: err.Error()}
			}
		default:
			return nil, &audit.MetadataFault{Kind: audit.FaultCorrupt, Reason: err.Error()}
		}
	}

	var md audit.ObjectMetadata
	if err := json.Unmarshal(buf[:n], &md); err != nil {
		return nil, &audit.MetadataFault{Kind: audit.FaultCorrupt, Reason: "malformed metadata: " + err.Error()}
	}
	return md, nil
}

// WriteMetadata JSON-encodes md and stores it as the metadata xattr on
// path. Used only by test fixtures and future repair tooling; the
// auditor itself never writes.
func (Store) WriteMetadata(path string, md audit.ObjectMetadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return unix.Setxattr(path, attrName, b, 0)
}

// fdFor returns a usable file descriptor for src, opening src.Path if no
// *os.File was supplied, along with a closer the caller must defer (nil if
// nothing needs closing).
func fdFor(src audit.MetadataSource) (fd int, closeFn func(), err error) {
	if src.File != nil {
		return int(src.File.Fd()), nil, nil
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return 0, nil, err
	}
	return int(f.Fd()), func() { f.Close() }, nil
}
