// Package diskfile classifies the files inside a hash directory into
// {data, meta, tombstone} and selects the current triple.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package diskfile

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/NVIDIA/objaudit/internal/audit"
)

// Resolve classifies the contents of hashDirPath into an audit.FileTriple.
// A vanished directory (ENOENT) is "no object," not an error. A path that
// exists but is a file (ENOTDIR), or a directory holding .meta files with
// no data file and no tombstone, is reported via *audit.QuarantinedError so
// the caller (which alone holds the QuarantineSink capability) can act on
// it. No other timestamp layout is treated as corrupt: any mix of files is
// resolved by the newest-wins rules below.
func Resolve(hashDirPath string) (audit.FileTriple, error) {
	entries, err := os.ReadDir(hashDirPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return audit.FileTriple{}, nil
		}
		if errors.Is(err, syscall.ENOTDIR) {
			return audit.FileTriple{}, &audit.QuarantinedError{
				Reason: "hash directory path is a file: " + hashDirPath,
			}
		}
		return audit.FileTriple{}, err
	}

	var datas, metas, tombstones []audit.DiskFile
	var obsolete []string
	for _, e := range entries {
		if e.IsDir() {
			continue // unexpected subdirectory; not this resolver's concern
		}
		ts, kind, ext, ok := audit.ParseOnDiskFilename(e.Name())
		if !ok {
			continue // junk, ignored
		}
		df := audit.DiskFile{Path: filepath.Join(hashDirPath, e.Name()), Timestamp: ts, Ext: ext}
		switch kind {
		case audit.KindData:
			datas = append(datas, df)
		case audit.KindMeta:
			metas = append(metas, df)
		case audit.KindTombstone:
			tombstones = append(tombstones, df)
		}
	}

	data := newest(datas)
	tomb := newest(tombstones)

	// If the newest file overall is a tombstone, the object is deleted:
	// no data file is "current" even if an older one exists on disk.
	if tomb != nil && (data == nil || tomb.Timestamp >= data.Timestamp) {
		for _, d := range datas {
			obsolete = append(obsolete, d.Path)
		}
		for _, m := range metas {
			obsolete = append(obsolete, m.Path)
		}
		for _, tb := range tombstones {
			if tb.Path != tomb.Path {
				obsolete = append(obsolete, tb.Path)
			}
		}
		return audit.FileTriple{Tombstone: tomb, Obsolete: obsolete}, nil
	}

	if data == nil {
		if len(metas) > 0 {
			// meta file(s) with no data and no (newer) tombstone: an
			// object can never consist of metadata alone.
			return audit.FileTriple{}, &audit.QuarantinedError{
				Reason: "hash directory contains only metadata: " + hashDirPath,
			}
		}
		// nothing parseable at all: no object, not an error.
		return audit.FileTriple{}, nil
	}

	// current meta: highest-timestamp .meta with timestamp >= data's.
	var meta *audit.DiskFile
	for i := range metas {
		m := metas[i]
		if m.Timestamp < data.Timestamp {
			continue
		}
		if meta == nil || m.Timestamp > meta.Timestamp {
			meta = &m
		}
	}

	for _, d := range datas {
		if d.Path != data.Path {
			obsolete = append(obsolete, d.Path)
		}
	}
	for _, m := range metas {
		if meta == nil || m.Path != meta.Path {
			obsolete = append(obsolete, m.Path)
		}
	}
	for _, tb := range tombstones {
		obsolete = append(obsolete, tb.Path) // any tombstone here is older than data
	}

	return audit.FileTriple{Data: data, Meta: meta, Obsolete: obsolete}, nil
}

func newest(files []audit.DiskFile) *audit.DiskFile {
	if len(files) == 0 {
		return nil
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.Timestamp > best.Timestamp {
			best = f
		}
	}
	return &best
}
