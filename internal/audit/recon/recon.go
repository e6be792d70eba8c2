// Package recon implements the stats-cache writer: a nested JSON map
// merged onto whatever is already on disk and written back with a
// write-temp-then-rename discipline so a reader never observes a partial
// file.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package recon

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one device's stats-cache row.
type Entry struct {
	Passes         int64   `json:"passes"`
	Quarantines    int64   `json:"quarantines"`
	Errors         int64   `json:"errors"`
	BytesProcessed int64   `json:"bytes_processed"`
	StartTime      float64 `json:"start_time"`
	AuditTime      float64 `json:"audit_time"`
}

// Cache writes AuditorWorker stats entries to the recon cache file,
// merging onto whatever is already present so that concurrent workers
// covering different devices don't clobber each other's rows.
type Cache struct {
	Path string // directory; the file itself is "object.recon"
}

func (c *Cache) filePath() string { return filepath.Join(c.Path, "object.recon") }

// Update merges statsKey -> device -> entry into the cache file and
// atomically replaces it.
func (c *Cache) Update(statsKey, device string, entry Entry) error {
	doc, err := c.load()
	if err != nil {
		return err
	}
	section, _ := doc[statsKey].(map[string]any)
	if section == nil {
		section = make(map[string]any)
	}
	section[device] = entry
	doc[statsKey] = section

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return c.writeAtomic(b)
}

func (c *Cache) load() (map[string]any, error) {
	b, err := os.ReadFile(c.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		// a corrupt recon file is not fatal to auditing: start fresh
		// rather than block the sweep on a monitoring artifact.
		return make(map[string]any), nil
	}
	return doc, nil
}

func (c *Cache) writeAtomic(b []byte) error {
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return err
	}
	tmp := c.filePath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.filePath())
}
