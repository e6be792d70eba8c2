// Package statsbuckets implements size-bucketed object counters: each
// audited object is tallied into the smallest configured threshold that is
// greater than or equal to its size, or an overflow bucket.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package statsbuckets

import (
	"sort"
	"strconv"
	"strings"
)

// Buckets records how many audited objects fell at or under each
// configured size threshold. Not safe for concurrent use: one instance per
// worker.
type Buckets struct {
	thresholds []int64
	counts     []int64 // counts[i] corresponds to thresholds[i]
	over       int64   // objects larger than the largest threshold
}

// New builds a Buckets from an ascending list of thresholds. Callers should
// have already de-duplicated/validated ordering; New re-sorts defensively.
func New(thresholds []int64) *Buckets {
	t := append([]int64(nil), thresholds...)
	sort.Slice(t, func(i, j int) bool { return t[i] < t[j] })
	return &Buckets{thresholds: t, counts: make([]int64, len(t))}
}

// ParseThresholds parses the "object_size_stats" config value: a
// comma-separated list of ascending integers.
func ParseThresholds(csv string) ([]int64, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Enabled reports whether any thresholds were configured.
func (b *Buckets) Enabled() bool { return len(b.thresholds) > 0 }

// Record increments the smallest bucket whose threshold is >= size, or the
// overflow bucket if size exceeds every threshold.
func (b *Buckets) Record(size int64) {
	if len(b.thresholds) == 0 {
		return
	}
	i := sort.Search(len(b.thresholds), func(i int) bool { return b.thresholds[i] >= size })
	if i == len(b.thresholds) {
		b.over++
		return
	}
	b.counts[i]++
}

// Snapshot returns a stable, ordered rendering suitable for the worker's
// end-of-sweep summary log.
func (b *Buckets) Snapshot() string {
	if len(b.thresholds) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, t := range b.thresholds {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatInt(t, 10))
		sb.WriteString(": ")
		sb.WriteString(strconv.FormatInt(b.counts[i], 10))
	}
	sb.WriteString(", over: ")
	sb.WriteString(strconv.FormatInt(b.over, 10))
	return sb.String()
}

// Reset zeroes every bucket without forgetting the configured thresholds.
func (b *Buckets) Reset() {
	for i := range b.counts {
		b.counts[i] = 0
	}
	b.over = 0
}
