// Command objauditgen populates a devices tree with synthetic hash
// directories for exercising objaudit end to end without a live Swift
// cluster: valid objects (name hashes to the directory, ETag matches body),
// tombstones, and a configurable share of deliberately corrupt ones (bad
// ETag, off-by-one Content-Length, bit-flipped body) so a subsequent sweep
// has real quarantine work to do.
//
// Objects are distributed across a worker pool of goroutines, each writing
// its own share under a rand.Rand seeded independently, and the run
// aggregates per-worker stats into one summary line on completion.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/objaudit/internal/audit/policy"
	"github.com/NVIDIA/objaudit/internal/audit/verifier"
	"github.com/NVIDIA/objaudit/internal/audit/xattr"
)

type genParams struct {
	devicesRoot  string
	device       string
	policyIdx    int
	numObjects   int
	numWorkers   int
	minSize      int
	maxSize      int
	tombstonePct int
	corruptPct   int
	hashPrefix   string
	hashSuffix   string
	seed         int64
}

// genStats is aggregated from each worker's local totals once it drains its
// share of work orders.
type genStats struct {
	written     int64
	tombstones  int64
	corrupted   int64
}

func (s *genStats) aggregate(other genStats) {
	s.written += other.written
	s.tombstones += other.tombstones
	s.corrupted += other.corrupted
}

func main() {
	if err := newGenCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newGenCmd() *cobra.Command {
	p := genParams{}
	cmd := &cobra.Command{
		Use:   "objauditgen",
		Short: "Generate a synthetic device tree for exercising objaudit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(p)
		},
	}
	cmd.Flags().StringVar(&p.devicesRoot, "devices-root", "/srv/node", "devices root to populate")
	cmd.Flags().StringVar(&p.device, "device", "d1", "device name to create under the devices root")
	cmd.Flags().IntVar(&p.policyIdx, "policy", 0, "storage policy index (0 = objects, N = objects-N)")
	cmd.Flags().IntVar(&p.numObjects, "num-objects", 1000, "number of objects to generate")
	cmd.Flags().IntVar(&p.numWorkers, "num-workers", 10, "number of goroutines writing objects in parallel")
	cmd.Flags().IntVar(&p.minSize, "min-size", 0, "minimum object body size in bytes")
	cmd.Flags().IntVar(&p.maxSize, "max-size", 65536, "maximum object body size in bytes")
	cmd.Flags().IntVar(&p.tombstonePct, "tombstone-pct", 5, "percentage of objects written as tombstones instead")
	cmd.Flags().IntVar(&p.corruptPct, "corrupt-pct", 10, "percentage of non-tombstone objects written deliberately corrupt")
	cmd.Flags().StringVar(&p.hashPrefix, "hash-prefix", "", "HashConfig.Prefix, must match the objaudit config under test")
	cmd.Flags().StringVar(&p.hashSuffix, "hash-suffix", "", "HashConfig.Suffix, must match the objaudit config under test")
	cmd.Flags().Int64Var(&p.seed, "seed", 0, "PRNG seed; 0 picks a time-derived seed")
	return cmd
}

func run(p genParams) error {
	if p.seed == 0 {
		p.seed = time.Now().UnixNano()
	}
	policyDir := policy.DirName(p.policyIdx)
	devicePath := filepath.Join(p.devicesRoot, p.device, policyDir)

	workOrders := make(chan int, p.numObjects)
	for i := 0; i < p.numObjects; i++ {
		workOrders <- i
	}
	close(workOrders)

	results := make(chan genStats, p.numWorkers)
	var wg sync.WaitGroup
	for w := 0; w < p.numWorkers; w++ {
		wg.Add(1)
		go func(workerSeed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(workerSeed))
			var local genStats
			for idx := range workOrders {
				if err := writeOne(devicePath, p, idx, r, &local); err != nil {
					fmt.Fprintf(os.Stderr, "objauditgen: object %d: %v\n", idx, err)
				}
			}
			results <- local
		}(p.seed + int64(w))
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total genStats
	for s := range results {
		total.aggregate(s)
	}
	fmt.Printf("objauditgen: wrote %d objects (%d tombstones, %d deliberately corrupt) under %s\n",
		total.written, total.tombstones, total.corrupted, devicePath)
	return nil
}

func writeOne(devicePath string, p genParams, idx int, r *rand.Rand, stats *genStats) error {
	name := fmt.Sprintf("obj-%d-%d", idx, r.Int63())
	hash := verifier.HashObjectName(name, verifier.HashConfig{Prefix: p.hashPrefix, Suffix: p.hashSuffix})
	hashDir := filepath.Join(devicePath, partitionFor(hash), suffixFor(hash), hash)
	if err := os.MkdirAll(hashDir, 0o750); err != nil {
		return err
	}

	ts := timestampFor(idx, r)
	isTombstone := percentHit(r, p.tombstonePct)
	if isTombstone {
		stats.tombstones++
		stats.written++
		return os.WriteFile(filepath.Join(hashDir, ts+".ts"), nil, 0o640)
	}

	size := p.minSize
	if p.maxSize > p.minSize {
		size = p.minSize + r.Intn(p.maxSize-p.minSize+1)
	}
	body := make([]byte, size)
	r.Read(body)

	corrupt := percentHit(r, p.corruptPct)
	etag := md5Hex(body)
	contentLength := int64(size)
	if corrupt {
		switch r.Intn(3) {
		case 0:
			etag = md5Hex(append(append([]byte(nil), body...), 0xff))
		case 1:
			contentLength++
		case 2:
			if size > 0 {
				body[0] ^= 0xff
			} else {
				contentLength++ // an empty body has no byte to flip
			}
		}
		stats.corrupted++
	}

	dataPath := filepath.Join(hashDir, ts+".data")
	if err := os.WriteFile(dataPath, body, 0o640); err != nil {
		return err
	}

	md := map[string]string{
		"name":           name,
		"Content-Length": strconv.FormatInt(contentLength, 10),
		"ETag":           etag,
		"Content-Type":   "application/octet-stream",
		"X-Timestamp":    ts,
	}
	store := xattr.Store{}
	if err := store.WriteMetadata(dataPath, md); err != nil {
		return err
	}
	stats.written++
	return nil
}

func percentHit(r *rand.Rand, pct int) bool {
	if pct <= 0 {
		return false
	}
	return r.Intn(100) < pct
}

func timestampFor(idx int, r *rand.Rand) string {
	base := time.Now().Unix() - int64(idx)
	return fmt.Sprintf("%d.%05d", base, r.Intn(100000))
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // ETag compatibility, not a security boundary
	return hex.EncodeToString(sum[:])
}

// partitionFor/suffixFor carve the hash into the two directory levels the
// walker expects between the policy directory and the hash directory
// itself; the real placement ring picks these meaningfully, but the
// auditor never interprets them, so any deterministic split of the hash
// suffices here.
func partitionFor(hash string) string { return hash[:2] }
func suffixFor(hash string) string    { return hash[2:5] }
