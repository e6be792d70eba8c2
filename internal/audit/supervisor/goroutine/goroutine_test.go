package goroutine

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/objaudit/internal/audit"
)

func makeDevices(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
	}
	return root
}

func TestRunOnceSweepsEveryDeviceExactlyOnce(t *testing.T) {
	root := makeDevices(t, "sda", "sdb", "sdc")

	var mu sync.Mutex
	seen := map[string]int{}
	run := func(ctx context.Context, mode audit.Mode, devices []string) error {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, audit.Full, mode)
		require.Len(t, devices, 1)
		seen[devices[0]]++
		return nil
	}

	s := New(Config{DevicesRoot: root, Concurrency: 2, Run: run, Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, s.RunOnce(context.Background()))

	require.Equal(t, map[string]int{"sda": 1, "sdb": 1, "sdc": 1}, seen)
}

func TestRunOnceRunsZeroByteWorkerAlongsideFullSweep(t *testing.T) {
	root := makeDevices(t, "sda")

	var zbfCalls int32
	run := func(ctx context.Context, mode audit.Mode, devices []string) error {
		if mode == audit.ZeroByteFast {
			atomic.AddInt32(&zbfCalls, 1)
			<-ctx.Done() // stays alive until the full sweep finishes and cancels it
			return ctx.Err()
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}

	s := New(Config{DevicesRoot: root, ZeroByteFPS: 50, Interval: time.Millisecond, Run: run})
	require.NoError(t, s.RunOnce(context.Background()))
	require.GreaterOrEqual(t, atomic.LoadInt32(&zbfCalls), int32(1))
}

func TestRunOneDeviceFailureDoesNotAbortOthers(t *testing.T) {
	root := makeDevices(t, "sda", "sdb")

	var mu sync.Mutex
	seen := map[string]int{}
	run := func(ctx context.Context, mode audit.Mode, devices []string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[devices[0]]++
		if devices[0] == "sda" {
			return assertErr
		}
		return nil
	}

	s := New(Config{DevicesRoot: root, Concurrency: 1, Run: run})
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, seen["sda"])
	require.Equal(t, 1, seen["sdb"])
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	root := makeDevices(t, "sda")
	var calls int32
	run := func(ctx context.Context, mode audit.Mode, devices []string) error {
		if mode == audit.Full {
			atomic.AddInt32(&calls, 1)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s := New(Config{DevicesRoot: root, Interval: 5 * time.Millisecond, Run: run})
	err := s.RunForever(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestStopFailsFastEvenWithoutContextCancel(t *testing.T) {
	root := makeDevices(t, "sda", "sdb", "sdc", "sdd")
	var calls int32
	release := make(chan struct{})
	run := func(ctx context.Context, mode audit.Mode, devices []string) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}

	s := New(Config{DevicesRoot: root, Concurrency: 1, Run: run})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RunOnce(context.Background())
	}()

	// let the first device start, then fail-fast before it would ever
	// pick up a second one.
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	close(release)
	<-done
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
