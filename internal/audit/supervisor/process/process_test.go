package process

import (
	"context"
	"os"
	"path/filepath"
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

func TestRunOnceSpawnsOneChildPerDevice(t *testing.T) {
	root := makeDevices(t, "sda", "sdb")
	s := New(Config{DevicesRoot: root, Concurrency: 2, Executable: "true"})
	require.NoError(t, s.RunOnce(context.Background()))
}

func TestRunOnceSurvivesFailingChild(t *testing.T) {
	root := makeDevices(t, "sda")
	s := New(Config{DevicesRoot: root, Executable: "false"})
	// a non-zero child exit is logged, not returned: it does not abort
	// the sweep.
	require.NoError(t, s.RunOnce(context.Background()))
}

func TestCliModeFlagMapping(t *testing.T) {
	require.Equal(t, "full", cliModeFlag(audit.Full))
	require.Equal(t, "zbf", cliModeFlag(audit.ZeroByteFast))
}

func TestRunOnceAfterStopReturnsCleanly(t *testing.T) {
	root := makeDevices(t, "sda", "sdb", "sdc")
	s := New(Config{DevicesRoot: root, Concurrency: 1, Executable: "sleep", Interval: time.Millisecond})
	// device-list discovery and dispatch happen regardless of whether the
	// fake executable accepts the worker-device args; Stop must still be
	// observed by goroutines that haven't picked up work yet.
	s.Stop()
	require.NoError(t, s.RunOnce(context.Background()))
}
