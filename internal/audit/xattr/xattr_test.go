package xattr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/objaudit/internal/audit"
)

func requireXattrSupport(t *testing.T, path string) {
	t.Helper()
	err := unix.Setxattr(path, attrName, []byte("{}"), 0)
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
		t.Skipf("filesystem backing %s does not support extended attributes", path)
	}
	require.NoError(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.data")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	requireXattrSupport(t, path)

	s := Store{}
	want := audit.ObjectMetadata{
		"name":           "/a/c/o",
		"Content-Length": "4",
		"ETag":           "8d777f385d3dfec8815d20f7496026dc",
		"X-Timestamp":    "1700000000.00000",
	}
	require.NoError(t, s.WriteMetadata(path, want))

	got, err := s.ReadMetadata(audit.MetadataSource{Path: path})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReadMissingIsMetadataFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.data")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	requireXattrSupport(t, path)
	// re-create without ever writing an xattr
	path2 := filepath.Join(dir, "obj2.data")
	require.NoError(t, os.WriteFile(path2, []byte("data"), 0o644))

	s := Store{}
	_, err := s.ReadMetadata(audit.MetadataSource{Path: path2})
	require.Error(t, err)
	var fault *audit.MetadataFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, audit.FaultMissing, fault.Kind)
}

func TestReadByOpenFileHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.data")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	requireXattrSupport(t, path)

	s := Store{}
	require.NoError(t, s.WriteMetadata(path, audit.ObjectMetadata{"name": "/a/c/o"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := s.ReadMetadata(audit.MetadataSource{File: f})
	require.NoError(t, err)
	require.Equal(t, "/a/c/o", got["name"])
}
