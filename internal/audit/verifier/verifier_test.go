package verifier

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/objaudit/internal/audit"
)

// fakeMetadata is an in-memory audit.MetadataReader keyed by path, so these
// tests exercise verifier logic without depending on a real xattr-capable
// filesystem.
type fakeMetadata struct {
	byPath map[string]audit.ObjectMetadata
	fault  *audit.MetadataFault
}

func (f *fakeMetadata) ReadMetadata(src audit.MetadataSource) (audit.ObjectMetadata, error) {
	if f.fault != nil {
		return nil, f.fault
	}
	path := src.Path
	if src.File != nil {
		path = src.File.Name()
	}
	md, ok := f.byPath[path]
	if !ok {
		return nil, &audit.MetadataFault{Kind: audit.FaultMissing, Reason: "no fake entry for " + path}
	}
	return md, nil
}

type fakeSink struct {
	calls []string
	dest  string
	err   error
}

func (s *fakeSink) Quarantine(devicePath, policyDir, hashDirPath, reason string) (string, error) {
	s.calls = append(s.calls, reason)
	if s.err != nil {
		return "", s.err
	}
	if s.dest == "" {
		return filepath.Join(devicePath, "quarantined", policyDir, filepath.Base(hashDirPath)), nil
	}
	return s.dest, nil
}

func md5Hex(s string) string {
	h := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(h[:])
}

func writeDataFile(t *testing.T, device string, body string) (hashDir, dataPath string) {
	t.Helper()
	hashDir = filepath.Join(device, "objects", "123", "abc", "deadbeef")
	require.NoError(t, os.MkdirAll(hashDir, 0o755))
	dataPath = filepath.Join(hashDir, "1700000000.00000.data")
	require.NoError(t, os.WriteFile(dataPath, []byte(body), 0o644))
	return hashDir, dataPath
}

func newVerifier(meta *fakeMetadata, sink *fakeSink) *Verifier {
	return &Verifier{
		Metadata:   meta,
		Quarantine: sink,
		Now:        func() time.Time { return time.Unix(1700000100, 0) },
	}
}

func TestAuditPassesMatchingObject(t *testing.T) {
	device := t.TempDir()
	body := "hello world"
	hashDir, dataPath := writeDataFile(t, device, body)
	name := "/a/c/o"

	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {
			"name":           name,
			"Content-Length": "11",
			"ETag":           md5Hex(body),
		},
	}}
	v := newVerifier(meta, &fakeSink{})
	v.Hash = HashConfig{}
	loc := audit.AuditLocation{Path: hashDir, Device: device, Partition: "123", Policy: 0}
	// make the directory name match the hash of the object name under the
	// empty HashConfig used here
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	loc.Path = renamed
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]
	delete(meta.byPath, dataPath)

	res := v.Audit(loc, audit.Full, "")
	require.Equal(t, audit.OutcomePassed, res.Outcome)
	require.Equal(t, int64(11), res.Size)
}

func TestAuditDeletedWhenOnlyTombstone(t *testing.T) {
	device := t.TempDir()
	hashDir := filepath.Join(device, "objects", "123", "abc", "deadbeef")
	require.NoError(t, os.MkdirAll(hashDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hashDir, "1700000000.00000.ts"), nil, 0o644))

	v := newVerifier(&fakeMetadata{}, &fakeSink{})
	res := v.Audit(audit.AuditLocation{Path: hashDir, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeDeleted, res.Outcome)
}

func TestAuditNotExistWhenHashDirMissing(t *testing.T) {
	device := t.TempDir()
	v := newVerifier(&fakeMetadata{}, &fakeSink{})
	res := v.Audit(audit.AuditLocation{Path: filepath.Join(device, "objects", "123", "abc", "none"), Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeNotExist, res.Outcome)
}

func TestAuditQuarantinesOnHashMismatch(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "x")
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": "/a/c/o", "Content-Length": "1", "ETag": md5Hex("x")},
	}}
	sink := &fakeSink{}
	v := newVerifier(meta, sink)
	res := v.Audit(audit.AuditLocation{Path: hashDir, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeQuarantined, res.Outcome)
	require.Len(t, sink.calls, 1)
}

func TestAuditCollisionWhenExpectedNameDiffers(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "x")
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": "/a/c/o", "Content-Length": "1", "ETag": md5Hex("x")},
	}}
	v := newVerifier(meta, &fakeSink{})
	res := v.Audit(audit.AuditLocation{Path: hashDir, Device: device}, audit.Full, "/a/c/other")
	require.Equal(t, audit.OutcomeCollision, res.Outcome)
}

func TestAuditExpiredPastDeleteAt(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "x")
	name := "/a/c/o"
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": name, "Content-Length": "1", "ETag": md5Hex("x"), "X-Delete-At": "1700000050"},
	}}
	v := newVerifier(meta, &fakeSink{})
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]

	res := v.Audit(audit.AuditLocation{Path: renamed, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeExpired, res.Outcome)
}

func TestAuditQuarantinesOnContentLengthMismatch(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "hello world")
	name := "/a/c/o"
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": name, "Content-Length": "999", "ETag": md5Hex("hello world")},
	}}
	v := newVerifier(meta, &fakeSink{})
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]

	res := v.Audit(audit.AuditLocation{Path: renamed, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeQuarantined, res.Outcome)
}

func TestAuditZeroByteFastSkipsBodyRead(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "hello world")
	name := "/a/c/o"
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": name, "Content-Length": "11", "ETag": "not-even-checked"},
	}}
	v := newVerifier(meta, &fakeSink{})
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]

	res := v.Audit(audit.AuditLocation{Path: renamed, Device: device}, audit.ZeroByteFast, "")
	require.Equal(t, audit.OutcomePassed, res.Outcome)
	require.Equal(t, int64(11), res.Size)
}

func TestAuditQuarantinesOnETagMismatch(t *testing.T) {
	device := t.TempDir()
	hashDir, dataPath := writeDataFile(t, device, "hello world")
	name := "/a/c/o"
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": name, "Content-Length": "11", "ETag": md5Hex("wrong content")},
	}}
	v := newVerifier(meta, &fakeSink{})
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]

	res := v.Audit(audit.AuditLocation{Path: renamed, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomeQuarantined, res.Outcome)
}

func TestAuditMetaOverlayOverridesUserMetadataOnly(t *testing.T) {
	device := t.TempDir()
	hashDir := filepath.Join(device, "objects", "123", "abc", "deadbeef")
	require.NoError(t, os.MkdirAll(hashDir, 0o755))
	dataPath := filepath.Join(hashDir, "1700000000.00000.data")
	require.NoError(t, os.WriteFile(dataPath, []byte("hi"), 0o644))
	metaPath := filepath.Join(hashDir, "1700000100.00000.meta")
	require.NoError(t, os.WriteFile(metaPath, nil, 0o644))

	name := "/a/c/o"
	meta := &fakeMetadata{byPath: map[string]audit.ObjectMetadata{
		dataPath: {"name": name, "Content-Length": "2", "ETag": md5Hex("hi"), "X-Object-Meta-Color": "red"},
		metaPath: {"X-Object-Meta-Color": "blue", "Content-Length": "999999"},
	}}
	v := newVerifier(meta, &fakeSink{})
	renamed := filepath.Join(filepath.Dir(hashDir), HashObjectName(name, v.Hash))
	require.NoError(t, os.Rename(hashDir, renamed))
	meta.byPath[filepath.Join(renamed, "1700000000.00000.data")] = meta.byPath[dataPath]
	meta.byPath[filepath.Join(renamed, "1700000100.00000.meta")] = meta.byPath[metaPath]

	res := v.Audit(audit.AuditLocation{Path: renamed, Device: device}, audit.Full, "")
	require.Equal(t, audit.OutcomePassed, res.Outcome, "overlay's bogus Content-Length (a system key) must not apply")
}

func TestFailsafeReadQuarantinesOnMissingFault(t *testing.T) {
	device := t.TempDir()
	hashDir, _ := writeDataFile(t, device, "x")
	meta := &fakeMetadata{fault: &audit.MetadataFault{Kind: audit.FaultMissing, Reason: "absent"}}
	sink := &fakeSink{}

	_, err := FailsafeRead(meta, audit.MetadataSource{Path: filepath.Join(hashDir, "1700000000.00000.data")}, sink, device, "objects", hashDir)
	require.Error(t, err)
	require.Len(t, sink.calls, 1)
}

func TestFailsafeReadDoesNotQuarantineNotSupported(t *testing.T) {
	device := t.TempDir()
	hashDir, _ := writeDataFile(t, device, "x")
	meta := &fakeMetadata{fault: &audit.MetadataFault{Kind: audit.FaultNotSupported, Reason: "no xattrs"}}
	sink := &fakeSink{}

	_, err := FailsafeRead(meta, audit.MetadataSource{Path: filepath.Join(hashDir, "1700000000.00000.data")}, sink, device, "objects", hashDir)
	require.Error(t, err)
	require.Empty(t, sink.calls)
}
