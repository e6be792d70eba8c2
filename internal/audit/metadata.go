package audit

import "os"

// MetadataSource is what a MetadataReader reads from: whichever of File or
// Path is set. Having both lets a caller pass an already-open handle (the
// ObjectVerifier's common case) or just a path (failsafe re-reads).
type MetadataSource struct {
	File *os.File
	Path string
}

// MetadataReader reads the opaque key-value metadata blob attached to a
// file. Implementations must preserve unknown keys round-trip and report
// faults via *MetadataFault so callers can distinguish NotSupported
// (fatal) from Missing/Corrupt (quarantine).
type MetadataReader interface {
	ReadMetadata(src MetadataSource) (ObjectMetadata, error)
}

// MetadataWriter is the write-side counterpart, used by test fixtures and
// by any future repair tooling, never by the auditor itself, which is
// read-only by design.
type MetadataWriter interface {
	WriteMetadata(path string, md ObjectMetadata) error
}
