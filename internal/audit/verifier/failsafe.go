package verifier

import (
	"errors"

	"github.com/NVIDIA/objaudit/internal/audit"
)

// FailsafeRead reads metadata from a single source via reader and, if the
// fault is Missing or Corrupt (anything short of NotSupported), quarantines
// hashDirPath before returning the original error to the caller.
// NotSupported is re-raised untouched since it is fatal for the whole
// worker, not a per-object concern.
//
// Audit does not call this directly: it needs the data-file-plus-overlay
// merge in readMergedMetadata, which FailsafeRead's single-source
// signature doesn't fit, so it inlines the equivalent quarantine-on-fault
// switch itself. FailsafeRead exists as the entry point for tooling that
// only ever has one metadata source to check (a targeted re-check of a
// single hash directory, for instance) and wants the same fault handling
// without going through a full Audit pass.
func FailsafeRead(reader audit.MetadataReader, src audit.MetadataSource, sink Sink, devicePath, policyDir, hashDirPath string) (audit.ObjectMetadata, error) {
	md, err := reader.ReadMetadata(src)
	if err == nil {
		return md, nil
	}

	var fault *audit.MetadataFault
	if errors.As(err, &fault) && fault.Kind != audit.FaultNotSupported {
		if _, qerr := sink.Quarantine(devicePath, policyDir, hashDirPath, fault.Error()); qerr != nil {
			return nil, qerr
		}
	}
	return nil, err
}
