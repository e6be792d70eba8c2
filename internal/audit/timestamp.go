package audit

import (
	"strconv"
	"strings"
)

// Timestamp is the wall-clock value, with five decimal places, embedded in
// every on-disk filename, e.g. "1700000000.00000". It is ordered exactly like the
// underlying float64, which is all the resolver needs from it.
type Timestamp float64

func (t Timestamp) String() string {
	return strconv.FormatFloat(float64(t), 'f', 5, 64)
}

// Less reports strict ordering; ties are broken by the caller (the
// resolver lets a tombstone win over a data file with an equal timestamp,
// and accepts a meta file whose timestamp equals the data file's).
func (t Timestamp) Less(o Timestamp) bool { return t < o }

// ParseOnDiskFilename splits a hash-directory entry into its leading
// timestamp and its kind. Names that don't parse as "<float>.<ext>" are
// junk and ignored.
func ParseOnDiskFilename(name string) (ts Timestamp, kind FileKind, ext string, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return 0, KindJunk, "", false
	}
	tsPart, extPart := name[:dot], name[dot:]
	f, err := strconv.ParseFloat(tsPart, 64)
	if err != nil || f < 0 {
		return 0, KindJunk, "", false
	}
	switch extPart {
	case ".data":
		kind = KindData
	case ".meta":
		kind = KindMeta
	case ".ts":
		kind = KindTombstone
	default:
		return 0, KindJunk, "", false
	}
	return Timestamp(f), kind, extPart, true
}
