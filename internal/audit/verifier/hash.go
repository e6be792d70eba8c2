package verifier

import (
	"crypto/md5" //nolint:gosec // integrity marker only, not a security boundary
	"encoding/hex"
)

// HashConfig is the salt applied when recomputing the directory hash that
// an object's name should map to.
type HashConfig struct {
	Prefix string
	Suffix string
}

// HashObjectName returns the lowercase hex digest that the hash directory
// containing an object named `name` is expected to be named.
func HashObjectName(name string, cfg HashConfig) string {
	h := md5.New() //nolint:gosec
	h.Write([]byte(cfg.Prefix))
	h.Write([]byte(name))
	h.Write([]byte(cfg.Suffix))
	return hex.EncodeToString(h.Sum(nil))
}
