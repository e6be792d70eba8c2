// Package alog is the object auditor's logging facade.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package alog

import (
	"github.com/golang/glog"
)

// Smodule-style verbosity level for the auditor's trace-level logging.
const (
	SmoduleAudit glog.Level = 4
)

func Infof(format string, args ...any)    { glog.Infof(format, args...) }
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }
func Errorf(format string, args ...any)   { glog.Errorf(format, args...) }

// V reports whether verbose logging at level v is enabled, letting hot
// paths (e.g. per-object trace logs in the verifier) skip formatting work
// entirely when it is not.
func V(level glog.Level) bool { return bool(glog.V(level)) }

// Exception logs an error together with a short description.
func Exception(desc string, err error) {
	glog.Errorf("%s: %v", desc, err)
}

func Flush() { glog.Flush() }
