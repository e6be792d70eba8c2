// Command objaudit is the object auditor CLI: a single binary with once,
// forever, and a hidden worker-device subcommand, built with
// github.com/spf13/cobra. Exit codes: 0 clean, 1 fatal config error, 2
// signal-driven termination.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"os"

	"github.com/NVIDIA/objaudit/internal/alog"
)

func main() {
	defer alog.Flush()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		alog.Errorf("objaudit: %v", err)
		return 1
	}
	return exitCode
}

// exitCode is set by the signal handler installed in runSupervised when a
// termination signal (rather than sweep completion) is what ended the
// process.
var exitCode int

// exitCoder lets a command return an error that also carries a specific
// process exit code, for the config-validation failures that must exit 1.
type exitCoder interface {
	error
	ExitCode() int
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) ExitCode() int { return 1 }
