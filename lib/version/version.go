// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of a binary is running.
//
// Release builds inject the version with -ldflags:
//
//	go build -ldflags "-X github.com/arne48/multimaster-fkie/lib/version.Version=1.2.0"
//
// Without it the version stays "dev" and the commit is taken from the
// VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Version is set at link time for releases.
var Version = "dev"

// Commit returns the embedded VCS revision, shortened, with a "-dirty"
// suffix for modified trees; "unknown" when the binary carries no stamp.
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	revision, modified := "", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return "unknown"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}

// Info is the one-line --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s %s/%s)", Version, Commit(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info>" to w.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Info())
}
