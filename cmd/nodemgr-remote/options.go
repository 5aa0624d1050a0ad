// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/internal/stack"
	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/supervisor"
)

// mode is the single action one invocation performs.
type mode int

const (
	modeStart mode = iota
	modeDeleteLogs
	modeTailLog
	modePidKill
)

type options struct {
	config      stack.ConfigFlags
	showVersion bool

	mode mode

	request supervisor.StartRequest
	cwd     string

	deleteLogs string
	tailLog    string
	lines      int
	pidKill    string
}

// parseOptions parses the helper's command line. Arguments after "--"
// are passed to the started node.
func parseOptions(args []string) (*options, error) {
	parsed := &options{}
	flagSet := pflag.NewFlagSet("nodemgr-remote", pflag.ContinueOnError)
	parsed.config.AddFlags(flagSet)
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")

	request := &parsed.request
	flagSet.StringVar(&request.Executable, "node-type", "", "executable of the node to start")
	flagSet.StringVar(&request.Node, "node-name", "", "full name of the node to start")
	flagSet.StringVar(&request.Package, "package", "", "package containing the executable")
	flagSet.StringVar(&request.PackageDir, "package-dir", "", "package directory; searched on the package paths when empty")
	flagSet.StringVar(&request.Runner, "runner", "", "start through this runner instead of the executable")
	flagSet.BoolVar(&request.Respawn, "respawn", false, "restart the node when it exits")
	flagSet.IntVar(&request.RespawnDelay, "respawn-delay", 0, "seconds to wait before a respawn")
	flagSet.StringVar(&request.Prefix, "prefix", "", "command prefix, such as a debugger")
	flagSet.StringVar(&request.CoordinatorURI, "masteruri", "", "coordinator endpoint exported to the node")
	flagSet.StringVar(&request.LogLevel, "loglevel", "", "log level of the node")
	flagSet.StringVar(&parsed.cwd, "cwd", "", "working directory: home, package or node")

	flagSet.StringVar(&parsed.deleteLogs, "delete-logs", "", "delete the logs of this node and exit")
	flagSet.StringVar(&parsed.tailLog, "tail-log", "", "print the end of this node's log and exit")
	flagSet.IntVar(&parsed.lines, "lines", 200, "lines printed by --tail-log")
	flagSet.StringVar(&parsed.pidKill, "pidkill", "", "kill this process id and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	request.Args = flagSet.Args()
	request.WorkingDir = supervisor.WorkingDirectory(parsed.cwd)

	selected := 0
	for candidate, set := range map[mode]bool{
		modeDeleteLogs: parsed.deleteLogs != "",
		modeTailLog:    parsed.tailLog != "",
		modePidKill:    parsed.pidKill != "",
	} {
		if set {
			parsed.mode = candidate
			selected++
		}
	}
	switch {
	case parsed.showVersion:
	case selected > 1:
		return nil, fmt.Errorf("--delete-logs, --tail-log and --pidkill are exclusive")
	case selected == 0 && request.Node == "":
		return nil, fmt.Errorf("--node-name is required to start a node")
	case selected == 0 && request.Runner == "" && request.Executable == "":
		return nil, fmt.Errorf("--node-type or --runner is required to start a node")
	}
	return parsed, nil
}

// findPackageDir locates pkg on the package search paths: entries of
// ROS_PACKAGE_PATH holding a directory named pkg, then the lib/<pkg>
// directory of each AMENT_PREFIX_PATH entry.
func findPackageDir(pkg string, lookupEnv func(string) (string, bool)) (string, error) {
	if pkg == "" {
		return "", &fault.ConfigurationError{What: "package name is required"}
	}
	var candidates []string
	if paths, ok := lookupEnv("ROS_PACKAGE_PATH"); ok {
		for _, entry := range filepath.SplitList(paths) {
			if filepath.Base(entry) == pkg {
				candidates = append(candidates, entry)
			}
			candidates = append(candidates, filepath.Join(entry, pkg))
		}
	}
	if prefixes, ok := lookupEnv("AMENT_PREFIX_PATH"); ok {
		for _, prefix := range filepath.SplitList(prefixes) {
			candidates = append(candidates, filepath.Join(prefix, "lib", pkg))
		}
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", &fault.ConfigurationError{What: "package " + pkg + " not found on ROS_PACKAGE_PATH or AMENT_PREFIX_PATH"}
}

// needsPackageDir reports whether starting request requires its
// package directory on this machine.
func needsPackageDir(request supervisor.StartRequest) bool {
	return request.PackageDir == "" && request.Runner == "" && strings.TrimSpace(request.Package) != ""
}
