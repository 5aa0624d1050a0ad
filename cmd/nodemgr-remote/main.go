// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Nodemgr-remote is the helper a node manager runs on remote hosts over
// SSH. Each invocation performs one action on the host it runs on:
//
//	nodemgr-remote --node-type cam --node-name /robot/camera --package camera_pkg [--respawn] [-- args...]
//	nodemgr-remote --delete-logs /robot/camera
//	nodemgr-remote --tail-log /robot/camera --lines 50
//	nodemgr-remote --pidkill 4242
//
// Like the daemon it logs failures and exits with status 0. The last
// line of its standard output is the result of the action, which is
// how the caller tells success from failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/internal/stack"
	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/process"
	"github.com/arne48/multimaster-fkie/lib/version"
	"github.com/arne48/multimaster-fkie/supervisor"
)

func main() {
	parsed, err := parseOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nodemgr-remote: %v\n", err)
		supervisor.WriteHelperResult(os.Stdout, err)
		return
	}
	if parsed.showVersion {
		version.Print(os.Stdout, "nodemgr-remote")
		return
	}

	logger := process.NewLogger("nodemgr-remote", process.Options{Level: parsed.config.Level()})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = process.Guard(ctx, logger, func(ctx context.Context, logger *slog.Logger) error {
		return run(ctx, parsed, os.Stdout, logger)
	})
	finish(os.Stdout, logger, err)
}

// finish logs a failed action and writes the result line.
func finish(stdout io.Writer, logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("action failed", "error", err)
	}
	if werr := supervisor.WriteHelperResult(stdout, err); werr != nil {
		logger.Error("writing result failed", "error", werr)
	}
}

func run(ctx context.Context, parsed *options, stdout io.Writer, logger *slog.Logger) error {
	cfg, err := parsed.config.Load()
	if err != nil {
		return err
	}
	components, err := stack.Build(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer components.Close(context.WithoutCancel(ctx))

	return perform(ctx, parsed, components.Supervisor, supervisor.NewTerminator(components.Bridge), stdout)
}

// perform runs the selected action on this machine.
func perform(ctx context.Context, parsed *options, nodes *supervisor.Supervisor, terminator supervisor.Terminator, stdout io.Writer) error {
	switch parsed.mode {
	case modeDeleteLogs:
		return nodes.DeleteArtifacts(parsed.deleteLogs)
	case modeTailLog:
		text, err := nodes.TailLog(parsed.tailLog, parsed.lines)
		if err != nil {
			return err
		}
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err = io.WriteString(stdout, text)
		return err
	case modePidKill:
		return terminator.Kill(ctx, "", parsed.pidKill)
	}

	request := parsed.request
	if needsPackageDir(request) {
		packageDir, err := findPackageDir(request.Package, os.LookupEnv)
		if err != nil {
			return err
		}
		request.PackageDir = packageDir
	}
	return nodes.StartNode(ctx, request)
}
