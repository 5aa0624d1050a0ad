// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Nodemgr-daemon is the per-host node manager. It keeps a session with
// the message broker alive, starting a local broker when none answers,
// and serves the node procedures of this host:
//
//	ros.screen.list        sessions on this host
//	ros.screen.kill_node   kill every session of a node
//	ros.screen.delete_logs remove a node's log and pid files
//	ros.screen.log_tail    last lines of a node's session log
//	ros.node.start         start a node in a new session
//
// A monitor sweeps dead sessions and publishes nodes running in more
// than one session on ros.screen.multiple.
//
// The daemon always exits with status 0; failures are logged.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/internal/stack"
	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/process"
	"github.com/arne48/multimaster-fkie/lib/version"
	"github.com/arne48/multimaster-fkie/rpc"
	"github.com/arne48/multimaster-fkie/supervisor"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var flags stack.ConfigFlags
	var showVersion bool
	flagSet := pflag.NewFlagSet("nodemgr-daemon", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err != pflag.ErrHelp {
			fmt.Fprintf(os.Stderr, "nodemgr-daemon: %v\n", err)
		}
		return
	}
	if showVersion {
		version.Print(os.Stdout, "nodemgr-daemon")
		return
	}

	process.Main("nodemgr-daemon", process.Options{Level: flags.Level()}, func(ctx context.Context, logger *slog.Logger) error {
		return run(ctx, &flags, logger)
	})
}

func run(ctx context.Context, flags *stack.ConfigFlags, logger *slog.Logger) error {
	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	components, err := stack.Build(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := components.Close(shutdownCtx); err != nil {
			logger.Warn("shutting down components", "error", err)
		}
	}()

	var session *rpc.Session
	session = components.Session(true, func() {
		logger.Info("reconnecting to broker")
		session.Reconnect()
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := session.Close(shutdownCtx); err != nil {
			logger.Warn("closing broker session", "error", err)
		}
	}()

	monitor := supervisor.NewMonitor(supervisor.MonitorConfig{
		Supervisor: components.Supervisor,
		Publisher:  session,
		Topic:      rpc.TopicMultipleScreens,
		Clock:      components.Clock,
		Interval:   cfg.Monitor.Interval,
		ForceEvery: cfg.Monitor.ForceEvery,
		Logger:     logger,
	})
	nodes := &daemon{supervisor: components.Supervisor, monitor: monitor, logger: logger}
	if err := nodes.register(session); err != nil {
		return err
	}

	logger.Info("node manager daemon starting",
		"version", version.Info(),
		"broker", cfg.Broker.URL(),
		"log_dir", cfg.LogDir,
	)
	session.Reconnect()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		process.Guard(ctx, logger, func(ctx context.Context, _ *slog.Logger) error {
			return monitor.Run(ctx)
		})
	}()

	<-ctx.Done()
	<-monitorDone
	logger.Info("node manager daemon stopping")
	return nil
}
