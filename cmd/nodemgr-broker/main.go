// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Nodemgr-broker is the message broker node manager daemons and the
// CLI connect to. It is normally started by a daemon inside a detached
// session named _broker_server_<port>, with the configuration file the
// daemon generated:
//
//	nodemgr-broker --config ~/.config/ros.fkie/broker_11911/config.yaml
//
// Without --config the broker section of the shared configuration is
// used, including NODEMGR_BROKER_* overrides.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/internal/stack"
	"github.com/arne48/multimaster-fkie/lib/config"
	"github.com/arne48/multimaster-fkie/lib/process"
	"github.com/arne48/multimaster-fkie/lib/version"
	"github.com/arne48/multimaster-fkie/rpc"
	"github.com/arne48/multimaster-fkie/rpc/broker"
)

func main() {
	var (
		configPath  string
		envFile     string
		debug       bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("nodemgr-broker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "broker configuration file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file with NODEMGR_* overrides, used without --config")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err != pflag.ErrHelp {
			fmt.Fprintf(os.Stderr, "nodemgr-broker: %v\n", err)
		}
		return
	}
	if showVersion {
		version.Print(os.Stdout, "nodemgr-broker")
		return
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	process.Main("nodemgr-broker", process.Options{Level: level}, func(ctx context.Context, logger *slog.Logger) error {
		brokerConfig, err := loadConfig(configPath, envFile)
		if err != nil {
			return err
		}
		logger.Info("broker starting",
			"version", version.Info(),
			"address", brokerConfig.Address(),
			"realm", brokerConfig.Realm,
		)
		return broker.New(brokerConfig, logger).ListenAndServe(ctx)
	})
}

func loadConfig(path, envFile string) (rpc.BrokerConfig, error) {
	if path != "" {
		return rpc.LoadBrokerConfig(path)
	}
	cfg, err := config.Load("", envFile)
	if err != nil {
		return rpc.BrokerConfig{}, err
	}
	return stack.BrokerConfig(cfg), nil
}
