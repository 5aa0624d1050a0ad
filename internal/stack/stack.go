// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package stack assembles the components every binary shares from a
// loaded configuration: the locality resolver, the SSH transport, the
// execution bridge and the supervisor.
package stack

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/config"
	"github.com/arne48/multimaster-fkie/lib/hostlocal"
	"github.com/arne48/multimaster-fkie/lib/remote"
	"github.com/arne48/multimaster-fkie/lib/screen"
	"github.com/arne48/multimaster-fkie/rpc"
	"github.com/arne48/multimaster-fkie/supervisor"
)

// ConfigFlags are the configuration flags every binary accepts.
type ConfigFlags struct {
	Path    string
	EnvFile string
	Debug   bool
}

// AddFlags registers the flags on flagSet.
func (f *ConfigFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Path, "config", "", "YAML configuration file")
	flagSet.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file with NODEMGR_* overrides (ignored when missing)")
	flagSet.BoolVar(&f.Debug, "debug", false, "log at debug level")
}

// Level is the log level the flags select.
func (f *ConfigFlags) Level() slog.Level {
	if f.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Load loads the configuration the flags point at.
func (f *ConfigFlags) Load() (*config.Config, error) {
	return config.Load(f.Path, f.EnvFile)
}

// Stack holds the shared components. Close releases them.
type Stack struct {
	Config     *config.Config
	Clock      clock.Clock
	Resolver   *hostlocal.Resolver
	Transport  *remote.SSHTransport
	Bridge     *remote.Bridge
	Tracker    *supervisor.Tracker
	Supervisor *supervisor.Supervisor
	Logger     *slog.Logger
}

// Build wires the components for cfg. Background work of every
// component ends with ctx or with Close.
func Build(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Stack, error) {
	resolver := hostlocal.New(ctx, hostlocal.Config{Logger: logger})
	transport := remote.NewSSHTransport(ctx, remote.SSHConfig{
		User:       cfg.SSH.User,
		Port:       cfg.SSH.Port,
		KeyFile:    cfg.SSH.KeyFile,
		KnownHosts: cfg.SSH.KnownHosts,
		Timeout:    cfg.SSH.Timeout,
	}, logger)
	bridge := remote.NewBridge(ctx, remote.BridgeConfig{
		Locality:  resolver,
		Transport: transport,
		Logger:    logger,
	})
	tracker := supervisor.NewTracker(clk, logger)

	nodes, err := supervisor.New(supervisor.Config{
		LogDir:         cfg.LogDir,
		ScreenBinary:   cfg.Screen.Binary,
		Scrollback:     cfg.Screen.Scrollback,
		RespawnScript:  cfg.RespawnScript,
		Home:           cfg.Home,
		CoordinatorURI: cfg.CoordinatorURI,
		RemoteHelper:   cfg.RemoteHelper,
		Executor:       bridge,
		Resolver:       resolver,
		Tracker:        tracker,
		Logger:         logger,
	})
	if err != nil {
		return nil, errors.Join(err, bridge.Shutdown(ctx), transport.Close(ctx), resolver.Close(ctx))
	}

	return &Stack{
		Config:     cfg,
		Clock:      clk,
		Resolver:   resolver,
		Transport:  transport,
		Bridge:     bridge,
		Tracker:    tracker,
		Supervisor: nodes,
		Logger:     logger,
	}, nil
}

// Bootstrapper returns the broker bootstrapper for this machine.
func (s *Stack) Bootstrapper() *rpc.ScreenBootstrapper {
	return &rpc.ScreenBootstrapper{
		Screen:    screen.New(s.Config.Screen.Binary),
		Runner:    s.Bridge,
		Binary:    s.Config.Broker.Binary,
		ConfigDir: s.Config.Broker.ConfigDir,
		Broker:    BrokerConfig(s.Config),
		Logger:    s.Logger,
	}
}

// Session returns a broker session configured from the stack. With
// bootstrap set, failed connection attempts start a local broker.
func (s *Stack) Session(bootstrap bool, onDisconnect func()) *rpc.Session {
	sessionConfig := rpc.SessionConfig{
		URL:          s.Config.Broker.URL(),
		Realm:        s.Config.Broker.Realm,
		Clock:        s.Clock,
		RetryDelay:   s.Config.Broker.RetryDelay,
		OnDisconnect: onDisconnect,
		Logger:       s.Logger,
	}
	if bootstrap {
		sessionConfig.Bootstrapper = s.Bootstrapper()
	}
	return rpc.NewSession(sessionConfig)
}

// BrokerConfig is the broker process configuration matching cfg.
func BrokerConfig(cfg *config.Config) rpc.BrokerConfig {
	return rpc.BrokerConfig{
		Host:        cfg.Broker.Host,
		Port:        cfg.Broker.Port,
		Realm:       cfg.Broker.Realm,
		AllowPrefix: cfg.Broker.AllowPrefix,
	}
}

// Close shuts the components down, waiting for background work until
// ctx ends.
func (s *Stack) Close(ctx context.Context) error {
	return errors.Join(
		s.Bridge.Shutdown(ctx),
		s.Transport.Close(ctx),
		s.Resolver.Close(ctx),
	)
}
