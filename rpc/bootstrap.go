// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arne48/multimaster-fkie/lib/atomicfile"
	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/remote"
	"github.com/arne48/multimaster-fkie/lib/screen"
)

// BrokerConfig is the configuration file of a broker process.
type BrokerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Realm string `yaml:"realm"`

	// AllowPrefix restricts procedure and topic names.
	AllowPrefix string `yaml:"allow_prefix"`
}

// Address is the broker's listen address.
func (c BrokerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// LoadBrokerConfig reads a broker configuration file. Unknown keys are
// rejected.
func LoadBrokerConfig(path string) (BrokerConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return BrokerConfig{}, &fault.ConfigurationError{What: "opening broker config", Err: err}
	}
	defer file.Close()

	var config BrokerConfig
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return BrokerConfig{}, &fault.ConfigurationError{What: "parsing broker config " + path, Err: err}
	}
	if config.Port <= 0 || config.Port > 65535 {
		return BrokerConfig{}, &fault.ConfigurationError{What: fmt.Sprintf("broker port %d out of range", config.Port)}
	}
	if config.Realm == "" {
		return BrokerConfig{}, &fault.ConfigurationError{What: "broker realm is empty"}
	}
	return config, nil
}

// CommandRunner runs a command on this machine. *remote.Bridge
// implements it with an empty host.
type CommandRunner interface {
	Exec(ctx context.Context, host string, argv []string) (remote.Output, error)
}

// ScreenBootstrapper starts a broker in a detached screen session. The
// session is named after the port, so a broker that is already running
// is left alone.
type ScreenBootstrapper struct {
	Screen screen.Screen
	Runner CommandRunner

	// Binary is the broker executable, looked up in PATH unless it
	// contains a slash.
	Binary string

	// ConfigDir receives broker_<port>/config.yaml.
	ConfigDir string

	Broker BrokerConfig

	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	Logger *slog.Logger
}

// SessionName is the screen session hosting the broker.
func (b *ScreenBootstrapper) SessionName() string {
	return "_broker_server_" + strconv.Itoa(b.Broker.Port)
}

// ConfigPath is where the broker configuration is written.
func (b *ScreenBootstrapper) ConfigPath() string {
	return filepath.Join(b.ConfigDir, "broker_"+strconv.Itoa(b.Broker.Port), "config.yaml")
}

// Bootstrap implements Bootstrapper. A missing broker binary is a
// ConfigurationError.
func (b *ScreenBootstrapper) Bootstrap(ctx context.Context) error {
	lookPath := b.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	binary, err := lookPath(b.Binary)
	if err != nil {
		return &fault.ConfigurationError{What: "broker binary " + b.Binary, Err: err}
	}

	if b.running(ctx) {
		b.logger().Debug("broker session already running", "session", b.SessionName())
		return nil
	}

	data, err := yaml.Marshal(b.Broker)
	if err != nil {
		return fmt.Errorf("encoding broker config: %w", err)
	}
	configPath := b.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating broker config directory: %w", err)
	}
	if err := atomicfile.Write(configPath, data, 0o644); err != nil {
		return fmt.Errorf("writing broker config: %w", err)
	}

	argv := b.Screen.DetachedArgs(b.SessionName(), binary, "--config", configPath)
	output, err := b.Runner.Exec(ctx, "", argv)
	if err != nil {
		return &fault.ProcessError{Op: "start broker", Err: err}
	}
	if !output.OK() {
		return &fault.ProcessError{
			Op:  "start broker",
			Err: fmt.Errorf("exit status %d: %s", output.ExitCode, strings.TrimSpace(output.Stderr)),
		}
	}
	b.logger().Info("started local broker",
		"session", b.SessionName(),
		"config", configPath,
		"address", b.Broker.Address(),
	)
	return nil
}

func (b *ScreenBootstrapper) running(ctx context.Context) bool {
	output, err := b.Runner.Exec(ctx, "", b.Screen.ListArgs())
	if err != nil {
		return false
	}
	session := b.SessionName()
	for _, token := range screen.ParseListing(output.Stdout, session) {
		if screen.ParseSessionRecord(token).Name == session {
			return true
		}
	}
	return false
}

func (b *ScreenBootstrapper) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
