// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/arne48/multimaster-fkie/lib/fault"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NODEMGR"

// Config is the configuration shared by the daemon, the CLI and the
// remote helper.
type Config struct {
	// LogDir holds session logs, pid files, session configs and
	// log-level override files.
	LogDir string `yaml:"log_dir" split_words:"true"`

	// Home is the default working directory for started nodes.
	Home string `yaml:"home" split_words:"true"`

	// CoordinatorURI is exported to nodes as ROS_MASTER_URI.
	CoordinatorURI string `yaml:"coordinator_uri" split_words:"true"`

	// RespawnScript is inserted before the node command when a respawn
	// is requested.
	RespawnScript string `yaml:"respawn_script" split_words:"true"`

	// RemoteHelper is the nodemgr-remote binary name or path on remote
	// hosts.
	RemoteHelper string `yaml:"remote_helper" split_words:"true"`

	Screen  ScreenConfig  `yaml:"screen" split_words:"true"`
	Broker  BrokerConfig  `yaml:"broker" split_words:"true"`
	SSH     SSHConfig     `yaml:"ssh" split_words:"true"`
	Monitor MonitorConfig `yaml:"monitor" split_words:"true"`
}

// ScreenConfig configures the session multiplexer.
type ScreenConfig struct {
	Binary     string `yaml:"binary" split_words:"true"`
	Scrollback int    `yaml:"scrollback" split_words:"true"`
}

// BrokerConfig configures both the broker and the sessions that connect
// to it.
type BrokerConfig struct {
	Host  string `yaml:"host" split_words:"true"`
	Port  int    `yaml:"port" split_words:"true"`
	Realm string `yaml:"realm" split_words:"true"`

	// Binary is the broker executable started by the bootstrapper.
	Binary string `yaml:"binary" split_words:"true"`

	// ConfigDir receives the generated broker_<port>/config.yaml.
	ConfigDir string `yaml:"config_dir" split_words:"true"`

	// RetryDelay is the fixed wait between connection attempts.
	RetryDelay time.Duration `yaml:"retry_delay" split_words:"true"`

	// AllowPrefix restricts procedure and topic names.
	AllowPrefix string `yaml:"allow_prefix" split_words:"true"`
}

// URL returns the websocket endpoint of the broker.
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", b.Host, b.Port)
}

// SSHConfig configures the remote transport.
type SSHConfig struct {
	User       string        `yaml:"user" split_words:"true"`
	Port       int           `yaml:"port" split_words:"true"`
	KeyFile    string        `yaml:"key_file" split_words:"true"`
	KnownHosts string        `yaml:"known_hosts" split_words:"true"`
	Timeout    time.Duration `yaml:"timeout" split_words:"true"`
}

// MonitorConfig configures the session monitor.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval" split_words:"true"`

	// ForceEvery forces a scan after this many idle ticks.
	ForceEvery int `yaml:"force_every" split_words:"true"`
}

// Default returns the configuration used when no file or override sets
// a value.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	logDir := filepath.Join(homeDir, ".ros", "log")
	if rosLogDir := os.Getenv("ROS_LOG_DIR"); rosLogDir != "" {
		logDir = rosLogDir
	}
	currentUser := os.Getenv("USER")

	return &Config{
		LogDir:         logDir,
		Home:           homeDir,
		CoordinatorURI: os.Getenv("ROS_MASTER_URI"),
		RespawnScript:  "rosrun node_manager_daemon_fkie respawn",
		RemoteHelper:   "nodemgr-remote",
		Screen: ScreenConfig{
			Binary:     "/usr/bin/screen",
			Scrollback: 10000,
		},
		Broker: BrokerConfig{
			Host:        "localhost",
			Port:        11911,
			Realm:       "ros",
			Binary:      "nodemgr-broker",
			ConfigDir:   filepath.Join(homeDir, ".config", "ros.fkie"),
			RetryDelay:  2 * time.Second,
			AllowPrefix: "ros.",
		},
		SSH: SSHConfig{
			User:       currentUser,
			Port:       22,
			KeyFile:    filepath.Join(homeDir, ".ssh", "id_rsa"),
			KnownHosts: filepath.Join(homeDir, ".ssh", "known_hosts"),
			Timeout:    10 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:   time.Second,
			ForceEvery: 10,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path and
// the dotenv file at envFile, then applies NODEMGR_* overrides. Empty
// paths skip their layer. A missing dotenv file is not an error; a
// missing YAML file is, because it was asked for explicitly.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, &fault.ConfigurationError{What: "loading " + path, Err: err}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &fault.ConfigurationError{What: "loading " + envFile, Err: err}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, &fault.ConfigurationError{What: "environment overrides", Err: err}
	}

	cfg.LogDir = expandHome(cfg.LogDir)
	cfg.Home = expandHome(cfg.Home)
	cfg.Broker.ConfigDir = expandHome(cfg.Broker.ConfigDir)
	cfg.SSH.KeyFile = expandHome(cfg.SSH.KeyFile)
	cfg.SSH.KnownHosts = expandHome(cfg.SSH.KnownHosts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the values the components cannot run without.
func (c *Config) Validate() error {
	var problems []string

	if c.LogDir == "" {
		problems = append(problems, "log_dir is required")
	}
	if c.Screen.Binary == "" {
		problems = append(problems, "screen.binary is required")
	}
	if c.Screen.Scrollback < 0 {
		problems = append(problems, "screen.scrollback must not be negative")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		problems = append(problems, fmt.Sprintf("broker.port %d out of range", c.Broker.Port))
	}
	if c.Broker.Realm == "" {
		problems = append(problems, "broker.realm is required")
	}
	if c.Broker.RetryDelay <= 0 {
		problems = append(problems, "broker.retry_delay must be positive")
	}
	if c.Monitor.Interval <= 0 {
		problems = append(problems, "monitor.interval must be positive")
	}
	if c.Monitor.ForceEvery <= 0 {
		problems = append(problems, "monitor.force_every must be positive")
	}

	if len(problems) > 0 {
		return &fault.ConfigurationError{What: strings.Join(problems, "; ")}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
