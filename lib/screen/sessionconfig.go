// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"fmt"
	"os"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/atomicfile"
)

// PassthroughVariables are copied from the supervisor's environment
// into every session config, because screen starts its windows with a
// sanitized environment on some systems.
var PassthroughVariables = []string{"LD_LIBRARY_PATH", "ROS_ETC_DIR"}

// DefaultScrollback is the number of lines screen keeps per window.
const DefaultScrollback = 10000

// EnvVar is one setenv line of a session config.
type EnvVar struct {
	Name  string
	Value string
}

// SessionConfig is the content of a session's screen configuration.
type SessionConfig struct {
	LogFile     string
	Scrollback  int
	Environment []EnvVar
}

// PassthroughEnvironment returns the non-empty [PassthroughVariables]
// found by lookup, in declaration order.
func PassthroughEnvironment(lookup func(string) (string, bool)) []EnvVar {
	var result []EnvVar
	for _, name := range PassthroughVariables {
		if value, ok := lookup(name); ok && value != "" {
			result = append(result, EnvVar{Name: name, Value: value})
		}
	}
	return result
}

// Render returns the config file text.
func (c SessionConfig) Render() string {
	scrollback := c.Scrollback
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "logfile %s\n", c.LogFile)
	builder.WriteString("logfile flush 0\n")
	fmt.Fprintf(&builder, "defscrollback %d\n", scrollback)
	for _, variable := range c.Environment {
		if variable.Value == "" {
			continue
		}
		fmt.Fprintf(&builder, "setenv %s %s\n", variable.Name, variable.Value)
	}
	return builder.String()
}

// WriteSessionConfig writes config to path atomically. It returns only
// after the file is in place, so a session started afterwards always
// reads the complete config.
func WriteSessionConfig(path string, config SessionConfig) error {
	if err := atomicfile.Write(path, []byte(config.Render()), 0o644); err != nil {
		return fmt.Errorf("writing session config: %w", err)
	}
	return nil
}

// WriteLogLevelConfig writes a log-level override setting the root
// logger to level (INFO when empty) and returns path.
func WriteLogLevelConfig(path, level string) (string, error) {
	if level == "" {
		level = "INFO"
	}
	content := fmt.Sprintf("log4j.logger.ros=%s\nlog4j.logger.ros.roscpp=INFO\nlog4j.logger.ros.roscpp.superdebug=WARN\n",
		strings.ToUpper(level))
	if err := atomicfile.Write(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing log level config: %w", err)
	}
	return path, nil
}

// EnsureDir creates the log directory if needed.
func (l Layout) EnsureDir() error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", l.Dir, err)
	}
	return nil
}
