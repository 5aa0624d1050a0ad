// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/screen"
)

// LaunchCommand is the full command line of a node session: the screen
// invocation, an optional respawn wrapper, an optional prefix (a
// debugger or profiler), then the node command and its arguments.
type LaunchCommand struct {
	// Session is the screen invocation that hosts the node.
	Session []string

	// Respawn is the respawn wrapper command, or empty.
	Respawn string

	// Prefix is prepended to the node command, or empty.
	Prefix string

	// Command is the node command itself: a resolved executable path,
	// or a runner invocation such as "ros2 run pkg exe --ros-args ...".
	Command []string

	// Args are the node's own arguments.
	Args []string
}

// Leading returns the tokens in front of the node command:
// session runner, respawn wrapper (possibly empty) and prefix.
func (c LaunchCommand) Leading() []string {
	return []string{strings.Join(c.Session, " "), c.Respawn, c.Prefix}
}

// WithCommand returns a copy running command with args.
func (c LaunchCommand) WithCommand(command []string, args []string) LaunchCommand {
	c.Command = append([]string(nil), command...)
	c.Args = append([]string(nil), args...)
	return c
}

// Params renders the arguments as one string. Arguments containing a
// space are wrapped in single quotes; all others are left bare.
func (c LaunchCommand) Params() string {
	return QuoteParams(c.Args)
}

// QuoteParams is [LaunchCommand.Params] for a bare argument list.
func QuoteParams(args []string) string {
	quoted := make([]string, len(args))
	for i, argument := range args {
		if strings.Contains(argument, " ") {
			quoted[i] = "'" + argument + "'"
		} else {
			quoted[i] = argument
		}
	}
	return strings.Join(quoted, " ")
}

// String renders the command line as it is logged and as a shell would
// receive it.
func (c LaunchCommand) String() string {
	fields := append(c.Leading(), strings.Join(c.Command, " "), c.Params())
	nonEmpty := fields[:0]
	for _, field := range fields {
		if field != "" {
			nonEmpty = append(nonEmpty, field)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// Argv returns the command as an argument vector for direct execution.
// The respawn wrapper and prefix are split on whitespace; node
// arguments are passed through unsplit.
func (c LaunchCommand) Argv() []string {
	argv := append([]string(nil), c.Session...)
	argv = append(argv, strings.Fields(c.Respawn)...)
	argv = append(argv, strings.Fields(c.Prefix)...)
	argv = append(argv, c.Command...)
	return append(argv, c.Args...)
}

// BuildLaunchCommand writes the session config for node and returns the
// launch command prefix for it. The config is on disk before this
// returns, so the session never starts against a partial file.
func (s *Supervisor) BuildLaunchCommand(node string, respawn bool, prefix string) (LaunchCommand, error) {
	if err := s.layout.EnsureDir(); err != nil {
		return LaunchCommand{}, err
	}
	session := screen.EncodeSessionName(node)
	configPath := s.layout.ConfigFile("", node)

	config := screen.SessionConfig{
		LogFile:     s.layout.LogFile("", node),
		Scrollback:  s.scrollback,
		Environment: screen.PassthroughEnvironment(os.LookupEnv),
	}
	if err := screen.WriteSessionConfig(configPath, config); err != nil {
		return LaunchCommand{}, fmt.Errorf("preparing session for %s: %w", node, err)
	}

	command := LaunchCommand{
		Session: s.screen.LaunchArgs(configPath, session),
		Prefix:  prefix,
	}
	if respawn {
		command.Respawn = s.respawnScript
	}
	return command, nil
}

// RunnerCommand is the node command for packages started through a
// runner instead of a resolved executable:
// "<runner> <package> <executable> --ros-args --remap __name:=<name>",
// followed by "--remap __ns:=<namespace>" when the node has one.
func RunnerCommand(runner, pkg, executable, node string) []string {
	command := strings.Fields(runner)
	command = append(command, pkg, executable, "--ros-args", "--remap", "__name:="+BaseName(node))
	if namespace := Namespace(node); namespace != "/" {
		command = append(command, "--remap", "__ns:="+namespace)
	}
	return command
}

// Namespace is the node identifier without its last segment, "/" for
// nodes in the root namespace.
func Namespace(node string) string {
	trimmed := strings.TrimRight(node, "/")
	namespace := path.Dir(trimmed)
	if namespace == "." || namespace == "" {
		return "/"
	}
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}
	return namespace
}

// BaseName is the last segment of a node identifier.
func BaseName(node string) string {
	trimmed := strings.TrimRight(node, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
