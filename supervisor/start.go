// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/remote"
	"github.com/arne48/multimaster-fkie/lib/screen"
)

// WorkingDirectory selects where a node is started.
type WorkingDirectory string

const (
	// WorkInHome starts the node in the configured home directory.
	WorkInHome WorkingDirectory = "home"

	// WorkInPackage starts the node in its package directory.
	WorkInPackage WorkingDirectory = "package"

	// WorkInNode starts the node in the directory of its executable.
	WorkInNode WorkingDirectory = "node"
)

// cwdArgument is the node argument that overrides the working
// directory: "__cwd:=node", "__cwd:=package" or "__cwd:=ROS_HOME".
const cwdArgument = "__cwd"

// Environment variables set for started nodes.
const (
	EnvCoordinatorURI = "ROS_MASTER_URI"
	EnvHostname       = "ROS_HOSTNAME"
	EnvRespawnDelay   = "RESPAWN_DELAY"
	EnvLogLevelFile   = "ROSCONSOLE_CONFIG_FILE"
)

// StartRequest describes a node to start.
type StartRequest struct {
	// Host is where the node runs; empty means this machine.
	Host string

	// Node is the full node identifier, e.g. "/robot/camera".
	Node string

	// Package and Executable name the program. With Runner empty the
	// executable is searched below PackageDir.
	Package    string
	Executable string
	PackageDir string

	// Runner starts the executable by package name instead, e.g.
	// "ros2 run".
	Runner string

	Args []string

	Respawn bool

	// RespawnDelay is exported in seconds when positive.
	RespawnDelay int

	Prefix string

	// CoordinatorURI overrides the configured coordinator endpoint.
	CoordinatorURI string

	// LogLevel writes a log-level override for the package when set.
	LogLevel string

	// WorkingDir defaults to WorkInHome; a __cwd argument wins.
	WorkingDir WorkingDirectory

	// Env is added to the node's environment last.
	Env map[string]string
}

// StartNode starts the node described by request. On this machine the
// session is spawned directly and reaped in the background; on a remote
// host the remote helper performs the same start there.
func (s *Supervisor) StartNode(ctx context.Context, request StartRequest) error {
	if request.Node == "" {
		return &fault.ConfigurationError{What: "node name is required"}
	}
	if !s.executor.IsLocal(request.Host) {
		return s.startRemote(ctx, request)
	}

	var nodeCommand []string
	var executablePath string
	if request.Runner != "" {
		nodeCommand = RunnerCommand(request.Runner, request.Package, request.Executable, request.Node)
	} else {
		resolved, err := ResolveExecutable(request.PackageDir, request.Executable)
		if err != nil {
			return fmt.Errorf("starting %s: %w", request.Node, err)
		}
		executablePath = resolved
		nodeCommand = []string{resolved}
	}

	prefixCommand, err := s.BuildLaunchCommand(request.Node, request.Respawn, request.Prefix)
	if err != nil {
		return err
	}
	command := prefixCommand.WithCommand(nodeCommand, request.Args)

	environment, err := s.nodeEnvironment(ctx, request)
	if err != nil {
		return err
	}
	directory := s.workingDirectory(request, executablePath)

	s.logger.Info("starting node", "node", request.Node, "command", command.String(), "dir", directory)
	if s.tracker != nil {
		s.tracker.Started(request.Node, request.Respawn)
	}
	pid, err := s.executor.Spawn(ctx, "", command.Argv(), remote.SpawnOptions{Dir: directory, Env: environment})
	if err != nil {
		if s.tracker != nil {
			s.tracker.Crashed(request.Node)
		}
		return fmt.Errorf("starting %s: %w", request.Node, err)
	}
	s.logger.Debug("session process spawned", "node", request.Node, "pid", pid)
	return nil
}

// RemoteStartArgs is the remote helper invocation that starts request
// on its host.
func (s *Supervisor) RemoteStartArgs(request StartRequest) []string {
	argv := []string{s.remoteHelper,
		"--node-type", request.Executable,
		"--node-name", request.Node,
		"--package", request.Package,
	}
	if request.Runner != "" {
		argv = append(argv, "--runner", request.Runner)
	}
	if request.Respawn {
		argv = append(argv, "--respawn")
		if request.RespawnDelay > 0 {
			argv = append(argv, "--respawn-delay", strconv.Itoa(request.RespawnDelay))
		}
	}
	if request.Prefix != "" {
		argv = append(argv, "--prefix", request.Prefix)
	}
	if uri := s.coordinatorFor(request); uri != "" {
		argv = append(argv, "--masteruri", uri)
	}
	if request.LogLevel != "" {
		argv = append(argv, "--loglevel", request.LogLevel)
	}
	if request.WorkingDir != "" {
		argv = append(argv, "--cwd", string(request.WorkingDir))
	}
	if len(request.Args) > 0 {
		argv = append(argv, "--")
		argv = append(argv, request.Args...)
	}
	return argv
}

func (s *Supervisor) startRemote(ctx context.Context, request StartRequest) error {
	argv := s.RemoteStartArgs(request)
	s.logger.Info("starting node on remote host", "node", request.Node, "host", request.Host,
		"command", remote.ShellJoin(argv))
	if _, err := s.executor.Spawn(ctx, request.Host, argv, remote.SpawnOptions{}); err != nil {
		return fmt.Errorf("starting %s on %s: %w", request.Node, request.Host, err)
	}
	return nil
}

func (s *Supervisor) coordinatorFor(request StartRequest) string {
	if request.CoordinatorURI != "" {
		return request.CoordinatorURI
	}
	return s.coordinatorURI
}

// nodeEnvironment is the process environment plus the coordinator
// endpoint, the hostname override, the respawn delay, the log-level
// file and finally the caller's variables.
func (s *Supervisor) nodeEnvironment(ctx context.Context, request StartRequest) ([]string, error) {
	overrides := make(map[string]string)
	if uri := s.coordinatorFor(request); uri != "" {
		overrides[EnvCoordinatorURI] = uri
		if hostname := s.localCoordinatorHostname(ctx, uri); hostname != "" {
			overrides[EnvHostname] = hostname
		}
	}
	if request.Respawn && request.RespawnDelay > 0 {
		overrides[EnvRespawnDelay] = strconv.Itoa(request.RespawnDelay)
	}
	if request.LogLevel != "" {
		name := request.Package
		if name == "" {
			name = BaseName(request.Node)
		}
		path, err := screen.WriteLogLevelConfig(s.layout.LogLevelFile(name), request.LogLevel)
		if err != nil {
			return nil, err
		}
		overrides[EnvLogLevelFile] = path
	}
	for name, value := range request.Env {
		overrides[name] = value
	}
	return mergeEnvironment(os.Environ(), overrides), nil
}

// localCoordinatorHostname returns the coordinator's host name when it
// resolves to this machine. Literal addresses never become a hostname
// override.
func (s *Supervisor) localCoordinatorHostname(ctx context.Context, uri string) string {
	if s.resolver == nil {
		return ""
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		s.logger.Warn("unparsable coordinator uri", "uri", uri, "error", err)
		return ""
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return ""
	}
	if _, err := netip.ParseAddr(hostname); err == nil {
		return ""
	}
	if !s.resolver.Resolve(ctx, hostname) {
		return ""
	}
	return hostname
}

func (s *Supervisor) workingDirectory(request StartRequest, executablePath string) string {
	directive := request.WorkingDir
	for _, argument := range request.Args {
		key, value, found := strings.Cut(argument, ":=")
		if found && key == cwdArgument {
			directive = WorkingDirectory(value)
		}
	}

	switch directive {
	case WorkInNode:
		if executablePath != "" {
			return filepath.Dir(executablePath)
		}
	case WorkInPackage:
		if request.PackageDir != "" {
			return request.PackageDir
		}
	}
	return s.home
}

func mergeEnvironment(base []string, overrides map[string]string) []string {
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		name, _, _ := strings.Cut(entry, "=")
		if _, replaced := overrides[name]; replaced {
			continue
		}
		merged = append(merged, entry)
	}
	for name, value := range overrides {
		merged = append(merged, name+"="+value)
	}
	return merged
}
