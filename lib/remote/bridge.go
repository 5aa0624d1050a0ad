// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/tasks"
)

// outputWaitDelay bounds how long Exec keeps reading after the command
// exits. Commands that daemonize (screen -dmS) can leave children
// holding the output pipes open.
const outputWaitDelay = 2 * time.Second

// BridgeConfig holds the collaborators of a [Bridge].
type BridgeConfig struct {
	Locality  Locality
	Transport Transport

	// Emulators defaults to DefaultEmulators.
	Emulators []Emulator

	// Exists reports whether a file exists; defaults to os.Stat.
	Exists func(path string) bool

	Logger *slog.Logger
}

// SpawnOptions configure a process started with [Bridge.Spawn].
type SpawnOptions struct {
	// Dir is the working directory of a local process.
	Dir string

	// Env is the complete environment of a local process. Nil inherits
	// the bridge's environment.
	Env []string
}

// Bridge routes commands to the local machine or a remote transport.
type Bridge struct {
	locality  Locality
	transport Transport
	emulators []Emulator
	exists    func(string) bool
	logger    *slog.Logger
	tasks     *tasks.Group
}

// NewBridge returns a Bridge whose background reapers live until
// Shutdown or until ctx ends.
func NewBridge(ctx context.Context, config BridgeConfig) *Bridge {
	if config.Emulators == nil {
		config.Emulators = DefaultEmulators
	}
	if config.Exists == nil {
		config.Exists = fileExists
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Bridge{
		locality:  config.Locality,
		transport: config.Transport,
		emulators: config.Emulators,
		exists:    config.Exists,
		logger:    config.Logger,
		tasks:     tasks.NewGroup(ctx, config.Logger),
	}
}

// IsLocal reports whether host is this machine.
func (b *Bridge) IsLocal(host string) bool {
	return b.locality.IsLocal(host)
}

// Exec runs argv on host and returns its output once it exits.
func (b *Bridge) Exec(ctx context.Context, host string, argv []string) (Output, error) {
	argv = compact(argv)
	if len(argv) == 0 {
		return Output{}, &fault.ProcessError{Op: "exec", Err: errors.New("empty command")}
	}
	if !b.IsLocal(host) {
		return b.remoteTransport().Exec(ctx, host, argv)
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = outputWaitDelay

	err := command.Run()
	output := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		output.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		// Output was collected; only the pipes outlived the process.
		output.ExitCode = command.ProcessState.ExitCode()
	default:
		return output, &fault.ProcessError{Op: "exec " + argv[0], Err: err}
	}
	return output, nil
}

// Spawn starts argv on host without waiting for it. A local process is
// reaped in the background and its pid is returned; remote commands
// are run through the transport and report pid 0.
func (b *Bridge) Spawn(ctx context.Context, host string, argv []string, options SpawnOptions) (int, error) {
	argv = compact(argv)
	if len(argv) == 0 {
		return 0, &fault.ProcessError{Op: "spawn", Err: errors.New("empty command")}
	}
	if !b.IsLocal(host) {
		output, err := b.remoteTransport().Exec(ctx, host, argv)
		if err != nil {
			return 0, err
		}
		if !output.OK() {
			return 0, &fault.ProcessError{
				Op:  "spawn " + argv[0] + " on " + host,
				Err: fmt.Errorf("exit status %d: %s", output.ExitCode, strings.TrimSpace(output.Stderr)),
			}
		}
		return 0, nil
	}

	command := exec.Command(argv[0], argv[1:]...)
	command.Dir = options.Dir
	command.Env = options.Env
	return b.startAndReap(command)
}

// ExecWithTerminal runs argv in a new terminal window titled title. On
// a remote host the terminal is an xterm shown through X11 forwarding.
func (b *Bridge) ExecWithTerminal(ctx context.Context, host string, argv []string, title string) error {
	argv = compact(argv)
	if !b.IsLocal(host) {
		return b.remoteTransport().ExecX11(ctx, host, Xterm.Wrap(title, argv))
	}

	emulator, ok := FindEmulator(b.emulators, b.exists)
	if !ok {
		paths := make([]string, 0, len(b.emulators))
		for _, candidate := range b.emulators {
			paths = append(paths, candidate.Path)
		}
		return &fault.ConfigurationError{What: "no terminal emulator found (tried " + strings.Join(paths, ", ") + ")"}
	}
	wrapped := emulator.Wrap(title, argv)
	_, err := b.startAndReap(exec.Command(wrapped[0], wrapped[1:]...))
	return err
}

// Shutdown waits for background reapers, or until ctx ends. Processes
// that are still running are left alone.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.tasks.Shutdown(ctx)
}

func (b *Bridge) startAndReap(command *exec.Cmd) (int, error) {
	if err := command.Start(); err != nil {
		return 0, &fault.ProcessError{Op: "spawn " + command.Path, Err: err}
	}
	pid := command.Process.Pid
	b.logger.Debug("process started", "command", command.Path, "pid", pid)

	b.tasks.Go("reap", func(context.Context) {
		err := command.Wait()
		b.logger.Debug("process reaped", "command", command.Path, "pid", pid, "error", err)
	})
	return pid, nil
}

func (b *Bridge) remoteTransport() Transport {
	if b.transport == nil {
		return unavailableTransport{}
	}
	return b.transport
}

func compact(argv []string) []string {
	result := make([]string, 0, len(argv))
	for _, token := range argv {
		if token != "" {
			result = append(result, token)
		}
	}
	return result
}

type unavailableTransport struct{}

func (unavailableTransport) Exec(_ context.Context, host string, _ []string) (Output, error) {
	return Output{ExitCode: -1}, &fault.TransportError{Host: host, Op: "exec", Err: errors.New("no remote transport configured")}
}

func (unavailableTransport) ExecX11(_ context.Context, host string, _ []string) error {
	return &fault.TransportError{Host: host, Op: "exec-x11", Err: errors.New("no remote transport configured")}
}
