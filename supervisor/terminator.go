// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/arne48/multimaster-fkie/lib/fault"
)

// Terminator kills a process by pid on a host.
type Terminator interface {
	Kill(ctx context.Context, host, pid string) error
}

// SignalTerminator sends SIGKILL to local processes and runs
// "kill -KILL" on remote hosts. A process that is already gone counts
// as killed.
type SignalTerminator struct {
	executor Executor
	signal   func(pid int, signal unix.Signal) error
}

// NewTerminator returns a SignalTerminator over executor.
func NewTerminator(executor Executor) *SignalTerminator {
	return &SignalTerminator{executor: executor, signal: unix.Kill}
}

// Kill implements Terminator.
func (t *SignalTerminator) Kill(ctx context.Context, host, pid string) error {
	number, err := strconv.Atoi(pid)
	if err != nil || number <= 0 {
		return &fault.ProcessError{Op: "kill", Err: fmt.Errorf("invalid pid %q", pid)}
	}

	if t.executor.IsLocal(host) {
		if err := t.signal(number, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return &fault.ProcessError{Op: "kill", PID: number, Err: err}
		}
		return nil
	}

	output, err := t.executor.Exec(ctx, host, []string{"kill", "-KILL", pid})
	if err != nil {
		return err
	}
	if !output.OK() && !strings.Contains(output.Stderr, "No such process") {
		return &fault.ProcessError{
			Op:  "kill on " + host,
			PID: number,
			Err: fmt.Errorf("exit status %d: %s", output.ExitCode, strings.TrimSpace(output.Stderr)),
		}
	}
	return nil
}
