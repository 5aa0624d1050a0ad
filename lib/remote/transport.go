// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"strings"
)

// Output is the result of a finished command. A non-zero ExitCode is a
// normal outcome, not an error: "screen -ls" exits 1 whenever sessions
// exist. ExitCode is -1 when the exit status is unknown.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited with status 0.
func (o Output) OK() bool {
	return o.ExitCode == 0
}

// Transport executes commands on remote hosts. Implementations return
// a *fault.TransportError when the host cannot be reached.
type Transport interface {
	// Exec runs argv on host and waits for it to finish.
	Exec(ctx context.Context, host string, argv []string) (Output, error)

	// ExecX11 starts argv on host with X11 forwarding so that a
	// graphical program appears on the local display. It returns once
	// the command has started.
	ExecX11(ctx context.Context, host string, argv []string) error
}

// Locality reports whether a host is this machine.
type Locality interface {
	IsLocal(host string) bool
}

// ShellJoin quotes argv for a POSIX shell. Empty tokens are dropped so
// that an absent respawn wrapper does not become an empty argument.
func ShellJoin(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, token := range argv {
		if token == "" {
			continue
		}
		quoted = append(quoted, shellQuote(token))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}
