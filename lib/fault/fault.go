// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error kinds shared by the supervisor, the
// execution bridge, and the broker session:
//
//   - ConfigurationError: a binary, package, or setting is missing or
//     names more than one candidate.
//   - TransportError: a remote command or a broker connection could not
//     be carried out at the connection level.
//   - ProcessError: a process could not be spawned or signalled.
//   - AmbiguityError: several candidates remain and the caller must pick
//     one (sessions, executables).
//
// Callers classify with errors.As. Every kind wraps an optional cause so
// the original error stays reachable through errors.Is.
package fault

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports a missing or ambiguous piece of setup.
type ConfigurationError struct {
	// What names the missing thing ("screen binary", "package /opt/x").
	What string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.What
	}
	return fmt.Sprintf("configuration: %s: %v", e.What, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError reports a failure to reach a host or broker.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %q: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessError reports a spawn or signal failure. PID is zero for
// spawn failures.
type ProcessError struct {
	Op  string
	PID int
	Err error
}

func (e *ProcessError) Error() string {
	if e.PID != 0 {
		return fmt.Sprintf("process %s (pid %d): %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("process %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// AmbiguityError carries the candidates an external chooser has to pick
// from. Choices maps a display label to the value the caller hands back.
type AmbiguityError struct {
	What    string
	Choices map[string]string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s is ambiguous: %s", e.What, strings.Join(e.Labels(), ", "))
}

// Labels returns the choice labels in sorted order.
func (e *AmbiguityError) Labels() []string {
	labels := make([]string, 0, len(e.Choices))
	for label := range e.Choices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
