// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorsAsThroughWrapping(t *testing.T) {
	t.Parallel()

	cause := io.ErrUnexpectedEOF
	wrapped := fmt.Errorf("listing sessions: %w", &TransportError{Host: "robot1", Op: "exec", Err: cause})

	var transportErr *TransportError
	if !errors.As(wrapped, &transportErr) {
		t.Fatalf("errors.As did not find TransportError in %v", wrapped)
	}
	if transportErr.Host != "robot1" {
		t.Errorf("Host = %q, want robot1", transportErr.Host)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is lost the underlying cause")
	}
}

func TestProcessErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ProcessError
		want string
	}{
		{"spawn", &ProcessError{Op: "spawn", Err: errors.New("no such file")}, "process spawn: no such file"},
		{"kill", &ProcessError{Op: "kill", PID: 42, Err: errors.New("permission denied")}, "process kill (pid 42): permission denied"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.err.Error(); got != test.want {
				t.Errorf("Error() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestAmbiguityErrorLabelsSorted(t *testing.T) {
	t.Parallel()

	err := &AmbiguityError{
		What: "session for /robot/camera",
		Choices: map[string]string{
			"@robot@camera [43]": "43.@robot@camera",
			"@robot@camera [12]": "12.@robot@camera",
		},
	}
	labels := err.Labels()
	if len(labels) != 2 || labels[0] != "@robot@camera [12]" {
		t.Fatalf("Labels() = %v, want sorted labels", labels)
	}
}

func TestConfigurationErrorWithoutCause(t *testing.T) {
	t.Parallel()

	err := &ConfigurationError{What: "screen binary /usr/bin/screen is missing"}
	if got := err.Error(); got != "configuration: screen binary /usr/bin/screen is missing" {
		t.Errorf("Error() = %q", got)
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil without a cause")
	}
}
