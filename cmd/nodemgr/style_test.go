// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/arne48/multimaster-fkie/supervisor"
)

func TestRenderSessions(t *testing.T) {
	text := renderSessions([]string{"4100.@robot@camera", "4200.@robot@lidar", "4101.@robot@camera"})
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), text)
	}
	if !strings.Contains(lines[0], "NODE") || !strings.Contains(lines[0], "PID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "/robot/camera") || !strings.Contains(lines[1], "4100") || !strings.Contains(lines[1], "multiple sessions") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[3], "/robot/lidar") || strings.Contains(lines[3], "multiple sessions") {
		t.Errorf("line 3 = %q", lines[3])
	}

	if empty := renderSessions(nil); !strings.Contains(empty, "no node sessions") {
		t.Errorf("empty listing = %q", empty)
	}
}

func TestRenderKillReport(t *testing.T) {
	text := renderKillReport("/robot/camera", supervisor.KillReport{
		Matched: 3,
		Killed:  []string{"4100"},
		Failed:  map[string]error{"4101": errors.New("permission denied")},
		Skipped: 1,
	})
	for _, want := range []string{"killed", "[4100]", "failed to kill pid 4101", "1 session(s) without pid skipped"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}

	text = renderKillReport("/robot/gps", supervisor.KillReport{})
	if !strings.Contains(text, "Node does not have an active screen") {
		t.Errorf("report = %q", text)
	}
}

func TestRenderRepetitionsAllClear(t *testing.T) {
	if text := renderRepetitions("10:00:00", nil); !strings.Contains(text, "every node runs in one session") {
		t.Errorf("all clear = %q", text)
	}
}

func TestPromptChoice(t *testing.T) {
	choices := map[string]string{
		"/robot/camera [4101]": "4101.@robot@camera",
		"/robot/camera [4100]": "4100.@robot@camera",
	}
	tests := []struct {
		input string
		want  string
	}{
		{"2\r", "4101.@robot@camera"},
		{"1\r", "4100.@robot@camera"},
		{"7\r2\r", "4101.@robot@camera"},
		{"\r", ""},
		{"", ""},
	}
	for _, test := range tests {
		rw := &fakeTerminal{input: bytes.NewBufferString(test.input)}
		got, err := promptChoice(rw, choices)
		if err != nil {
			t.Errorf("input %q: %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("input %q: chose %q, want %q", test.input, got, test.want)
		}
		if !strings.Contains(rw.output.String(), "1) /robot/camera [4100]") {
			t.Errorf("input %q: listing missing from %q", test.input, rw.output.String())
		}
	}
}

type fakeTerminal struct {
	input  *bytes.Buffer
	output bytes.Buffer
}

func (f *fakeTerminal) Read(p []byte) (int, error) { return f.input.Read(p) }

func (f *fakeTerminal) Write(p []byte) (int, error) { return f.output.Write(p) }
