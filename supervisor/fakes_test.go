// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/arne48/multimaster-fkie/lib/remote"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type execCall struct {
	host string
	argv []string
}

type spawnCall struct {
	host    string
	argv    []string
	options remote.SpawnOptions
}

type terminalCall struct {
	host  string
	argv  []string
	title string
}

// fakeExecutor answers "screen -ls" with listing and records every
// other call. Hosts in remoteHosts are remote; all others are local.
type fakeExecutor struct {
	mu          sync.Mutex
	listing     map[string]string
	remoteHosts map[string]bool
	failHosts   map[string]bool
	output      remote.Output
	execs       []execCall
	spawns      []spawnCall
	terminals   []terminalCall
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		listing:     make(map[string]string),
		remoteHosts: map[string]bool{"robot1": true},
		failHosts:   make(map[string]bool),
	}
}

func (f *fakeExecutor) IsLocal(host string) bool {
	return !f.remoteHosts[host]
}

func (f *fakeExecutor) Exec(_ context.Context, host string, argv []string) (remote.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{host: host, argv: argv})
	if f.failHosts[host] {
		return remote.Output{ExitCode: -1}, errors.New("unreachable")
	}
	if len(argv) > 0 && argv[len(argv)-1] == "-ls" {
		return remote.Output{Stdout: f.listing[host], ExitCode: 1}, nil
	}
	return f.output, nil
}

func (f *fakeExecutor) Spawn(_ context.Context, host string, argv []string, options remote.SpawnOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = append(f.spawns, spawnCall{host: host, argv: argv, options: options})
	return 4242, nil
}

func (f *fakeExecutor) ExecWithTerminal(_ context.Context, host string, argv []string, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminals = append(f.terminals, terminalCall{host: host, argv: argv, title: title})
	return nil
}

func (f *fakeExecutor) setListing(host, listing string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listing[host] = listing
}

// countExecs counts recorded Exec calls whose last argument is suffix.
func (f *fakeExecutor) countExecs(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.execs {
		if len(call.argv) > 0 && call.argv[len(call.argv)-1] == suffix {
			count++
		}
	}
	return count
}

type recordingTerminator struct {
	mu    sync.Mutex
	pids  []string
	fails map[string]bool
}

func (r *recordingTerminator) Kill(_ context.Context, _ string, pid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids = append(r.pids, pid)
	if r.fails[pid] {
		return errors.New("operation not permitted")
	}
	return nil
}

type staticResolver map[string]bool

func (s staticResolver) Resolve(_ context.Context, host string) bool { return s[host] }

func newTestSupervisor(t *testing.T, executor Executor, terminator Terminator, tracker *Tracker) *Supervisor {
	t.Helper()
	supervisor, err := New(Config{
		LogDir:         t.TempDir(),
		ScreenBinary:   "/usr/bin/screen",
		RespawnScript:  "respawn --delay-from-env",
		Home:           "/home/operator",
		CoordinatorURI: "http://workstation:11311",
		Executor:       executor,
		Resolver:       staticResolver{"workstation": true},
		Terminator:     terminator,
		Tracker:        tracker,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return supervisor
}

func envValue(environment []string, name string) (string, bool) {
	for _, entry := range environment {
		if key, value, found := strings.Cut(entry, "="); found && key == name {
			return value, true
		}
	}
	return "", false
}
