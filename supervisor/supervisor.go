// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/remote"
	"github.com/arne48/multimaster-fkie/lib/screen"
)

// Executor runs commands locally or on remote hosts. *remote.Bridge is
// the production implementation.
type Executor interface {
	IsLocal(host string) bool
	Exec(ctx context.Context, host string, argv []string) (remote.Output, error)
	Spawn(ctx context.Context, host string, argv []string, options remote.SpawnOptions) (int, error)
	ExecWithTerminal(ctx context.Context, host string, argv []string, title string) error
}

// Resolver gives a definitive locality answer for a host, waiting for
// a lookup if necessary. *hostlocal.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, host string) bool
}

// Config holds the settings and collaborators of a [Supervisor].
type Config struct {
	// LogDir holds every session artifact.
	LogDir string

	// ScreenBinary defaults to /usr/bin/screen.
	ScreenBinary string

	// Scrollback is written into session configs.
	Scrollback int

	// RespawnScript wraps nodes started with respawn enabled.
	RespawnScript string

	// Home is the default working directory of started nodes.
	Home string

	// CoordinatorURI is exported as ROS_MASTER_URI unless a start
	// request names its own.
	CoordinatorURI string

	// RemoteHelper is the helper binary invoked on remote hosts.
	RemoteHelper string

	Executor   Executor
	Resolver   Resolver
	Terminator Terminator

	// Tracker receives lifecycle transitions. Optional.
	Tracker *Tracker

	Logger *slog.Logger
}

// Supervisor manages node sessions.
type Supervisor struct {
	layout         screen.Layout
	screen         screen.Screen
	scrollback     int
	respawnScript  string
	home           string
	coordinatorURI string
	remoteHelper   string

	executor   Executor
	resolver   Resolver
	terminator Terminator
	tracker    *Tracker
	logger     *slog.Logger
}

// New returns a Supervisor. The Executor is required; a missing
// Terminator defaults to [NewTerminator] over the Executor.
func New(config Config) (*Supervisor, error) {
	if config.Executor == nil {
		return nil, &fault.ConfigurationError{What: "supervisor needs an executor"}
	}
	if config.LogDir == "" {
		return nil, &fault.ConfigurationError{What: "supervisor needs a log directory"}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Terminator == nil {
		config.Terminator = NewTerminator(config.Executor)
	}
	if config.RemoteHelper == "" {
		config.RemoteHelper = "nodemgr-remote"
	}
	if config.Home == "" {
		config.Home, _ = os.UserHomeDir()
	}
	return &Supervisor{
		layout:         screen.Layout{Dir: config.LogDir},
		screen:         screen.New(config.ScreenBinary),
		scrollback:     config.Scrollback,
		respawnScript:  config.RespawnScript,
		home:           config.Home,
		coordinatorURI: config.CoordinatorURI,
		remoteHelper:   config.RemoteHelper,
		executor:       config.Executor,
		resolver:       config.Resolver,
		terminator:     config.Terminator,
		tracker:        config.Tracker,
		logger:         config.Logger,
	}, nil
}

// Layout returns the artifact layout.
func (s *Supervisor) Layout() screen.Layout {
	return s.layout
}

// Tracker returns the lifecycle tracker, which may be nil.
func (s *Supervisor) Tracker() *Tracker {
	return s.tracker
}

// ListActiveSessions returns the session tokens on host whose names end
// with suffix, in listing order. Any failure yields an empty list: an
// unreachable host simply has no visible sessions.
func (s *Supervisor) ListActiveSessions(ctx context.Context, host, suffix string) []string {
	output, err := s.executor.Exec(ctx, host, s.screen.ListArgs())
	if err != nil {
		s.logger.Warn("listing sessions failed", "host", host, "error", err)
		return nil
	}
	return screen.ParseListing(output.Stdout, suffix)
}

// Sessions returns the sessions of node on host. Only exact name
// matches count: the listing suffix "@camera" also matches the session
// of "/robot/camera", which belongs to a different node.
func (s *Supervisor) Sessions(ctx context.Context, host, node string) []screen.SessionRecord {
	session := screen.EncodeSessionName(node)
	var records []screen.SessionRecord
	for _, token := range s.ListActiveSessions(ctx, host, session) {
		record := screen.ParseSessionRecord(token)
		if record.Name == session {
			records = append(records, record)
		}
	}
	return records
}

// Chooser picks one session token out of choices, which map display
// labels to tokens. It returns "" when the operator cancelled.
type Chooser func(ctx context.Context, choices map[string]string) (string, error)

// OpenSessionViewer opens a terminal attached to the session of node on
// host. It returns false when node has no session or the chooser was
// cancelled. With several sessions and no chooser it returns a
// *fault.AmbiguityError carrying the choices.
func (s *Supervisor) OpenSessionViewer(ctx context.Context, host, node string, choose Chooser) (bool, error) {
	records := s.Sessions(ctx, host, node)
	var token string
	switch len(records) {
	case 0:
		return false, nil
	case 1:
		token = records[0].Token()
	default:
		choices := make(map[string]string, len(records))
		for _, record := range records {
			choices[fmt.Sprintf("%s [%s]", node, record.PID)] = record.Token()
		}
		if choose == nil {
			return false, &fault.AmbiguityError{What: "sessions of " + node, Choices: choices}
		}
		chosen, err := choose(ctx, choices)
		if err != nil {
			return false, fmt.Errorf("choosing session of %s: %w", node, err)
		}
		if chosen == "" {
			return false, nil
		}
		if !containsValue(choices, chosen) {
			return false, fmt.Errorf("chosen session %q is not a session of %s", chosen, node)
		}
		token = chosen
	}

	title := fmt.Sprintf("SCREEN %s on %s", node, hostLabel(host))
	if err := s.executor.ExecWithTerminal(ctx, host, s.screen.AttachArgs(token), title); err != nil {
		return false, fmt.Errorf("opening viewer for %s: %w", node, err)
	}
	return true, nil
}

// KillReport summarizes a [Supervisor.KillSessions] call.
type KillReport struct {
	// Matched counts the sessions found for the node.
	Matched int

	// Killed lists the pids signalled successfully.
	Killed []string

	// Failed maps pids to the error that prevented their kill.
	Failed map[string]error

	// Skipped counts sessions without a pid.
	Skipped int

	// WipeErr is the error of the dead-session sweep, if any.
	WipeErr error
}

// OK reports whether at least one session was killed and none failed.
func (r KillReport) OK() bool {
	return len(r.Killed) > 0 && len(r.Failed) == 0
}

// Message is the human-readable outcome.
func (r KillReport) Message() string {
	switch {
	case r.Matched == 0:
		return "Node does not have an active screen"
	case len(r.Failed) > 0:
		pids := make([]string, 0, len(r.Failed))
		for pid := range r.Failed {
			pids = append(pids, pid)
		}
		sort.Strings(pids)
		return "failed to kill pid " + strings.Join(pids, ", ")
	}
	return ""
}

// KillSessions kills every session of node on host: one kill per
// session pid, then one sweep of dead sessions. A failed kill is logged
// and reported without stopping the others or the sweep. Sessions
// listed without a pid are skipped; they may be foreign sessions that
// merely match the name.
func (s *Supervisor) KillSessions(ctx context.Context, host, node string) KillReport {
	records := s.Sessions(ctx, host, node)
	report := KillReport{Matched: len(records), Failed: make(map[string]error)}

	for _, record := range records {
		if !record.Usable() {
			report.Skipped++
			continue
		}
		if err := s.terminator.Kill(ctx, host, record.PID); err != nil {
			s.logger.Error("kill failed", "node", node, "host", host, "pid", record.PID, "error", err)
			report.Failed[record.PID] = err
			continue
		}
		s.logger.Info("session killed", "node", node, "host", host, "pid", record.PID)
		report.Killed = append(report.Killed, record.PID)
	}

	report.WipeErr = s.Wipe(ctx, host)
	if report.Matched > 0 && s.tracker != nil && s.executor.IsLocal(host) {
		s.tracker.Stopped(node)
	}
	return report
}

// Wipe removes dead sessions on host.
func (s *Supervisor) Wipe(ctx context.Context, host string) error {
	if _, err := s.executor.Exec(ctx, host, s.screen.WipeArgs()); err != nil {
		s.logger.Warn("wiping dead sessions failed", "host", host, "error", err)
		return err
	}
	return nil
}

// LogDirSize is the number of bytes used by the files under the log
// directory. A missing directory is empty.
func (s *Supervisor) LogDirSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.layout.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measuring log directory: %w", err)
	}
	return total, nil
}

// DeleteArtifacts removes the session log, pid file and domain log of
// node. Files that do not exist are not an error.
func (s *Supervisor) DeleteArtifacts(node string) error {
	var errs []error
	for _, path := range s.layout.Artifacts(node) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteArtifactsOn is DeleteArtifacts for node on host; remote hosts
// run the remote helper.
func (s *Supervisor) DeleteArtifactsOn(ctx context.Context, host, node string) error {
	if s.executor.IsLocal(host) {
		return s.DeleteArtifacts(node)
	}
	return s.runHelper(ctx, host, "delete logs", "--delete-logs", node)
}

// TailLog returns the last lines of node's session log.
func (s *Supervisor) TailLog(node string, lines int) (string, error) {
	return screen.TailFile(s.layout.LogFile("", node), lines)
}

// TailLogOn is TailLog for node on host.
func (s *Supervisor) TailLogOn(ctx context.Context, host, node string, lines int) (string, error) {
	if s.executor.IsLocal(host) {
		return s.TailLog(node, lines)
	}
	output, err := s.executor.Exec(ctx, host,
		[]string{s.remoteHelper, "--tail-log", node, "--lines", fmt.Sprint(lines)})
	if err != nil {
		return "", err
	}
	return ParseHelperOutput("tail log on "+host, output)
}

func (s *Supervisor) runHelper(ctx context.Context, host, what string, args ...string) error {
	output, err := s.executor.Exec(ctx, host, append([]string{s.remoteHelper}, args...))
	if err != nil {
		return err
	}
	_, err = ParseHelperOutput(what+" on "+host, output)
	return err
}

func hostLabel(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}

func containsValue(choices map[string]string, value string) bool {
	for _, candidate := range choices {
		if candidate == value {
			return true
		}
	}
	return false
}
