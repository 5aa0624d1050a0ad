// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor starts, finds and stops nodes running inside GNU
// screen sessions, on this machine or on remote hosts.
//
// The supervisor keeps no state of its own beyond a [Tracker] of
// lifecycle states. Which nodes are running is always answered by
// asking screen for its session list, so a restarted supervisor picks
// up sessions started by an earlier one. Files belonging to a node (its
// session log, pid file and session config) are located through
// [screen.Layout] from the node identifier alone.
//
// Starting a node writes the session config first and only then spawns
// screen, so the session never reads a partial config. Kills are best
// effort: each matching session is signalled, failures are logged and
// reported, and the dead-session sweep runs regardless.
//
// A [Monitor] periodically sweeps dead sessions, reports nodes that run
// in more than one session, and keeps the Tracker in step with what
// screen reports.
package supervisor
