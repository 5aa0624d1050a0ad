// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote runs commands on this machine or on another host.
//
// [Bridge] is the single entry point. It asks a [Locality] whether the
// target host is this machine: local commands are started directly as
// child processes, everything else goes through a [Transport]. Child
// processes that outlive the call are reaped by background tasks the
// bridge owns, so no zombies accumulate and [Bridge.Shutdown] can wait
// for them.
//
// [SSHTransport] is the production Transport: one multiplexed SSH
// connection per host, public-key authentication, and the system ssh
// client for X11-forwarded commands.
package remote
