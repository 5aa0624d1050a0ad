// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package process is the entrypoint wrapper shared by the node manager
// binaries. [Main] installs the structured logger, cancels the run
// context on SIGINT/SIGTERM, and turns every failure, panics included,
// into a logged event. The process always exits with status 0: callers
// of these tools are scripts and launchers that must not be failed by
// a best-effort helper.
package process
