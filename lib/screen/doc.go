// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package screen maps node identifiers onto GNU screen sessions and the
// files that accompany them.
//
// A node "/robot/camera" runs in a session named "@robot@camera": every
// slash becomes the reserved separator [Separator], which node names
// cannot contain. screen lists sessions as "<pid>.<name>" tokens, which
// [SplitSessionToken] takes apart again.
//
// Everything a session leaves on disk lives in one directory described
// by [Layout]: the session log, the pid file, the screen configuration
// the session was started with, and the node's own domain log. All
// paths are derived from the node identifier alone, so a restarted
// supervisor finds them without any saved state.
//
// [Screen] builds argument vectors for the screen binary. It does not
// execute anything; callers run the vectors locally or on a remote host.
package screen
