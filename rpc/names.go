// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

// Procedures registered by every host daemon.
const (
	ProcedureListSessions = "ros.screen.list"
	ProcedureKillNode     = "ros.screen.kill_node"
	ProcedureDeleteLogs   = "ros.screen.delete_logs"
	ProcedureLogTail      = "ros.screen.log_tail"
	ProcedureStartNode    = "ros.node.start"
	ProcedureWipeScreens  = "ros.screen.wipe"
	ProcedureLogDirSize   = "ros.screen.log_dir_size"
)

// Topics.
const (
	// TopicSystemChanged is published after every successful join so
	// that front-ends refresh their view of the host.
	TopicSystemChanged = "ros.system.changed"

	// TopicMultipleScreens carries the nodes that run in more than one
	// session.
	TopicMultipleScreens = "ros.screen.multiple"
)

// Reply is the result of every procedure: a success flag and a
// human-readable message. Failures travel in the message, not as
// structured errors.
type Reply struct {
	Result  bool   `cbor:"result"`
	Message string `cbor:"message"`
}

// Failed returns a failure Reply carrying err's text.
func Failed(err error) Reply {
	return Reply{Result: false, Message: err.Error()}
}

// Succeeded returns a success Reply with message.
func Succeeded(message string) Reply {
	return Reply{Result: true, Message: message}
}

// NodeRequest names a node; the argument of kill_node and delete_logs.
type NodeRequest struct {
	Node string `cbor:"node"`
}

// LogTailRequest asks for the last lines of a node's session log. The
// reply's message carries the text.
type LogTailRequest struct {
	Node  string `cbor:"node"`
	Lines int    `cbor:"lines"`
}

// SessionInfo is one entry of the ros.screen.list result.
type SessionInfo struct {
	Node  string `cbor:"node"`
	PID   string `cbor:"pid"`
	Token string `cbor:"token"`
}

// LogDirSize is the result of ros.screen.log_dir_size: the bytes used
// by the session log directory.
type LogDirSize struct {
	Size int64 `cbor:"size"`
}

// StartNodeRequest is the argument of ros.node.start.
type StartNodeRequest struct {
	Node           string            `cbor:"node"`
	Package        string            `cbor:"package,omitempty"`
	Executable     string            `cbor:"executable"`
	PackageDir     string            `cbor:"package_dir,omitempty"`
	Runner         string            `cbor:"runner,omitempty"`
	Args           []string          `cbor:"args,omitempty"`
	Respawn        bool              `cbor:"respawn,omitempty"`
	RespawnDelay   int               `cbor:"respawn_delay,omitempty"`
	Prefix         string            `cbor:"prefix,omitempty"`
	CoordinatorURI string            `cbor:"coordinator_uri,omitempty"`
	LogLevel       string            `cbor:"log_level,omitempty"`
	WorkingDir     string            `cbor:"cwd,omitempty"`
	Env            map[string]string `cbor:"env,omitempty"`
}
