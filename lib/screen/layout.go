// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"path/filepath"
	"strings"
)

const unknownSession = "unknown"

// Layout locates the artifacts of every session under one directory.
// None of its methods touch the filesystem.
type Layout struct {
	Dir string
}

// LogFile is the file screen writes the session's output to. An
// explicit session name wins over the node; with neither the path ends
// in "unknown.log".
func (l Layout) LogFile(session, node string) string {
	return l.sessionPath(session, node, ".log")
}

// PidFile holds the pid of the node started inside the session.
func (l Layout) PidFile(session, node string) string {
	return l.sessionPath(session, node, ".pid")
}

// ConfigFile is the screen configuration the session was started with.
func (l Layout) ConfigFile(session, node string) string {
	return l.sessionPath(session, node, ".conf")
}

// DomainLogFile is the log the node writes itself: the identifier
// without surrounding slashes, inner slashes turned into underscores.
// Returns "" for the empty node.
func (l Layout) DomainLogFile(node string) string {
	if node == "" {
		return ""
	}
	flat := strings.ReplaceAll(strings.Trim(node, "/"), "/", "_")
	return filepath.Join(l.Dir, flat+".log")
}

// LogLevelFile is the log-level override handed to nodes of a package
// through ROSCONSOLE_CONFIG_FILE.
func (l Layout) LogLevelFile(name string) string {
	return filepath.Join(l.Dir, EncodeSessionName(name)+".rosconsole.config")
}

// Artifacts returns the files removed when a node's logs are deleted.
// The session config is left in place; the next start rewrites it.
func (l Layout) Artifacts(node string) []string {
	paths := []string{l.LogFile("", node), l.PidFile("", node)}
	if domainLog := l.DomainLogFile(node); domainLog != "" {
		paths = append(paths, domainLog)
	}
	return paths
}

func (l Layout) sessionPath(session, node, extension string) string {
	name := session
	if name == "" {
		name = EncodeSessionName(node)
	}
	if name == "" {
		name = unknownSession
	}
	return filepath.Join(l.Dir, name+extension)
}
