// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"strings"
)

// Screen builds argument vectors for one screen binary.
type Screen struct {
	Binary string
}

// New returns a Screen for binary, defaulting to /usr/bin/screen.
func New(binary string) Screen {
	if binary == "" {
		binary = "/usr/bin/screen"
	}
	return Screen{Binary: binary}
}

// LaunchArgs starts a detached, logging session reading its settings
// from configFile. The node command is appended by the caller.
func (s Screen) LaunchArgs(configFile, session string) []string {
	return []string{s.Binary, "-c", configFile, "-L", "-dmS", session}
}

// ListArgs lists the sessions of the current user.
func (s Screen) ListArgs() []string {
	return []string{s.Binary, "-ls"}
}

// WipeArgs removes the sockets of dead sessions.
func (s Screen) WipeArgs() []string {
	return []string{s.Binary, "-wipe"}
}

// AttachArgs attaches to a session, sharing it with other viewers.
func (s Screen) AttachArgs(token string) []string {
	return []string{s.Binary, "-x", token}
}

// DetachedArgs runs argv in a new detached session without logging.
func (s Screen) DetachedArgs(session string, argv ...string) []string {
	return append([]string{s.Binary, "-dmS", session}, argv...)
}

// ParseListing extracts session tokens from "screen -ls" output: every
// whitespace-separated token containing a dot and ending with suffix.
// Socket directory paths and the parenthesised date and state columns
// are skipped. Listing order is kept.
func ParseListing(output, suffix string) []string {
	var tokens []string
	for _, field := range strings.Fields(output) {
		if !strings.Contains(field, ".") || !strings.HasSuffix(field, suffix) {
			continue
		}
		if strings.HasPrefix(field, "(") || strings.Contains(field, "/") {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// GroupByNode maps each node to its sessions' tokens.
func GroupByNode(tokens []string) map[string][]string {
	groups := make(map[string][]string)
	for _, token := range tokens {
		record := ParseSessionRecord(token)
		if record.Name == "" {
			continue
		}
		node := record.Node()
		groups[node] = append(groups[node], token)
	}
	return groups
}
