// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import "strings"

// Separator replaces "/" in session names. It is not valid in node
// identifiers and screen passes it through its logfile expansion
// unchanged.
const Separator = "@"

// EncodeSessionName returns the session name for node. The empty
// identifier encodes to the empty name.
func EncodeSessionName(node string) string {
	return strings.ReplaceAll(node, "/", Separator)
}

// DecodeSessionName reverses [EncodeSessionName].
func DecodeSessionName(name string) string {
	return strings.ReplaceAll(name, Separator, "/")
}

// SplitSessionToken splits a "<pid>.<name>" token from the session
// listing at its first dot. A token without a dot is invalid and yields
// two empty strings.
func SplitSessionToken(token string) (pid, name string) {
	pid, name, found := strings.Cut(token, ".")
	if !found {
		return "", ""
	}
	return pid, name
}

// SessionRecord is one entry of the session listing.
type SessionRecord struct {
	PID  string
	Name string
}

// ParseSessionRecord parses a listing token.
func ParseSessionRecord(token string) SessionRecord {
	pid, name := SplitSessionToken(token)
	return SessionRecord{PID: pid, Name: name}
}

// Usable reports whether the record carries a pid that can be
// signalled. Records without one are still listed.
func (r SessionRecord) Usable() bool {
	return r.PID != ""
}

// Node returns the node identifier the session belongs to.
func (r SessionRecord) Node() string {
	return DecodeSessionName(r.Name)
}

// Token reassembles the listing token, as accepted by "screen -x".
func (r SessionRecord) Token() string {
	return r.PID + "." + r.Name
}
