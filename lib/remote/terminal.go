// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "os"

// Emulator is a terminal program that can run a command in a new
// window.
type Emulator struct {
	Path string

	// Args returns the arguments placed between Path and the command.
	Args func(title string) []string
}

// Wrap returns argv prefixed with the emulator invocation.
func (e Emulator) Wrap(title string, argv []string) []string {
	wrapped := append([]string{e.Path}, e.Args(title)...)
	return append(wrapped, argv...)
}

// Xterm is used for X11-forwarded remote terminals and is the first
// choice locally.
var Xterm = Emulator{
	Path: "/usr/bin/xterm",
	Args: func(title string) []string {
		return []string{"-geometry", "112x35", "-title", title, "-e"}
	},
}

// DefaultEmulators is the local preference order.
var DefaultEmulators = []Emulator{
	Xterm,
	{
		Path: "/usr/bin/konsole",
		Args: func(title string) []string {
			return []string{"--noclose", "-title", title, "-e"}
		},
	},
	{
		Path: "/usr/bin/gnome-terminal",
		Args: func(title string) []string {
			return []string{"--title", title, "--"}
		},
	},
}

// FindEmulator returns the first emulator whose binary exists.
func FindEmulator(candidates []Emulator, exists func(path string) bool) (Emulator, bool) {
	if exists == nil {
		exists = fileExists
	}
	for _, candidate := range candidates {
		if exists(candidate.Path) {
			return candidate, true
		}
	}
	return Emulator{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
