// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"fmt"
	"io"
	"os"
)

// tailReadLimit bounds how much of a session log TailFile reads.
// Session logs grow without bound; the last lines always fit.
const tailReadLimit = 1 << 20

// TailFile returns the last lines of the file at path.
func TailFile(path string, lines int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("reading log size: %w", err)
	}
	offset := info.Size() - tailReadLimit
	if offset < 0 {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("seeking log: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	return TailString(string(data), lines), nil
}

// TailString returns the last n lines of s with tail -n semantics: a
// trailing newline ends the last line rather than starting a new one.
// n <= 0 returns s unchanged.
func TailString(s string, n int) string {
	if n <= 0 || len(s) == 0 {
		return s
	}
	searchFrom := len(s) - 1
	if s[searchFrom] == '\n' {
		searchFrom--
	}
	count := 0
	for i := searchFrom; i >= 0; i-- {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[i+1:]
			}
		}
	}
	return s
}
