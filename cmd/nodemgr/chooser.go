// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/arne48/multimaster-fkie/supervisor"
)

// terminalChooser returns a chooser prompting on the controlling
// terminal, or nil when stdin is not one; without a chooser an
// ambiguous selection is reported as an error listing the choices.
func terminalChooser() supervisor.Chooser {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil
	}
	return func(_ context.Context, choices map[string]string) (string, error) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return "", fmt.Errorf("switching terminal to raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
		return promptChoice(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stderr}, choices)
	}
}

// promptChoice lists choices by label, numbered from 1, and reads the
// operator's pick from rw. An empty answer cancels.
func promptChoice(rw io.ReadWriter, choices map[string]string) (string, error) {
	labels := make([]string, 0, len(choices))
	for label := range choices {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	terminal := term.NewTerminal(rw, "")
	for index, label := range labels {
		fmt.Fprintf(terminal, "  %d) %s\n", index+1, label)
	}
	terminal.SetPrompt(fmt.Sprintf("session [1-%d, empty cancels]: ", len(labels)))
	for {
		line, err := terminal.ReadLine()
		if err != nil {
			if err == io.EOF {
				return "", nil
			}
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", nil
		}
		number, err := strconv.Atoi(line)
		if err == nil && number >= 1 && number <= len(labels) {
			return choices[labels[number-1]], nil
		}
		fmt.Fprintf(terminal, "not a choice: %q\n", line)
	}
}
