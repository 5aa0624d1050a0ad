// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/remote"
)

// The remote helper exits with status 0 whether or not its action
// succeeded, and ends its standard output with a single result line.
// Everything printed before that line is the action's own output.
const (
	helperResultPrefix = "nodemgr-result: "
	helperResultOK     = "ok"
	helperResultError  = "error: "
)

// WriteHelperResult writes the result line for err to w.
func WriteHelperResult(w io.Writer, err error) error {
	line := helperResultOK
	if err != nil {
		line = helperResultError + strings.ReplaceAll(err.Error(), "\n", " ")
	}
	_, werr := fmt.Fprintf(w, "%s%s\n", helperResultPrefix, line)
	return werr
}

// ParseHelperOutput splits the helper's output into the action output
// and the action's error. Output without a result line is a failure,
// reported from standard error and the exit status.
func ParseHelperOutput(what string, output remote.Output) (string, error) {
	stdout := strings.TrimRight(output.Stdout, "\n")
	body, last := "", stdout
	if index := strings.LastIndexByte(stdout, '\n'); index >= 0 {
		body, last = stdout[:index+1], stdout[index+1:]
	}

	result, found := strings.CutPrefix(last, helperResultPrefix)
	if !found {
		detail := strings.TrimSpace(output.Stderr)
		if detail == "" {
			detail = "no result line"
		}
		return "", &fault.ProcessError{Op: what, Err: fmt.Errorf("exit status %d: %s", output.ExitCode, detail)}
	}
	if result == helperResultOK {
		return body, nil
	}
	message, _ := strings.CutPrefix(result, helperResultError)
	return "", &fault.ProcessError{Op: what, Err: errors.New(message)}
}
