// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/arne48/multimaster-fkie/lib/fault"
)

// ResolveExecutable finds the executable file called name below
// packageDir. Candidates inside a src directory are build leftovers and
// are dropped whenever an installed candidate exists. No candidate is a
// ConfigurationError; more than one is an AmbiguityError whose choices
// are the candidate paths, for the caller to pick from.
func ResolveExecutable(packageDir, name string) (string, error) {
	if packageDir == "" || name == "" {
		return "", &fault.ConfigurationError{What: "package directory and executable name are required"}
	}

	var candidates []string
	err := filepath.WalkDir(packageDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if entry != nil && entry.IsDir() && path != packageDir {
				return fs.SkipDir
			}
			return err
		}
		if entry.IsDir() || entry.Name() != name {
			return nil
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return "", &fault.ConfigurationError{What: "searching " + packageDir, Err: err}
	}

	installed := candidates[:0:0]
	for _, candidate := range candidates {
		if !strings.Contains(candidate, "/src/") {
			installed = append(installed, candidate)
		}
	}
	if len(installed) > 0 {
		candidates = installed
	}

	switch len(candidates) {
	case 0:
		return "", &fault.ConfigurationError{What: name + " not found in " + packageDir}
	case 1:
		return candidates[0], nil
	}
	choices := make(map[string]string, len(candidates))
	for _, candidate := range candidates {
		choices[candidate] = candidate
	}
	return "", &fault.AmbiguityError{What: "executables named " + name, Choices: choices}
}
