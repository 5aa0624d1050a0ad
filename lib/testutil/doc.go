// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the package tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests do not sprinkle time.After calls; together with
// [Eventually] they are the only place tests wait on the wall clock.
// [WriteExecutable] drops a shell script into a directory so tests can
// stand in for screen, terminal emulators, and node binaries.
//
// All helpers fail the test with t.Fatalf instead of returning errors.
package testutil
