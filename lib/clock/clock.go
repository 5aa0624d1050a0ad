// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets components that wait (the broker reconnect loop,
// the session monitor) take time as a dependency. Binaries pass Real();
// tests pass Fake() and move time forward explicitly with Advance, using
// WaitForTimers to know a goroutine has reached its wait.
package clock

import "time"

// Clock is the subset of the time package the supervisor and the broker
// session depend on.
type Clock interface {
	Now() time.Time

	// After behaves like time.After. d <= 0 delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker behaves like time.NewTicker and panics for d <= 0.
	NewTicker(d time.Duration) *Ticker

	Sleep(d time.Duration)
}

// Ticker delivers ticks on C (capacity 1; late ticks are dropped).
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }
