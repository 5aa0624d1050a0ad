// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var start = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

func TestAfterFiresOnlyAtDeadline(t *testing.T) {
	t.Parallel()

	clock := Fake(start)
	channel := clock.After(2 * time.Second)

	clock.Advance(time.Second)
	select {
	case <-channel:
		t.Fatal("After fired one second early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(start.Add(2 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, start.Add(2*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestAfterNonPositiveIsImmediate(t *testing.T) {
	t.Parallel()

	clock := Fake(start)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(d):
		default:
			t.Fatalf("After(%v) did not deliver immediately", d)
		}
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", clock.PendingCount())
	}
}

func TestSleepReleasedByAdvance(t *testing.T) {
	t.Parallel()

	clock := Fake(start)
	done := make(chan struct{})
	go func() {
		clock.Sleep(5 * time.Second)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestTickerReschedulesAndStops(t *testing.T) {
	t.Parallel()

	clock := Fake(start)
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	<-ticker.C
	clock.Advance(time.Second)
	<-ticker.C

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount after Stop = %d, want 0", clock.PendingCount())
	}
}

func TestTickerDropsWhenConsumerIsBehind(t *testing.T) {
	t.Parallel()

	clock := Fake(start)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(3 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("ticker queued more than one tick")
	default:
	}
}

func TestNewTickerPanicsOnZeroPeriod(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(start).NewTicker(0)
}
