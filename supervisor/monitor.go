// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/screen"
)

// ScreenRepetitions names a node that runs in more than one session.
type ScreenRepetitions struct {
	Name    string   `cbor:"name"`
	Screens []string `cbor:"screens"`
}

// Publisher delivers monitor reports.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// MonitorConfig configures a [Monitor].
type MonitorConfig struct {
	Supervisor *Supervisor
	Publisher  Publisher

	// Topic receives the list of nodes with duplicate sessions.
	Topic string

	Clock clock.Clock

	// Interval between ticks; defaults to one second.
	Interval time.Duration

	// ForceEvery forces a scan after this many ticks without one;
	// defaults to 10.
	ForceEvery int

	Logger *slog.Logger
}

// Monitor scans local sessions: it sweeps dead ones, reports nodes
// running more than once and feeds the lifecycle tracker. A scan runs
// on the first tick, after every [Monitor.Trigger], and at least every
// ForceEvery ticks.
type Monitor struct {
	config  MonitorConfig
	pending atomic.Bool

	// reportedMultiple is true while the last published report was
	// non-empty, so that the all-clear is published once.
	reportedMultiple bool
}

// NewMonitor returns a Monitor that scans on its first tick.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.ForceEvery <= 0 {
		config.ForceEvery = 10
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	monitor := &Monitor{config: config, reportedMultiple: true}
	monitor.pending.Store(true)
	return monitor
}

// Trigger requests a scan on the next tick.
func (m *Monitor) Trigger() {
	m.pending.Store(true)
}

// Run ticks until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.config.Clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.pending.Swap(false) || idleTicks >= m.config.ForceEvery {
			m.Scan(ctx)
			idleTicks = 0
		} else {
			idleTicks++
		}
	}
}

// Scan performs one scan and returns the nodes with duplicate sessions.
func (m *Monitor) Scan(ctx context.Context) []ScreenRepetitions {
	supervisor := m.config.Supervisor
	supervisor.Wipe(ctx, "")
	groups := screen.GroupByNode(supervisor.ListActiveSessions(ctx, "", ""))

	present := make(map[string]bool, len(groups))
	repetitions := []ScreenRepetitions{}
	for node, tokens := range groups {
		present[node] = true
		if len(tokens) > 1 {
			repetitions = append(repetitions, ScreenRepetitions{Name: node, Screens: tokens})
		}
	}
	sort.Slice(repetitions, func(i, j int) bool { return repetitions[i].Name < repetitions[j].Name })

	if tracker := supervisor.Tracker(); tracker != nil {
		tracker.Observe(present)
	}

	if m.config.Publisher != nil && (len(repetitions) > 0 || m.reportedMultiple) {
		m.config.Logger.Debug("reporting nodes with multiple sessions", "count", len(repetitions))
		if err := m.config.Publisher.Publish(ctx, m.config.Topic, repetitions); err != nil {
			m.config.Logger.Warn("publishing session report failed", "topic", m.config.Topic, "error", err)
		} else {
			m.reportedMultiple = len(repetitions) > 0
		}
	}
	return repetitions
}
