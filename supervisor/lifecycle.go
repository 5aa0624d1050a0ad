// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arne48/multimaster-fkie/lib/clock"
)

// NodeState is the lifecycle state of a node.
type NodeState int

const (
	NotStarted NodeState = iota
	Starting
	Running
	Respawning
	Stopped
	Crashed
)

func (s NodeState) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Respawning:
		return "respawning"
	case Stopped:
		return "stopped"
	case Crashed:
		return "crashed"
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

// allowedTransitions lists the legal successors of each state. Stopped
// and Crashed nodes can be started again.
var allowedTransitions = map[NodeState][]NodeState{
	NotStarted: {Starting},
	Starting:   {Running, Stopped, Crashed},
	Running:    {Respawning, Stopped, Crashed},
	Respawning: {Starting, Stopped},
	Stopped:    {Starting},
	Crashed:    {Starting},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to NodeState) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NodeStatus is the tracked state of one node.
type NodeStatus struct {
	State   NodeState
	Respawn bool
	Since   time.Time
}

// Tracker records node lifecycle states. Transitions are validated;
// an illegal transition is rejected and leaves the state unchanged.
type Tracker struct {
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	nodes map[string]*NodeStatus
}

// NewTracker returns an empty Tracker.
func NewTracker(clk clock.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{clock: clk, logger: logger, nodes: make(map[string]*NodeStatus)}
}

// State returns the current state of node.
func (t *Tracker) State(node string) NodeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status, ok := t.nodes[node]; ok {
		return status.State
	}
	return NotStarted
}

// Transition moves node to state, or returns an error if the move is
// illegal.
func (t *Tracker) Transition(node string, to NodeState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(node, to)
}

// Started records a start request for node.
func (t *Tracker) Started(node string, respawn bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status(node).Respawn = respawn
	if t.status(node).State == Running {
		// Starting a second session of a running node; the monitor
		// reports the duplicate.
		return
	}
	t.transitionLocked(node, Starting)
}

// Stopped records an explicit kill.
func (t *Tracker) Stopped(node string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionLocked(node, Stopped)
}

// Crashed records a failed start or an unexpected exit.
func (t *Tracker) Crashed(node string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionLocked(node, Crashed)
}

// Observe reconciles the tracker with the nodes that currently have a
// session. Present nodes become Running (through Starting when needed).
// Tracked nodes that vanished become Respawning when respawn was
// requested, otherwise Crashed.
func (t *Tracker) Observe(present map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for node := range present {
		switch t.status(node).State {
		case Running:
		case Starting:
			t.transitionLocked(node, Running)
		default:
			t.transitionLocked(node, Starting)
			t.transitionLocked(node, Running)
		}
	}
	for node, status := range t.nodes {
		if present[node] {
			continue
		}
		switch {
		case status.State == Running && status.Respawn:
			t.transitionLocked(node, Respawning)
		case status.State == Running, status.State == Starting:
			t.transitionLocked(node, Crashed)
		}
	}
}

// Snapshot returns a copy of every tracked node's status.
func (t *Tracker) Snapshot() map[string]NodeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]NodeStatus, len(t.nodes))
	for node, status := range t.nodes {
		snapshot[node] = *status
	}
	return snapshot
}

// Nodes returns the tracked node identifiers, sorted.
func (t *Tracker) Nodes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	nodes := make([]string, 0, len(t.nodes))
	for node := range t.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

func (t *Tracker) status(node string) *NodeStatus {
	status, ok := t.nodes[node]
	if !ok {
		status = &NodeStatus{State: NotStarted, Since: t.clock.Now()}
		t.nodes[node] = status
	}
	return status
}

func (t *Tracker) transitionLocked(node string, to NodeState) error {
	status := t.status(node)
	from := status.State
	if !CanTransition(from, to) {
		return fmt.Errorf("node %s: illegal transition %s -> %s", node, from, to)
	}
	status.State = to
	status.Since = t.clock.Now()
	t.logger.Debug("node state changed", "node", node, "from", from.String(), "to", to.String())
	return nil
}
