// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package tasks owns background goroutines on behalf of a long-lived
// component. Every goroutine started through a [Group] receives the
// group's context, and [Group.Shutdown] cancels that context and waits
// for all of them, so a component's background work cannot outlive it.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Group is a set of background tasks sharing one lifetime.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// NewGroup returns a Group whose context derives from parent.
func NewGroup(parent context.Context, logger *slog.Logger) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is cancelled when the group shuts down or its parent ends.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn in a new goroutine. A panic in fn is logged with its
// stack and does not propagate. Returns false without starting fn when
// the group is already shut down.
func (g *Group) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.running.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.running.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				g.logger.Error("background task panicked",
					"task", name,
					"panic", fmt.Sprint(recovered),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn(g.ctx)
	}()
	return true
}

// Shutdown cancels the group's context and waits for every task to
// return, or for ctx to end first. Later calls to Go are refused.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

// Wait blocks until every task started so far has returned, without
// cancelling them.
func (g *Group) Wait() {
	g.running.Wait()
}
