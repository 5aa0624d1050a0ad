// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

// RunFunc is the body of a binary.
type RunFunc func(ctx context.Context, logger *slog.Logger) error

// Options tune [Main]. The zero value logs JSON at info level to stderr.
type Options struct {
	Level  slog.Level
	Output io.Writer
}

// NewLogger returns the JSON logger every binary uses.
func NewLogger(name string, options Options) *slog.Logger {
	output := options.Output
	if output == nil {
		output = os.Stderr
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: options.Level})
	return slog.New(handler).With("component", name)
}

// Main runs run with a signal-aware context and a configured logger,
// then returns. It never calls os.Exit, so returning from main yields
// exit status 0.
func Main(name string, options Options, run RunFunc) {
	logger := NewLogger(name, options)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Guard(ctx, logger, run); err != nil {
		logger.Error("exiting after failure", "error", err)
	}
}

// Guard calls run and converts a panic into an error carrying the
// stack trace. Daemon procedure handlers use it so that one failing
// request cannot take the process down.
func Guard(ctx context.Context, logger *slog.Logger, run RunFunc) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			stack := string(debug.Stack())
			logger.Error("panic", "panic", fmt.Sprint(recovered), "stack", stack)
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return run(ctx, logger)
}
