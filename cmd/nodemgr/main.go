// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Nodemgr is the operator CLI of the node manager. It works on this
// machine directly and on remote hosts over SSH, and talks to the
// broker for procedure calls and event streams:
//
//	nodemgr list [--host robot1]
//	nodemgr kill /robot/camera
//	nodemgr screen /robot/camera
//	nodemgr start --package camera_pkg --type camera_node /robot/camera -- _rate:=10
//	nodemgr tail -n 100 /robot/camera
//	nodemgr call ros.screen.log_tail --arg node=/robot/camera --arg lines=20
//	nodemgr watch
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp(os.Stdout).root().Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
