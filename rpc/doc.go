// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc connects a host daemon to the message broker.
//
// Sessions and the broker exchange CBOR-encoded [Message] frames over
// binary websocket frames. A [Session] keeps one connection alive: it
// dials, performs the hello/welcome handshake, registers its
// procedures and re-subscribes its topics, then serves invocations
// until the connection drops. When the broker is unreachable the
// session asks its [Bootstrapper] to start a local broker and retries
// after a fixed delay, forever, until it connects or is closed.
//
// Procedure and topic names used across the system are defined in
// names.go.
package rpc
