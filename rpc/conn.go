// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/arne48/multimaster-fkie/lib/fault"
)

// maxFrameSize bounds one frame. Log tails are the largest payloads.
const maxFrameSize = 4 * 1024 * 1024

// Conn carries broker frames. Send may be called concurrently with
// itself and with Receive; Receive has a single caller.
type Conn interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens connections to a broker.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketConn is a Conn over a websocket connection.
type WebSocketConn struct {
	ws *websocket.Conn
}

// NewWebSocketConn wraps an established websocket connection.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(maxFrameSize)
	return &WebSocketConn{ws: ws}
}

// Send writes message as one binary frame.
func (c *WebSocketConn) Send(ctx context.Context, message Message) error {
	data, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}

// Receive reads the next frame. Text frames are a protocol error.
func (c *WebSocketConn) Receive(ctx context.Context) (Message, error) {
	kind, data, err := c.ws.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	if kind != websocket.MessageBinary {
		return Message{}, fmt.Errorf("unexpected %v frame", kind)
	}
	return DecodeMessage(data)
}

// Close closes the connection with a normal closure status.
func (c *WebSocketConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// WebSocketDialer dials brokers over websocket.
type WebSocketDialer struct {
	// Timeout bounds the opening handshake; defaults to 10 seconds.
	Timeout time.Duration
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, &fault.TransportError{Host: url, Op: "dial", Err: err}
	}
	return NewWebSocketConn(ws), nil
}
