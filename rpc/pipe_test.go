// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is one end of an in-memory Conn pair.
type pipeConn struct {
	in     <-chan Message
	out    chan<- Message
	closed chan struct{}
	once   *sync.Once
}

func newPipe() (*pipeConn, *pipeConn) {
	left := make(chan Message, 32)
	right := make(chan Message, 32)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: left, out: right, closed: closed, once: once},
		&pipeConn{in: right, out: left, closed: closed, once: once}
}

func (p *pipeConn) Send(ctx context.Context, message Message) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- message:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case message := <-p.in:
		return message, nil
	case <-p.closed:
		return Message{}, errPipeClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// fakeBroker answers a single session over a pipe: it welcomes, accepts
// every registration and subscription, answers calls to "ros.echo" with
// their payload, and records publications and invocation answers.
// Registrations are reported to the dialer, which may ask the broker to
// ignore them or to hold the first reply.
type fakeBroker struct {
	conn      *pipeConn
	dialer    *pipeDialer
	published chan Message
	answers   chan Message
}

func (b *fakeBroker) serve(ctx context.Context) {
	for {
		message, err := b.conn.Receive(ctx)
		if err != nil {
			return
		}
		var reply Message
		switch message.Type {
		case TypeHello:
			reply = Message{Type: TypeWelcome, Session: "session-1"}
		case TypeRegister:
			if !b.dialer.sawRegister(message.Procedure) {
				continue
			}
			if message.Procedure == "forbidden" {
				reply = Message{Type: TypeError, Request: message.Request, Error: "not allowed"}
			} else {
				reply = Message{Type: TypeRegistered, Request: message.Request}
			}
		case TypeSubscribe:
			b.dialer.sawSubscribe(message.Topic)
			reply = Message{Type: TypeSubscribed, Request: message.Request}
		case TypeCall:
			if message.Procedure == "ros.echo" {
				reply = Message{Type: TypeResult, Request: message.Request, Payload: message.Payload}
			} else {
				reply = Message{Type: TypeError, Request: message.Request, Error: "no such procedure"}
			}
		case TypePublish:
			b.published <- message
			continue
		case TypeYield, TypeError:
			b.answers <- message
			continue
		default:
			continue
		}
		if b.conn.Send(ctx, reply) != nil {
			return
		}
	}
}

// pipeDialer hands out pipes whose far ends are served by fake
// brokers. Dials fail while failing is set; gate, when non-nil, blocks
// each dial until it is closed. Brokers leave registrations unanswered
// while silent is set, and hold, when non-nil, delays the reply to the
// first registration until it is closed.
type pipeDialer struct {
	dials     atomic.Int32
	failing   atomic.Bool
	silent    atomic.Bool
	gate      chan struct{}
	hold      chan struct{}
	held      chan string
	published chan Message
	answers   chan Message

	mu        sync.Mutex
	brokers   []*fakeBroker
	registers []string
	topics    []string
	holding   bool
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{published: make(chan Message, 32), answers: make(chan Message, 32)}
}

func (d *pipeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.failing.Load() {
		return nil, errors.New("connection refused")
	}
	local, remote := newPipe()
	broker := &fakeBroker{conn: remote, dialer: d, published: d.published, answers: d.answers}
	d.mu.Lock()
	d.brokers = append(d.brokers, broker)
	d.mu.Unlock()
	go broker.serve(context.Background())
	return local, nil
}

// sawRegister records a registration and reports whether the broker
// should answer it.
func (d *pipeDialer) sawRegister(procedure string) bool {
	d.mu.Lock()
	d.registers = append(d.registers, procedure)
	wait := d.hold != nil && !d.holding
	if wait {
		d.holding = true
	}
	d.mu.Unlock()
	if wait {
		if d.held != nil {
			d.held <- procedure
		}
		<-d.hold
	}
	return !d.silent.Load()
}

func (d *pipeDialer) registered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.registers...)
}

func (d *pipeDialer) sawSubscribe(topic string) {
	d.mu.Lock()
	d.topics = append(d.topics, topic)
	d.mu.Unlock()
}

func (d *pipeDialer) subscribed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.topics...)
}

func (d *pipeDialer) broker(index int) *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brokers[index]
}

type countingBootstrapper struct {
	calls atomic.Int32
}

func (c *countingBootstrapper) Bootstrap(context.Context) error {
	c.calls.Add(1)
	return nil
}
