// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/codec"
	"github.com/arne48/multimaster-fkie/lib/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, dialer Dialer, config SessionConfig) *Session {
	t.Helper()
	config.URL = "ws://localhost:11911/ws"
	config.Realm = "ros"
	config.Dialer = dialer
	if config.Clock == nil {
		config.Clock = clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	}
	config.Logger = quietLogger()
	session := NewSession(config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		session.Close(ctx)
	})
	return session
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	dialer.gate = make(chan struct{})
	session := newTestSession(t, dialer, SessionConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- session.Connect(ctx) }()
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return dialer.dials.Load() == 1 }, "first dial")
	if state := session.State(); state != Connecting {
		t.Errorf("state while dialing = %v, want connecting", state)
	}
	close(dialer.gate)

	for range 2 {
		if err := testutil.RequireReceive(t, errs, 5*time.Second, "connect result"); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if dials := dialer.dials.Load(); dials != 1 {
		t.Errorf("%d dials, want 1", dials)
	}
	if session.State() != Connected || session.SessionID() != "session-1" {
		t.Errorf("state = %v, session = %q", session.State(), session.SessionID())
	}
}

func TestJoinRegistersProceduresAndAnnounces(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	session := newTestSession(t, dialer, SessionConfig{})
	noop := func(context.Context, codec.RawMessage) (any, error) { return nil, nil }
	for _, name := range []string{ProcedureListSessions, ProcedureKillNode, "forbidden"} {
		if err := session.Register(name, noop); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	if err := session.Register(ProcedureKillNode, noop); err == nil {
		t.Error("duplicate Register accepted")
	}

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := session.Registrations(); got != 2 {
		t.Errorf("Registrations() = %d, want 2", got)
	}
	announced := testutil.RequireReceive(t, dialer.published, 5*time.Second, "system changed")
	if announced.Topic != TopicSystemChanged {
		t.Errorf("published topic %q, want %q", announced.Topic, TopicSystemChanged)
	}
}

func TestRetryBootstrapsOncePerFailure(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dialer := newPipeDialer()
	dialer.failing.Store(true)
	bootstrapper := &countingBootstrapper{}
	session := newTestSession(t, dialer, SessionConfig{
		Clock:        fake,
		RetryDelay:   2 * time.Second,
		Bootstrapper: bootstrapper,
	})

	errs := make(chan error, 1)
	go func() { errs <- session.Connect(context.Background()) }()

	fake.WaitForTimers(1)
	if calls := bootstrapper.calls.Load(); calls != 1 {
		t.Fatalf("bootstrap calls after first failure = %d, want 1", calls)
	}
	if state := session.State(); state != Disconnected {
		t.Errorf("state while waiting = %v, want disconnected", state)
	}

	fake.Advance(2 * time.Second)
	fake.WaitForTimers(1)
	if calls := bootstrapper.calls.Load(); calls != 2 {
		t.Fatalf("bootstrap calls after second failure = %d, want 2", calls)
	}

	dialer.failing.Store(false)
	fake.Advance(2 * time.Second)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "connect result"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if dials := dialer.dials.Load(); dials != 3 {
		t.Errorf("%d dials, want 3", dials)
	}
	if calls := bootstrapper.calls.Load(); calls != 2 {
		t.Errorf("bootstrap calls after success = %d, want 2", calls)
	}
}

func TestUnansweredRegistrationFailsTheAttempt(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dialer := newPipeDialer()
	dialer.silent.Store(true)
	bootstrapper := &countingBootstrapper{}
	session := newTestSession(t, dialer, SessionConfig{
		Clock:            fake,
		RetryDelay:       2 * time.Second,
		HandshakeTimeout: 50 * time.Millisecond,
		Bootstrapper:     bootstrapper,
	})
	noop := func(context.Context, codec.RawMessage) (any, error) { return nil, nil }
	if err := session.Register("ros.a", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- session.Connect(context.Background()) }()

	fake.WaitForTimers(1)
	if calls := bootstrapper.calls.Load(); calls != 1 {
		t.Fatalf("bootstrap calls after stalled join = %d, want 1", calls)
	}
	if state := session.State(); state != Disconnected {
		t.Errorf("state while waiting = %v, want disconnected", state)
	}

	dialer.silent.Store(false)
	fake.Advance(2 * time.Second)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "connect result"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if dials := dialer.dials.Load(); dials != 2 {
		t.Errorf("%d dials, want 2", dials)
	}
	if got := session.Registrations(); got != 1 {
		t.Errorf("Registrations() = %d, want 1", got)
	}
}

func TestRegisterDuringJoinReachesBroker(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	dialer.hold = make(chan struct{})
	dialer.held = make(chan string, 1)
	session := newTestSession(t, dialer, SessionConfig{})
	noop := func(context.Context, codec.RawMessage) (any, error) { return nil, nil }
	if err := session.Register("ros.a", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- session.Connect(context.Background()) }()

	if got := testutil.RequireReceive(t, dialer.held, 5*time.Second, "held registration"); got != "ros.a" {
		t.Fatalf("held registration = %q, want ros.a", got)
	}
	if err := session.Register("ros.late", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	close(dialer.hold)

	if err := testutil.RequireReceive(t, errs, 5*time.Second, "connect result"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return session.Registrations() == 2 }, "late registration")
	registered := dialer.registered()
	if len(registered) != 2 || registered[0] != "ros.a" || registered[1] != "ros.late" {
		t.Errorf("broker saw registrations %v, want [ros.a ros.late]", registered)
	}
}

func TestSubscribeDuringJoinReachesBroker(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	dialer.hold = make(chan struct{})
	dialer.held = make(chan string, 1)
	session := newTestSession(t, dialer, SessionConfig{})
	noop := func(context.Context, codec.RawMessage) (any, error) { return nil, nil }
	if err := session.Register("ros.a", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- session.Connect(context.Background()) }()
	testutil.RequireReceive(t, dialer.held, 5*time.Second, "held registration")

	handler := func(context.Context, string, codec.RawMessage) {}
	if err := session.Subscribe(context.Background(), "ros.late.topic", handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	close(dialer.hold)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "connect result"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		subscribed := dialer.subscribed()
		return len(subscribed) == 1 && subscribed[0] == "ros.late.topic"
	}, "late subscription")
}

func TestCallAndPublish(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	session := newTestSession(t, dialer, SessionConfig{})

	if err := session.Call(context.Background(), "ros.echo", "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Call before connect = %v, want ErrNotConnected", err)
	}
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	testutil.RequireReceive(t, dialer.published, 5*time.Second, "system changed")

	var echoed Reply
	if err := session.Call(context.Background(), "ros.echo", Succeeded("hi"), &echoed); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if echoed != (Reply{Result: true, Message: "hi"}) {
		t.Errorf("echoed %+v", echoed)
	}

	err := session.Call(context.Background(), "ros.missing", nil, nil)
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Message != "no such procedure" {
		t.Errorf("Call(missing) = %v, want CallError", err)
	}

	if err := session.Publish(context.Background(), TopicMultipleScreens, []string{"a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	published := testutil.RequireReceive(t, dialer.published, 5*time.Second, "publication")
	var payload []string
	if err := DecodePayload(published.Payload, &payload); err != nil || len(payload) != 1 || payload[0] != "a" {
		t.Errorf("published payload %v, %v", payload, err)
	}
}

func TestInvocationIsAnswered(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	session := newTestSession(t, dialer, SessionConfig{})
	session.Register("ros.double", func(_ context.Context, args codec.RawMessage) (any, error) {
		var value int
		if err := DecodePayload(args, &value); err != nil {
			return nil, err
		}
		return value * 2, nil
	})
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	brokerEnd := dialer.broker(0).conn
	ctx := context.Background()
	brokerEnd.Send(ctx, Message{Type: TypeInvoke, Request: 70, Procedure: "ros.double", Payload: codec.MustMarshal(21)})

	yield := testutil.RequireReceive(t, dialer.answers, 5*time.Second, "yield")
	var doubled int
	if err := DecodePayload(yield.Payload, &doubled); err != nil || doubled != 42 || yield.Request != 70 {
		t.Errorf("yield = %+v (%d, %v)", yield, doubled, err)
	}
}

func TestInvocationPanicBecomesError(t *testing.T) {
	t.Parallel()

	local, remote := newPipe()
	dialer := &singleDialer{conn: local}
	session := newTestSession(t, dialer, SessionConfig{})
	session.Register("ros.panics", func(context.Context, codec.RawMessage) (any, error) {
		panic("boom")
	})

	go func() {
		ctx := context.Background()
		hello, _ := remote.Receive(ctx)
		remote.Send(ctx, Message{Type: TypeWelcome, Session: "s", Request: hello.Request})
		register, _ := remote.Receive(ctx)
		remote.Send(ctx, Message{Type: TypeRegistered, Request: register.Request})
	}()
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx := context.Background()
	if announce, err := remote.Receive(ctx); err != nil || announce.Topic != TopicSystemChanged {
		t.Fatalf("announce = %+v, %v", announce, err)
	}

	remote.Send(ctx, Message{Type: TypeInvoke, Request: 9, Procedure: "ros.panics"})
	answer, err := remote.Receive(ctx)
	if err != nil || answer.Type != TypeError || answer.Request != 9 {
		t.Fatalf("answer = %+v, %v", answer, err)
	}

	remote.Send(ctx, Message{Type: TypeInvoke, Request: 10, Procedure: "ros.unknown"})
	answer, err = remote.Receive(ctx)
	if err != nil || answer.Type != TypeError || answer.Error != "no such procedure: ros.unknown" {
		t.Errorf("answer = %+v, %v", answer, err)
	}
}

func TestDisconnectRunsHookWithoutReconnecting(t *testing.T) {
	t.Parallel()

	dialer := newPipeDialer()
	lost := make(chan struct{}, 1)
	session := newTestSession(t, dialer, SessionConfig{
		OnDisconnect: func() { lost <- struct{}{} },
	})
	session.Register(ProcedureListSessions, func(context.Context, codec.RawMessage) (any, error) { return nil, nil })
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	dialer.broker(0).conn.Close()
	testutil.RequireReceive(t, lost, 5*time.Second, "disconnect hook")
	if state := session.State(); state != Disconnected {
		t.Errorf("state after loss = %v, want disconnected", state)
	}
	if session.Registrations() != 0 {
		t.Errorf("Registrations() = %d after loss", session.Registrations())
	}
	if err := session.Publish(context.Background(), TopicSystemChanged, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish after loss = %v", err)
	}
	if dials := dialer.dials.Load(); dials != 1 {
		t.Errorf("%d dials without Reconnect, want 1", dials)
	}

	session.Reconnect()
	testutil.Eventually(t, 5*time.Second, func() bool { return session.State() == Connected }, "reconnect")
	if session.Registrations() != 1 {
		t.Errorf("Registrations() after reconnect = %d, want 1", session.Registrations())
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	t.Parallel()

	local, remote := newPipe()
	session := newTestSession(t, &singleDialer{conn: local}, SessionConfig{})

	go func() {
		ctx := context.Background()
		remote.Receive(ctx)
		remote.Send(ctx, Message{Type: TypeWelcome, Session: "s"})
	}()
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx := context.Background()
	remote.Receive(ctx) // system changed

	events := make(chan string, 1)
	var once sync.Once
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- session.Subscribe(ctx, TopicMultipleScreens, func(_ context.Context, topic string, payload codec.RawMessage) {
			var names []string
			DecodePayload(payload, &names)
			once.Do(func() { events <- topic + ":" + names[0] })
		})
	}()
	request, err := remote.Receive(ctx)
	if err != nil || request.Type != TypeSubscribe || request.Topic != TopicMultipleScreens {
		t.Fatalf("subscribe request = %+v, %v", request, err)
	}
	remote.Send(ctx, Message{Type: TypeSubscribed, Request: request.Request})
	if err := testutil.RequireReceive(t, subscribed, 5*time.Second, "subscribe result"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	remote.Send(ctx, Message{Type: TypeEvent, Topic: TopicMultipleScreens, Payload: codec.MustMarshal([]string{"/camera"})})
	if got := testutil.RequireReceive(t, events, 5*time.Second, "event"); got != TopicMultipleScreens+":/camera" {
		t.Errorf("event = %q", got)
	}
}

func TestCloseStopsRetrying(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dialer := newPipeDialer()
	dialer.failing.Store(true)
	session := newTestSession(t, dialer, SessionConfig{Clock: fake})

	session.Reconnect()
	fake.WaitForTimers(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	if session.State() != Disconnected {
		t.Errorf("state after Close = %v", session.State())
	}
}

// singleDialer returns conn on the first dial and fails afterwards.
type singleDialer struct {
	mu   sync.Mutex
	conn Conn
}

func (d *singleDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, errors.New("no more connections")
	}
	conn := d.conn
	d.conn = nil
	return conn, nil
}
