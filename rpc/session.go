// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/codec"
	"github.com/arne48/multimaster-fkie/lib/tasks"
)

// State is the connection state of a [Session].
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrNotConnected is returned by operations that need a live
	// connection while the session has none.
	ErrNotConnected = errors.New("rpc: not connected")

	// ErrDisconnected fails requests whose connection dropped before
	// the reply arrived.
	ErrDisconnected = errors.New("rpc: connection lost")

	// ErrClosed is returned after [Session.Close].
	ErrClosed = errors.New("rpc: session closed")
)

// ProcedureFunc serves one registered procedure. args is the caller's
// encoded argument, possibly empty. The returned value is encoded as
// the result; an error is returned to the caller as its message.
type ProcedureFunc func(ctx context.Context, args codec.RawMessage) (any, error)

// EventHandler receives events of a subscribed topic. Handlers run on
// the read loop and must not block.
type EventHandler func(ctx context.Context, topic string, payload codec.RawMessage)

// Bootstrapper starts a broker when none is reachable.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// SessionConfig configures a [Session].
type SessionConfig struct {
	// URL is the broker's websocket endpoint.
	URL string

	Realm string

	// Dialer defaults to a WebSocketDialer.
	Dialer Dialer

	// Bootstrapper is invoked after every failed connection attempt.
	// Optional.
	Bootstrapper Bootstrapper

	Clock clock.Clock

	// RetryDelay is the fixed wait between connection attempts;
	// defaults to two seconds.
	RetryDelay time.Duration

	// HandshakeTimeout bounds hello/welcome; defaults to ten seconds.
	HandshakeTimeout time.Duration

	// OnDisconnect runs after an established connection is lost. The
	// session does not reconnect on its own; the hook typically calls
	// [Session.Reconnect].
	OnDisconnect func()

	Logger *slog.Logger
}

// link is one established connection. done closes when its read loop
// ends.
type link struct {
	conn Conn
	done chan struct{}
	once sync.Once
}

func newLink(conn Conn) *link {
	return &link{conn: conn, done: make(chan struct{})}
}

func (l *link) close() {
	l.once.Do(func() { l.conn.Close() })
}

type pendingRequest struct {
	link  *link
	reply chan Message
}

// Session is a broker session that survives broker restarts through
// explicit reconnects. All methods are safe for concurrent use.
type Session struct {
	config SessionConfig
	logger *slog.Logger
	group  *tasks.Group

	nextRequest atomic.Uint64

	mu            sync.Mutex
	closed        bool
	state         State
	loopRunning   bool
	connected     chan struct{}
	current       *link
	sessionID     string
	registrations int
	pending       map[uint64]pendingRequest
	procedures    map[string]ProcedureFunc
	subscriptions map[string][]EventHandler
}

// NewSession returns a disconnected Session. Nothing is dialed until
// [Session.Connect] or [Session.Reconnect].
func NewSession(config SessionConfig) *Session {
	if config.Dialer == nil {
		config.Dialer = WebSocketDialer{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		config:        config,
		logger:        config.Logger,
		group:         tasks.NewGroup(context.Background(), config.Logger),
		connected:     make(chan struct{}),
		pending:       make(map[uint64]pendingRequest),
		procedures:    make(map[string]ProcedureFunc),
		subscriptions: make(map[string][]EventHandler),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID is the id the broker assigned on the last join.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Registrations reports how many procedures the broker accepted on the
// current connection.
func (s *Session) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations
}

// Register adds a procedure. Procedures are registered on every join;
// on a live connection the new one is registered right away.
func (s *Session) Register(procedure string, fn ProcedureFunc) error {
	if procedure == "" || fn == nil {
		return fmt.Errorf("rpc: register needs a procedure name and a function")
	}
	s.mu.Lock()
	if _, exists := s.procedures[procedure]; exists {
		s.mu.Unlock()
		return fmt.Errorf("rpc: procedure %q already registered", procedure)
	}
	s.procedures[procedure] = fn
	if s.current != nil {
		s.registerAsyncLocked(s.current, procedure)
	}
	s.mu.Unlock()
	return nil
}

// Subscribe adds handler for topic. Subscriptions are renewed on every
// join. On a live connection a topic's first handler subscribes
// immediately.
func (s *Session) Subscribe(ctx context.Context, topic string, handler EventHandler) error {
	if topic == "" || handler == nil {
		return fmt.Errorf("rpc: subscribe needs a topic and a handler")
	}
	s.mu.Lock()
	first := len(s.subscriptions[topic]) == 0
	s.subscriptions[topic] = append(s.subscriptions[topic], handler)
	current := s.current
	s.mu.Unlock()

	if current == nil || !first {
		return nil
	}
	return s.subscribeOne(ctx, current, topic)
}

// Connect ensures a connection loop is running and waits until the
// session is connected or ctx ends. Concurrent callers share one loop,
// so at most one connection attempt is in flight.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.startLoopLocked()
	connected := s.connected
	s.mu.Unlock()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.group.Context().Done():
		return ErrClosed
	}
}

// Reconnect starts the connection loop without waiting for it. It does
// nothing while connected or while a loop is already running.
func (s *Session) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == Connected {
		return
	}
	s.startLoopLocked()
}

func (s *Session) startLoopLocked() {
	if s.loopRunning {
		return
	}
	s.loopRunning = true
	s.state = Connecting
	if !s.group.Go("connect loop", s.connectLoop) {
		s.loopRunning = false
		s.state = Disconnected
	}
}

// connectLoop dials until a join succeeds or the session closes. Each
// failure invokes the bootstrapper once, then waits RetryDelay.
func (s *Session) connectLoop(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		joined, err := s.join(ctx)
		if err == nil && s.commit(joined) {
			s.logger.Info("connected to broker",
				"url", s.config.URL,
				"session", joined.sessionID,
				"registrations", joined.registered,
			)
			return
		}
		if err == nil {
			err = ErrDisconnected
		}
		if ctx.Err() != nil || s.isClosed() {
			s.finishLoop()
			return
		}

		s.logger.Warn("broker connection failed",
			"url", s.config.URL,
			"attempt", attempt,
			"error", err,
			"retry_in", s.config.RetryDelay,
		)
		if s.config.Bootstrapper != nil {
			if err := s.config.Bootstrapper.Bootstrap(ctx); err != nil {
				s.logger.Error("starting local broker failed", "error", err)
			}
		}

		s.setState(Disconnected)
		select {
		case <-ctx.Done():
			s.finishLoop()
			return
		case <-s.config.Clock.After(s.config.RetryDelay):
		}
		s.setState(Connecting)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) finishLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopRunning = false
	s.state = Disconnected
}

// joinResult is what a join established: the link, the names it
// covered and how many registrations the broker accepted.
type joinResult struct {
	link       *link
	sessionID  string
	registered int
	procedures map[string]bool
	topics     map[string]bool
}

// commit publishes a joined link as the current connection, unless its
// read loop already ended. Procedures and topics added while the join
// was in flight are registered on the new link afterwards.
func (s *Session) commit(joined *joinResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := joined.link
	select {
	case <-current.done:
		return false
	default:
	}
	if s.closed {
		current.close()
		return false
	}
	s.current = current
	s.sessionID = joined.sessionID
	s.registrations = joined.registered
	s.state = Connected
	s.loopRunning = false
	close(s.connected)

	for procedure := range s.procedures {
		if !joined.procedures[procedure] {
			s.registerAsyncLocked(current, procedure)
		}
	}
	for topic := range s.subscriptions {
		if !joined.topics[topic] {
			s.subscribeAsyncLocked(current, topic)
		}
	}
	return true
}

// registerAsyncLocked registers procedure on current in the background
// and counts it if current is still the connection when it is accepted.
func (s *Session) registerAsyncLocked(current *link, procedure string) {
	s.group.Go("register "+procedure, func(ctx context.Context) {
		if s.registerOne(ctx, current, procedure) {
			s.mu.Lock()
			if s.current == current {
				s.registrations++
			}
			s.mu.Unlock()
		}
	})
}

func (s *Session) subscribeAsyncLocked(current *link, topic string) {
	s.group.Go("subscribe "+topic, func(ctx context.Context) {
		if err := s.subscribeOne(ctx, current, topic); err != nil {
			s.logger.Warn("subscription refused", "topic", topic, "error", err)
		}
	})
}

// join dials, shakes hands and performs the join work: register every
// procedure, renew every subscription and announce the change. The
// work after the handshake is bounded by HandshakeTimeout; a broker
// that stops answering fails the attempt.
func (s *Session) join(ctx context.Context) (*joinResult, error) {
	conn, err := s.config.Dialer.Dial(ctx, s.config.URL)
	if err != nil {
		return nil, err
	}
	sessionID, err := s.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	current := newLink(conn)
	if !s.group.Go("read loop", func(ctx context.Context) { s.readLoop(ctx, current) }) {
		conn.Close()
		return nil, ErrClosed
	}

	s.mu.Lock()
	joined := &joinResult{
		link:       current,
		sessionID:  sessionID,
		procedures: make(map[string]bool, len(s.procedures)),
		topics:     make(map[string]bool, len(s.subscriptions)),
	}
	procedures := make([]string, 0, len(s.procedures))
	for procedure := range s.procedures {
		procedures = append(procedures, procedure)
		joined.procedures[procedure] = true
	}
	topics := make([]string, 0, len(s.subscriptions))
	for topic := range s.subscriptions {
		topics = append(topics, topic)
		joined.topics[topic] = true
	}
	s.mu.Unlock()
	sort.Strings(procedures)
	sort.Strings(topics)

	joinCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()
	fail := func(err error) (*joinResult, error) {
		current.close()
		return nil, err
	}

	for _, procedure := range procedures {
		if s.registerOne(joinCtx, current, procedure) {
			joined.registered++
		}
		if isDone(current.done) {
			return fail(ErrDisconnected)
		}
		if joinCtx.Err() != nil {
			return fail(fmt.Errorf("registering %s: %w", procedure, joinCtx.Err()))
		}
	}
	for _, topic := range topics {
		if err := s.subscribeOne(joinCtx, current, topic); err != nil {
			if joinCtx.Err() != nil || isDone(current.done) {
				return fail(fmt.Errorf("subscribing %s: %w", topic, err))
			}
			s.logger.Warn("subscription refused", "topic", topic, "error", err)
		}
	}
	if err := current.conn.Send(joinCtx, Message{Type: TypePublish, Topic: TopicSystemChanged}); err != nil {
		return fail(err)
	}
	return joined, nil
}

func (s *Session) handshake(ctx context.Context, conn Conn) (string, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	if err := conn.Send(handshakeCtx, Message{Type: TypeHello, Realm: s.config.Realm}); err != nil {
		return "", fmt.Errorf("sending hello: %w", err)
	}
	reply, err := conn.Receive(handshakeCtx)
	if err != nil {
		return "", fmt.Errorf("awaiting welcome: %w", err)
	}
	switch reply.Type {
	case TypeWelcome:
		return reply.Session, nil
	case TypeAbort:
		return "", fmt.Errorf("broker refused realm %q: %s", s.config.Realm, reply.Error)
	}
	return "", fmt.Errorf("unexpected %s frame during handshake", reply.Type)
}

// registerOne registers procedure on current and reports whether the
// broker accepted it. Refusals are logged, not fatal.
func (s *Session) registerOne(ctx context.Context, current *link, procedure string) bool {
	reply, err := s.request(ctx, current, Message{Type: TypeRegister, Procedure: procedure})
	if err != nil {
		s.logger.Warn("registering procedure failed", "procedure", procedure, "error", err)
		return false
	}
	if reply.Type != TypeRegistered {
		s.logger.Warn("procedure registration refused", "procedure", procedure, "error", reply.Error)
		return false
	}
	return true
}

func (s *Session) subscribeOne(ctx context.Context, current *link, topic string) error {
	reply, err := s.request(ctx, current, Message{Type: TypeSubscribe, Topic: topic})
	if err != nil {
		return err
	}
	if reply.Type != TypeSubscribed {
		return &CallError{Procedure: "subscribe " + topic, Message: reply.Error}
	}
	return nil
}

// request sends message with a fresh request id and waits for the
// frame answering it.
func (s *Session) request(ctx context.Context, current *link, message Message) (Message, error) {
	id := s.nextRequest.Add(1)
	message.Request = id
	reply := make(chan Message, 1)

	s.mu.Lock()
	s.pending[id] = pendingRequest{link: current, reply: reply}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := current.conn.Send(ctx, message); err != nil {
		return Message{}, err
	}
	select {
	case answer := <-reply:
		return answer, nil
	case <-current.done:
		return Message{}, ErrDisconnected
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Call invokes procedure with args and decodes its result into result,
// which may be nil.
func (s *Session) Call(ctx context.Context, procedure string, args, result any) error {
	current := s.currentLink()
	if current == nil {
		return ErrNotConnected
	}
	payload, err := EncodePayload(args)
	if err != nil {
		return err
	}
	reply, err := s.request(ctx, current, Message{Type: TypeCall, Procedure: procedure, Payload: payload})
	if err != nil {
		return fmt.Errorf("calling %s: %w", procedure, err)
	}
	if reply.Type == TypeError {
		return &CallError{Procedure: procedure, Message: reply.Error}
	}
	return DecodePayload(reply.Payload, result)
}

// Publish sends payload to the subscribers of topic. Delivery is not
// acknowledged.
func (s *Session) Publish(ctx context.Context, topic string, payload any) error {
	current := s.currentLink()
	if current == nil {
		return ErrNotConnected
	}
	encoded, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return current.conn.Send(ctx, Message{Type: TypePublish, Topic: topic, Payload: encoded})
}

func (s *Session) currentLink() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.current
}

func (s *Session) readLoop(ctx context.Context, current *link) {
	var err error
	for {
		var message Message
		message, err = current.conn.Receive(ctx)
		if err != nil {
			break
		}
		s.dispatch(current, message)
	}
	close(current.done)
	current.close()
	s.handleDisconnect(current, err)
}

func (s *Session) dispatch(current *link, message Message) {
	switch message.Type {
	case TypeRegistered, TypeSubscribed, TypeResult, TypeError:
		s.mu.Lock()
		waiting, ok := s.pending[message.Request]
		s.mu.Unlock()
		if !ok || waiting.link != current {
			s.logger.Debug("reply without a pending request", "type", message.Type, "request", message.Request)
			return
		}
		select {
		case waiting.reply <- message:
		default:
		}

	case TypeInvoke:
		s.group.Go("invoke "+message.Procedure, func(ctx context.Context) {
			s.invoke(ctx, current, message)
		})

	case TypeEvent:
		s.mu.Lock()
		handlers := append([]EventHandler(nil), s.subscriptions[message.Topic]...)
		s.mu.Unlock()
		for _, handler := range handlers {
			handler(s.group.Context(), message.Topic, message.Payload)
		}

	default:
		s.logger.Warn("unexpected frame from broker", "type", message.Type)
	}
}

// invoke runs a procedure for the broker and sends its yield or error.
// A panicking procedure answers with an error.
func (s *Session) invoke(ctx context.Context, current *link, message Message) {
	s.mu.Lock()
	fn := s.procedures[message.Procedure]
	s.mu.Unlock()

	answer := Message{Type: TypeError, Request: message.Request}
	if fn == nil {
		answer.Error = "no such procedure: " + message.Procedure
	} else if result, err := s.runProcedure(ctx, fn, message); err != nil {
		answer.Error = err.Error()
	} else if payload, err := EncodePayload(result); err != nil {
		answer.Error = err.Error()
	} else {
		answer = Message{Type: TypeYield, Request: message.Request, Payload: payload}
	}

	if err := current.conn.Send(ctx, answer); err != nil {
		s.logger.Warn("answering invocation failed", "procedure", message.Procedure, "error", err)
	}
}

func (s *Session) runProcedure(ctx context.Context, fn ProcedureFunc, message Message) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("procedure panicked",
				"procedure", message.Procedure,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("procedure %s panicked: %v", message.Procedure, recovered)
		}
	}()
	return fn(ctx, message.Payload)
}

// handleDisconnect runs when a read loop ends. Only the loss of the
// current connection changes state and fires the hook.
func (s *Session) handleDisconnect(current *link, cause error) {
	s.mu.Lock()
	if s.current != current {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.state = Disconnected
	s.registrations = 0
	s.connected = make(chan struct{})
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	s.logger.Warn("broker connection lost", "url", s.config.URL, "error", cause)
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect()
	}
}

// Close ends the session: the connect loop stops, the connection is
// closed and background work is awaited until ctx ends.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.close()
	}
	return s.group.Shutdown(ctx)
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
