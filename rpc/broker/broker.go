// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker routes procedure calls and published events between
// the sessions of one realm.
//
// Each session connects to GET /ws, says hello with its realm and is
// welcomed with a fresh session id. A procedure belongs to the first
// session that registers it; calls are forwarded to that session as
// invocations and the answer is routed back to the caller. Publications
// reach every subscriber of the topic except the publisher. When a
// session leaves, its registrations and subscriptions go with it and
// calls waiting on it fail.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/arne48/multimaster-fkie/lib/netutil"
	"github.com/arne48/multimaster-fkie/rpc"
)

// sendTimeout bounds a frame forwarded to another session, so one
// stalled session cannot hold up the sender.
const sendTimeout = 10 * time.Second

// handshakeTimeout bounds the wait for hello.
const handshakeTimeout = 10 * time.Second

type peer struct {
	id   string
	conn rpc.Conn
}

// invocation is a call forwarded to a callee and awaiting its answer.
type invocation struct {
	caller  *peer
	request uint64
	callee  *peer
}

// Server is a broker for one realm.
type Server struct {
	config rpc.BrokerConfig
	logger *slog.Logger

	nextInvocation atomic.Uint64

	mu            sync.Mutex
	peers         map[string]*peer
	procedures    map[string]*peer
	subscriptions map[string]map[string]*peer
	invocations   map[uint64]invocation
}

// New returns a Server for config.
func New(config rpc.BrokerConfig, logger *slog.Logger) *Server {
	return &Server{
		config:        config,
		logger:        logger,
		peers:         make(map[string]*peer),
		procedures:    make(map[string]*peer),
		subscriptions: make(map[string]map[string]*peer),
		invocations:   make(map[uint64]invocation),
	}
}

// Handler returns the broker's HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/ws", s.serveWebSocket)
	router.Get("/healthz", s.serveHealth)
	return router
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	sessions := len(s.peers)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ok %d sessions\n", sessions)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := rpc.NewWebSocketConn(ws)
	defer conn.Close()
	s.ServeConn(r.Context(), conn)
}

// ServeConn runs one session on conn until it disconnects or ctx ends.
func (s *Server) ServeConn(ctx context.Context, conn rpc.Conn) {
	self, err := s.handshake(ctx, conn)
	if err != nil {
		s.logger.Info("session rejected", "error", err)
		return
	}
	s.logger.Info("session joined", "session", self.id)
	defer s.leave(self)

	for {
		message, err := conn.Receive(ctx)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Warn("reading from session failed", "session", self.id, "error", err)
			}
			return
		}
		s.handle(ctx, self, message)
	}
}

func (s *Server) handshake(ctx context.Context, conn rpc.Conn) (*peer, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	hello, err := conn.Receive(handshakeCtx)
	if err != nil {
		return nil, fmt.Errorf("awaiting hello: %w", err)
	}
	if hello.Type != rpc.TypeHello {
		conn.Send(handshakeCtx, rpc.Message{Type: rpc.TypeAbort, Error: "expected hello"})
		return nil, fmt.Errorf("first frame was %s", hello.Type)
	}
	if hello.Realm != s.config.Realm {
		conn.Send(handshakeCtx, rpc.Message{Type: rpc.TypeAbort, Error: "no such realm: " + hello.Realm})
		return nil, fmt.Errorf("unknown realm %q", hello.Realm)
	}

	self := &peer{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.peers[self.id] = self
	s.mu.Unlock()

	if err := conn.Send(handshakeCtx, rpc.Message{Type: rpc.TypeWelcome, Session: self.id}); err != nil {
		s.leave(self)
		return nil, fmt.Errorf("sending welcome: %w", err)
	}
	return self, nil
}

func (s *Server) handle(ctx context.Context, self *peer, message rpc.Message) {
	switch message.Type {
	case rpc.TypeRegister:
		s.register(ctx, self, message)
	case rpc.TypeSubscribe:
		s.subscribe(ctx, self, message)
	case rpc.TypePublish:
		s.publish(ctx, self, message)
	case rpc.TypeCall:
		s.call(ctx, self, message)
	case rpc.TypeYield, rpc.TypeError:
		s.answer(ctx, self, message)
	default:
		s.logger.Warn("unexpected frame", "session", self.id, "type", message.Type)
		s.send(ctx, self, rpc.Message{Type: rpc.TypeError, Request: message.Request,
			Error: fmt.Sprintf("unexpected %s frame", message.Type)})
	}
}

func (s *Server) allowed(name string) bool {
	return name != "" && strings.HasPrefix(name, s.config.AllowPrefix)
}

func (s *Server) register(ctx context.Context, self *peer, message rpc.Message) {
	if !s.allowed(message.Procedure) {
		s.refuse(ctx, self, message, "procedure name not allowed: "+message.Procedure)
		return
	}
	s.mu.Lock()
	owner, taken := s.procedures[message.Procedure]
	if !taken {
		s.procedures[message.Procedure] = self
	}
	s.mu.Unlock()

	if taken && owner != self {
		s.refuse(ctx, self, message, "procedure already registered: "+message.Procedure)
		return
	}
	s.logger.Debug("procedure registered", "session", self.id, "procedure", message.Procedure)
	s.send(ctx, self, rpc.Message{Type: rpc.TypeRegistered, Request: message.Request})
}

func (s *Server) subscribe(ctx context.Context, self *peer, message rpc.Message) {
	if !s.allowed(message.Topic) {
		s.refuse(ctx, self, message, "topic not allowed: "+message.Topic)
		return
	}
	s.mu.Lock()
	subscribers := s.subscriptions[message.Topic]
	if subscribers == nil {
		subscribers = make(map[string]*peer)
		s.subscriptions[message.Topic] = subscribers
	}
	subscribers[self.id] = self
	s.mu.Unlock()
	s.send(ctx, self, rpc.Message{Type: rpc.TypeSubscribed, Request: message.Request})
}

// publish forwards an event to every subscriber but the publisher.
// Publications are not acknowledged, so a refused topic is only logged.
func (s *Server) publish(ctx context.Context, self *peer, message rpc.Message) {
	if !s.allowed(message.Topic) {
		s.logger.Warn("publication to a disallowed topic dropped", "session", self.id, "topic", message.Topic)
		return
	}
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.subscriptions[message.Topic]))
	for id, subscriber := range s.subscriptions[message.Topic] {
		if id != self.id {
			targets = append(targets, subscriber)
		}
	}
	s.mu.Unlock()

	event := rpc.Message{Type: rpc.TypeEvent, Topic: message.Topic, Payload: message.Payload}
	for _, target := range targets {
		s.send(ctx, target, event)
	}
}

func (s *Server) call(ctx context.Context, self *peer, message rpc.Message) {
	s.mu.Lock()
	callee := s.procedures[message.Procedure]
	var id uint64
	if callee != nil {
		id = s.nextInvocation.Add(1)
		s.invocations[id] = invocation{caller: self, request: message.Request, callee: callee}
	}
	s.mu.Unlock()

	if callee == nil {
		s.refuse(ctx, self, message, "no such procedure")
		return
	}
	invoke := rpc.Message{Type: rpc.TypeInvoke, Request: id, Procedure: message.Procedure, Payload: message.Payload}
	if err := s.send(ctx, callee, invoke); err != nil {
		s.mu.Lock()
		delete(s.invocations, id)
		s.mu.Unlock()
		s.refuse(ctx, self, message, "callee unavailable")
	}
}

// answer routes a yield or error from a callee back to its caller.
func (s *Server) answer(ctx context.Context, self *peer, message rpc.Message) {
	s.mu.Lock()
	pending, ok := s.invocations[message.Request]
	if ok && pending.callee == self {
		delete(s.invocations, message.Request)
	}
	s.mu.Unlock()

	if !ok || pending.callee != self {
		s.logger.Debug("answer for an unknown invocation", "session", self.id, "request", message.Request)
		return
	}
	reply := rpc.Message{Type: rpc.TypeResult, Request: pending.request, Payload: message.Payload}
	if message.Type == rpc.TypeError {
		reply = rpc.Message{Type: rpc.TypeError, Request: pending.request, Error: message.Error}
	}
	s.send(ctx, pending.caller, reply)
}

func (s *Server) refuse(ctx context.Context, target *peer, message rpc.Message, reason string) {
	s.send(ctx, target, rpc.Message{Type: rpc.TypeError, Request: message.Request, Error: reason})
}

func (s *Server) send(ctx context.Context, target *peer, message rpc.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := target.conn.Send(sendCtx, message); err != nil {
		s.logger.Debug("sending to session failed", "session", target.id, "type", message.Type, "error", err)
		return err
	}
	return nil
}

// leave drops everything self owned and fails the calls waiting on it.
func (s *Server) leave(self *peer) {
	s.mu.Lock()
	delete(s.peers, self.id)
	for procedure, owner := range s.procedures {
		if owner == self {
			delete(s.procedures, procedure)
		}
	}
	for topic, subscribers := range s.subscriptions {
		delete(subscribers, self.id)
		if len(subscribers) == 0 {
			delete(s.subscriptions, topic)
		}
	}
	var orphaned []invocation
	for id, pending := range s.invocations {
		switch {
		case pending.callee == self:
			orphaned = append(orphaned, pending)
			delete(s.invocations, id)
		case pending.caller == self:
			delete(s.invocations, id)
		}
	}
	s.mu.Unlock()

	for _, pending := range orphaned {
		s.send(context.Background(), pending.caller, rpc.Message{
			Type:    rpc.TypeError,
			Request: pending.request,
			Error:   "callee disconnected",
		})
	}
	s.logger.Info("session left", "session", self.id)
}

// Sessions returns the number of joined sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// ListenAndServe serves the broker on its configured address until ctx
// ends. Open sessions are closed on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler: s.Handler(),
		// Sessions are long-lived; only the request header is bounded.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("broker listening", "address", listener.Addr().String(), "realm", s.config.Realm)

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("broker shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("broker shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, joined := range s.peers {
		peers = append(peers, joined)
	}
	s.mu.Unlock()
	for _, joined := range peers {
		joined.conn.Close()
	}
}
