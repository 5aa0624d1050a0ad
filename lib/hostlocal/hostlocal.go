// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostlocal decides whether a host name refers to this machine.
//
// [Resolver.IsLocal] never blocks. Literal addresses are classified on
// the spot. A name that needs a DNS lookup is reported as remote until a
// background lookup finishes and records the real answer; callers that
// ask in the meantime all get the provisional false. Answers are cached
// for the resolver's lifetime and never invalidated, on the assumption
// that a host does not change identity while the supervisor runs.
package hostlocal

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/arne48/multimaster-fkie/lib/netutil"
	"github.com/arne48/multimaster-fkie/lib/tasks"
)

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// AddressesFunc returns the addresses of this machine.
type AddressesFunc func() ([]netip.Addr, error)

// Config holds the injectable parts of a [Resolver].
type Config struct {
	// Lookup defaults to net.DefaultResolver.LookupHost.
	Lookup LookupFunc

	// LocalAddresses defaults to netutil.LocalAddresses.
	LocalAddresses AddressesFunc

	Logger *slog.Logger
}

type entry struct {
	pending bool
	local   bool

	// done is closed when a pending lookup completes.
	done chan struct{}
}

// Resolver caches locality answers per host name.
type Resolver struct {
	lookup         LookupFunc
	localAddresses AddressesFunc
	logger         *slog.Logger
	tasks          *tasks.Group

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Resolver whose background lookups end when ctx does or
// when Close is called.
func New(ctx context.Context, config Config) *Resolver {
	if config.Lookup == nil {
		config.Lookup = net.DefaultResolver.LookupHost
	}
	if config.LocalAddresses == nil {
		config.LocalAddresses = netutil.LocalAddresses
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Resolver{
		lookup:         config.Lookup,
		localAddresses: config.LocalAddresses,
		logger:         config.Logger,
		tasks:          tasks.NewGroup(ctx, config.Logger),
		entries:        make(map[string]*entry),
	}
}

// IsLocal reports whether host is this machine. The empty host means
// this machine. For names not yet resolved it returns false and starts
// a lookup in the background.
func (r *Resolver) IsLocal(host string) bool {
	if host == "" {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.entries[host]; ok {
		return !cached.pending && cached.local
	}

	if address, err := netip.ParseAddr(host); err == nil {
		local := r.isLocalAddress(address)
		r.entries[host] = &entry{local: local}
		return local
	}

	r.startLookup(host)
	return false
}

// Resolve is the blocking form of IsLocal: it waits for a pending or
// new lookup of host to finish. It returns false when ctx ends first.
func (r *Resolver) Resolve(ctx context.Context, host string) bool {
	if host == "" {
		return true
	}

	r.mu.Lock()
	cached, ok := r.entries[host]
	if !ok {
		if address, err := netip.ParseAddr(host); err == nil {
			local := r.isLocalAddress(address)
			r.entries[host] = &entry{local: local}
			r.mu.Unlock()
			return local
		}
		cached = r.startLookup(host)
	}
	r.mu.Unlock()

	if cached.done != nil {
		select {
		case <-cached.done:
		case <-ctx.Done():
			return false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return !cached.pending && cached.local
}

// Pending reports whether a lookup for host is in flight.
func (r *Resolver) Pending(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cached, ok := r.entries[host]
	return ok && cached.pending
}

// Close cancels in-flight lookups and waits for them. Hosts whose
// lookup was cancelled stay pending and keep reporting false.
func (r *Resolver) Close(ctx context.Context) error {
	return r.tasks.Shutdown(ctx)
}

// startLookup records host as pending and resolves it in the
// background. Must be called with r.mu held.
func (r *Resolver) startLookup(host string) *entry {
	pending := &entry{pending: true, done: make(chan struct{})}
	r.entries[host] = pending

	started := r.tasks.Go("resolve "+host, func(ctx context.Context) {
		defer close(pending.done)
		local := r.lookupIsLocal(ctx, host)
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		pending.pending = false
		pending.local = local
		r.mu.Unlock()
		r.logger.Debug("host locality resolved", "host", host, "local", local)
	})
	if !started {
		close(pending.done)
	}
	return pending
}

func (r *Resolver) lookupIsLocal(ctx context.Context, host string) bool {
	addresses, err := r.lookup(ctx, host)
	if err != nil {
		r.logger.Warn("host lookup failed, treating as remote", "host", host, "error", err)
		return false
	}
	for _, raw := range addresses {
		address, err := netip.ParseAddr(raw)
		if err != nil {
			continue
		}
		if r.isLocalAddress(address) {
			return true
		}
	}
	return false
}

func (r *Resolver) isLocalAddress(address netip.Addr) bool {
	address = address.Unmap()
	if address.IsLoopback() {
		return true
	}
	local, err := r.localAddresses()
	if err != nil {
		r.logger.Warn("listing local addresses failed", "error", err)
		return false
	}
	return slices.Contains(local, address)
}
