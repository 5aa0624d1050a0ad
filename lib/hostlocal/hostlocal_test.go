// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package hostlocal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arne48/multimaster-fkie/lib/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedAddresses(addresses ...string) AddressesFunc {
	return func() ([]netip.Addr, error) {
		result := make([]netip.Addr, 0, len(addresses))
		for _, address := range addresses {
			result = append(result, netip.MustParseAddr(address))
		}
		return result, nil
	}
}

func newResolver(t *testing.T, lookup LookupFunc) *Resolver {
	t.Helper()
	resolver := New(context.Background(), Config{
		Lookup:         lookup,
		LocalAddresses: fixedAddresses("127.0.0.1", "10.1.2.3"),
		Logger:         quietLogger(),
	})
	t.Cleanup(func() { resolver.Close(context.Background()) })
	return resolver
}

func TestLiteralAddressesNeverLookUp(t *testing.T) {
	t.Parallel()

	var lookups atomic.Int32
	resolver := newResolver(t, func(context.Context, string) ([]string, error) {
		lookups.Add(1)
		return nil, errors.New("unexpected lookup")
	})

	tests := map[string]bool{
		"":          true,
		"127.0.0.1": true,
		"127.0.1.1": true,
		"::1":       true,
		"10.1.2.3":  true,
		"192.0.2.1": false,
	}
	for host, want := range tests {
		if got := resolver.IsLocal(host); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", host, got, want)
		}
		if resolver.Pending(host) {
			t.Errorf("IsLocal(%q) left a pending lookup", host)
		}
	}
	if lookups.Load() != 0 {
		t.Errorf("literal addresses triggered %d lookups", lookups.Load())
	}
}

func TestNameIsProvisionallyRemote(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var lookups atomic.Int32
	resolver := newResolver(t, func(ctx context.Context, _ string) ([]string, error) {
		lookups.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []string{"192.0.2.7", "10.1.2.3"}, nil
	})

	for range 5 {
		if resolver.IsLocal("workstation") {
			t.Fatal("IsLocal returned true before the lookup finished")
		}
	}
	if !resolver.Pending("workstation") {
		t.Error("lookup not pending")
	}

	close(release)
	testutil.Eventually(t, 5*time.Second, func() bool {
		return resolver.IsLocal("workstation")
	}, "workstation never became local")

	if got := lookups.Load(); got != 1 {
		t.Errorf("%d lookups for one host, want 1", got)
	}
}

func TestFailedLookupResolvesRemote(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(context.Context, string) ([]string, error) {
		return nil, errors.New("no such host")
	})

	if resolver.Resolve(context.Background(), "ghost") {
		t.Error("Resolve(ghost) = true")
	}
	if resolver.Pending("ghost") {
		t.Error("failed lookup still pending")
	}
}

func TestResolveWaitsForLookup(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(context.Context, string) ([]string, error) {
		return []string{"127.0.1.1"}, nil
	})
	if !resolver.Resolve(context.Background(), "myhost") {
		t.Error("Resolve(myhost) = false, want loopback to count as local")
	}
	if !resolver.IsLocal("myhost") {
		t.Error("IsLocal after Resolve = false")
	}
}

func TestResolveHonorsContext(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if resolver.Resolve(ctx, "slow") {
		t.Error("Resolve with cancelled context = true")
	}
}
