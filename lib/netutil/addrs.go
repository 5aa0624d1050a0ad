// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network helpers shared by the locality
// resolver and the broker connection code.
package netutil

import (
	"fmt"
	"net"
	"net/netip"
)

// LocalAddresses returns the unicast addresses configured on this
// machine's interfaces, loopback included. Addresses are unmapped so
// IPv4 addresses compare equal to their parsed string forms.
func LocalAddresses() ([]netip.Addr, error) {
	interfaceAddresses, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("listing interface addresses: %w", err)
	}
	addresses := make([]netip.Addr, 0, len(interfaceAddresses))
	for _, interfaceAddress := range interfaceAddresses {
		var ip net.IP
		switch value := interfaceAddress.(type) {
		case *net.IPNet:
			ip = value.IP
		case *net.IPAddr:
			ip = value.IP
		default:
			continue
		}
		address, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addresses = append(addresses, address.Unmap())
	}
	return addresses, nil
}

// IsLoopback reports whether host is a literal loopback address.
func IsLoopback(host string) bool {
	address, err := netip.ParseAddr(host)
	return err == nil && address.Unmap().IsLoopback()
}
