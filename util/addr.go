// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package util - small helpers shared by the overlay and the daemon
package util

import (
	"fmt"
	"net"
	"strings"

	peerlib "github.com/libp2p/go-libp2p-core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/depot-cache/depotd/fault"
)

// HostPortToMultiAddr - convert a "host:port" listen string to a
// libp2p multiaddr
func HostPortToMultiAddr(hostPort string) (ma.Multiaddr, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if nil != err {
		return nil, fault.InvalidPeerAddress
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if nil == ip {
		return nil, fault.InvalidPeerAddress
	}
	family := "ip4"
	if nil == ip.To4() {
		family = "ip6"
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%s", family, ip.String(), port))
}

// HostPortsToMultiAddrs - convert a list of listen strings, dropping
// any that fail to parse
func HostPortsToMultiAddrs(hostPorts []string) []ma.Multiaddr {
	addrs := make([]ma.Multiaddr, 0, len(hostPorts))
	for _, hp := range hostPorts {
		addr, err := HostPortToMultiAddr(hp)
		if nil != err {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// MaAddrToAddrInfo - split a full "/ip4/…/tcp/…/p2p/<id>" multiaddr
// into peer id and dialable addresses
func MaAddrToAddrInfo(addr string) (*peerlib.AddrInfo, error) {
	maAddr, err := ma.NewMultiaddr(addr)
	if nil != err {
		return nil, fault.InvalidPeerAddress
	}
	info, err := peerlib.AddrInfoFromP2pAddr(maAddr)
	if nil != err {
		return nil, fault.InvalidPeerAddress
	}
	return info, nil
}

// PrintMaAddrs - join multiaddrs for logging
func PrintMaAddrs(addrs []ma.Multiaddr) string {
	all := make([]string, 0, len(addrs))
	for _, a := range addrs {
		all = append(all, a.String())
	}
	return strings.Join(all, " ")
}
