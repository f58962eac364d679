// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package channel provides an in-memory network interface backed by a Go
// channel. It stands in for the L3 stack that would normally drive the
// engine: tests construct the protocol over it, pump the provider pull into
// the channel, and read emitted segments from there.
package channel

import (
	"sync"

	"github.com/ictflysun/seastar/tcpip"
)

// Endpoint is an in-memory implementation of tcpip.NetworkInterface.
type Endpoint struct {
	// C receives the packets pumped out of the engine by Drain.
	C chan *tcpip.PacketOut

	hw        tcpip.HWFeatures
	localAddr tcpip.Address

	mu              sync.Mutex
	linkAddrs       map[tcpip.Address]tcpip.LinkAddress
	defaultLinkAddr tcpip.LinkAddress
}

// New creates a new channel endpoint with a buffer of the given size.
func New(size int, hw tcpip.HWFeatures, localAddr tcpip.Address) *Endpoint {
	return &Endpoint{
		C:               make(chan *tcpip.PacketOut, size),
		hw:              hw,
		localAddr:       localAddr,
		linkAddrs:       make(map[tcpip.Address]tcpip.LinkAddress),
		defaultLinkAddr: tcpip.LinkAddress("\x02\x00\x00\x00\x00\x01"),
	}
}

// HWFeatures implements tcpip.NetworkInterface.HWFeatures.
func (e *Endpoint) HWFeatures() tcpip.HWFeatures {
	return e.hw
}

// LocalAddress implements tcpip.NetworkInterface.LocalAddress.
func (e *Endpoint) LocalAddress() tcpip.Address {
	return e.localAddr
}

// SetLinkAddr fixes the link address the endpoint resolves for the given IP.
func (e *Endpoint) SetLinkAddr(addr tcpip.Address, linkAddr tcpip.LinkAddress) {
	e.mu.Lock()
	e.linkAddrs[addr] = linkAddr
	e.mu.Unlock()
}

// ResolveLinkAddr implements tcpip.NetworkInterface.ResolveLinkAddr. The
// cache always hits, so done runs inline.
func (e *Endpoint) ResolveLinkAddr(addr tcpip.Address, done func(tcpip.LinkAddress)) {
	e.mu.Lock()
	la, ok := e.linkAddrs[addr]
	if !ok {
		la = e.defaultLinkAddr
	}
	e.mu.Unlock()
	done(la)
}

// Drain pumps the provider pull until it runs dry, pushing every packet
// into C. It returns the number of packets moved.
func (e *Endpoint) Drain(poll func() *tcpip.PacketOut) int {
	n := 0
	for {
		pkt := poll()
		if pkt == nil {
			return n
		}
		e.C <- pkt
		n++
	}
}
