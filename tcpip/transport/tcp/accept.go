// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/ictflysun/seastar/tcpip"
)

// defaultBacklog is the accept queue length used when Listen is given a
// non-positive one.
const defaultBacklog = 100

// Listener accepts passive opens on a local port. Connections finish their
// handshake while queued; a full queue makes the demux answer further SYNs
// with a RST.
type Listener struct {
	p      *Protocol
	port   uint16
	q      chan *Connection
	closed bool
}

// Listen registers a listener on the given port. The backlog bounds the
// number of unaccepted connections, each counted from the SYN that created
// it, whether or not its handshake has completed.
func (p *Protocol) Listen(port uint16, backlog int) (*Listener, *tcpip.Error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.listeners[port]; ok {
		return nil, tcpip.ErrPortInUse
	}
	l := &Listener{
		p:    p,
		port: port,
		q:    make(chan *Connection, backlog),
	}
	p.listeners[port] = l
	return l, nil
}

// Accept returns the next queued connection, blocking until one arrives. It
// fails once the listener is closed.
func (l *Listener) Accept() (*Connection, *tcpip.Error) {
	c, ok := <-l.q
	if !ok {
		return nil, tcpip.ErrInvalidState
	}
	return c, nil
}

// Close removes the listener from the demux and aborts any queued,
// never-accepted connections.
func (l *Listener) Close() {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	delete(l.p.listeners, l.port)
	close(l.q)
	for c := range l.q {
		c.t.abort()
	}
}

// queueFull must be called with the shard lock held; enqueueing also only
// happens under it, so the answer cannot go stale before the SYN decision.
func (l *Listener) queueFull() bool {
	return len(l.q) == cap(l.q)
}

func (l *Listener) enqueue(c *Connection) {
	select {
	case l.q <- c:
	default:
		// The demux checked queueFull under the same lock; an overflow
		// here means the listener was closed concurrently. Drop.
	}
}
