// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gonet provides a Go net package compatible wrapper for the TCP
// engine, so in-process servers and clients can speak through it with the
// familiar Conn/Listener surfaces.
package gonet

import (
	"io"
	"net"
	"time"

	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/transport/tcp"
)

func fullToTCPAddr(addr tcpip.FullAddress) *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(addr.Addr), Port: int(addr.Port)}
}

// A Conn is a wrapper around an engine connection that implements the
// net.Conn interface, except that deadlines have no effect: the engine's
// blocking calls resolve on protocol events only.
type Conn struct {
	c *tcp.Connection

	// read holds data drained from the engine but not yet returned.
	read buffer.View
}

// NewConn creates a new Conn.
func NewConn(c *tcp.Connection) *Conn {
	return &Conn{c: c}
}

// Read implements net.Conn.Read.
func (c *Conn) Read(b []byte) (int, error) {
	for len(c.read) == 0 {
		if err := c.c.WaitForData(); err != nil {
			return 0, &net.OpError{Op: "read", Net: "tcp", Addr: c.RemoteAddr(), Err: err}
		}
		c.read = c.c.Read()
		if len(c.read) == 0 {
			// Nothing buffered and the peer will not send again.
			return 0, io.EOF
		}
	}

	n := copy(b, c.read)
	c.read.TrimFront(n)
	return n, nil
}

// Write implements net.Conn.Write.
func (c *Conn) Write(b []byte) (int, error) {
	v := buffer.NewViewFromBytes(b)
	if err := c.c.Send(v); err != nil {
		return 0, &net.OpError{Op: "write", Net: "tcp", Addr: c.RemoteAddr(), Err: err}
	}
	return len(b), nil
}

// Close implements net.Conn.Close.
func (c *Conn) Close() error {
	c.c.Close()
	return nil
}

// LocalAddr implements net.Conn.LocalAddr.
func (c *Conn) LocalAddr() net.Addr {
	return fullToTCPAddr(c.c.LocalAddress())
}

// RemoteAddr implements net.Conn.RemoteAddr.
func (c *Conn) RemoteAddr() net.Addr {
	return fullToTCPAddr(c.c.RemoteAddress())
}

// SetDeadline implements net.Conn.SetDeadline. Deadlines are not supported;
// the call is a no-op.
func (c *Conn) SetDeadline(t time.Time) error {
	return nil
}

// SetReadDeadline implements net.Conn.SetReadDeadline as a no-op.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return nil
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline as a no-op.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return nil
}

// A Listener is a wrapper around an engine listener that implements the
// net.Listener interface.
type Listener struct {
	l    *tcp.Listener
	addr tcpip.FullAddress
}

// NewListener creates a new Listener on the given port.
func NewListener(p *tcp.Protocol, addr tcpip.FullAddress, backlog int) (*Listener, error) {
	l, err := p.Listen(addr.Port, backlog)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: "tcp", Addr: fullToTCPAddr(addr), Err: err}
	}
	return &Listener{l: l, addr: addr}, nil
}

// Accept implements net.Listener.Accept.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.l.Accept()
	if err != nil {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Addr: l.Addr(), Err: err}
	}
	return NewConn(c), nil
}

// Close implements net.Listener.Close.
func (l *Listener) Close() error {
	l.l.Close()
	return nil
}

// Addr implements net.Listener.Addr.
func (l *Listener) Addr() net.Addr {
	return fullToTCPAddr(l.addr)
}

// Dial creates a connection to the given peer and wraps it.
func Dial(p *tcp.Protocol, addr tcpip.FullAddress) (*Conn, error) {
	c, err := p.Connect(addr)
	if err != nil {
		return nil, &net.OpError{Op: "connect", Net: "tcp", Addr: fullToTCPAddr(addr), Err: err}
	}
	return NewConn(c), nil
}
