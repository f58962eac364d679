// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/waiter"
)

// byteSemaphore is a counting semaphore over bytes, used to bound the data
// a user may push into the send path. It has no lock of its own: every
// method runs under the shard lock. Waiters park on per-request channels
// and re-check on wakeup. Breaking the semaphore releases all waiters with
// an error.
type byteSemaphore struct {
	avail   int
	waiters []chan struct{}
	err     *tcpip.Error
}

func newByteSemaphore(n int) *byteSemaphore {
	return &byteSemaphore{avail: n}
}

func (s *byteSemaphore) signal(n int) {
	s.avail += n
	s.wakeAll()
}

func (s *byteSemaphore) broken(err *tcpip.Error) {
	if s.err == nil {
		s.err = err
	}
	s.wakeAll()
}

func (s *byteSemaphore) wakeAll() {
	for _, ch := range s.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.waiters = nil
}

func (s *byteSemaphore) addWaiter() chan struct{} {
	ch := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ch)
	return ch
}

// Connection is the user-visible handle of an established (or establishing)
// connection.
type Connection struct {
	t *tcb
}

func newConnection(t *tcb) *Connection {
	return &Connection{t: t}
}

// LocalAddress returns the local address and port of the connection.
func (c *Connection) LocalAddress() tcpip.FullAddress {
	return tcpip.FullAddress{Addr: c.t.id.LocalAddress, Port: c.t.id.LocalPort}
}

// RemoteAddress returns the peer's address and port.
func (c *Connection) RemoteAddress() tcpip.FullAddress {
	return tcpip.FullAddress{Addr: c.t.id.RemoteAddress, Port: c.t.id.RemotePort}
}

// Send admits the payload into the send path, blocking while the queue
// space credit is exhausted. It fails with ErrConnectionReset once the
// connection is dead and with ErrClosedForSend after CloseWrite.
func (c *Connection) Send(v buffer.View) *tcpip.Error {
	return c.t.send(v)
}

// Read atomically drains the receive buffer. It returns nil when no data is
// buffered.
func (c *Connection) Read() buffer.View {
	return c.t.read()
}

// WaitForData blocks until the receive buffer is non-empty or the peer will
// not send any further data.
func (c *Connection) WaitForData() *tcpip.Error {
	return c.t.waitForData()
}

// WaitForAllDataAcked blocks until every byte handed to Send has been
// acknowledged by the peer.
func (c *Connection) WaitForAllDataAcked() *tcpip.Error {
	return c.t.waitForAllDataAcked()
}

// CloseWrite schedules a graceful FIN once all queued data has been sent
// and acknowledged.
func (c *Connection) CloseWrite() {
	c.t.closeWrite()
}

// CloseRead stops nothing: inbound data already follows the peer's FIN
// handling and the receive buffer lives until teardown.
func (c *Connection) CloseRead() {
}

// Close releases the handle: both directions are shut down gracefully.
func (c *Connection) Close() {
	c.CloseRead()
	c.CloseWrite()
}

func (t *tcb) send(v buffer.View) *tcpip.Error {
	p := t.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.snd.closed || t.closeRequested {
		return tcpip.ErrClosedForSend
	}
	if t.inState(stateClosed) {
		return tcpip.ErrConnectionReset
	}

	// TODO: admit payloads larger than the total credit in chunks.
	l := len(v)
	t.snd.queuedLen += l
	for {
		if err := t.queueSpace.err; err != nil {
			t.snd.queuedLen -= l
			return err
		}
		if t.queueSpace.avail >= l {
			t.queueSpace.avail -= l
			break
		}
		ch := t.queueSpace.addWaiter()
		p.mu.Unlock()
		<-ch
		p.mu.Lock()
	}

	t.snd.queuedLen -= l
	t.snd.unsentLen += l
	t.snd.unsent = append(t.snd.unsent, v)
	if t.canSend() > 0 {
		t.output()
	}
	return nil
}

func (t *tcb) read() buffer.View {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()

	total := 0
	for _, q := range t.rcv.data {
		total += len(q)
	}
	if total == 0 {
		t.rcv.data = nil
		return nil
	}
	v := buffer.NewView(total)
	off := 0
	for _, q := range t.rcv.data {
		off += copy(v[off:], q)
	}
	t.rcv.data = nil
	return v
}

func (t *tcb) waitForData() *tcpip.Error {
	t.p.mu.Lock()
	if len(t.rcv.data) > 0 || t.foreignWillNotSend() {
		t.p.mu.Unlock()
		return nil
	}

	e, ch := waiter.NewChannelEntry(nil)
	t.waiterQueue.EventRegister(&e, waiter.EventIn|waiter.EventErr)
	defer t.waiterQueue.EventUnregister(&e)

	for {
		t.p.mu.Unlock()
		<-ch
		t.p.mu.Lock()
		if err := t.hardError; err != nil {
			t.p.mu.Unlock()
			return err
		}
		if len(t.rcv.data) > 0 || t.foreignWillNotSend() {
			t.p.mu.Unlock()
			return nil
		}
	}
}

func (t *tcb) waitForAllDataAcked() *tcpip.Error {
	t.p.mu.Lock()
	if len(t.snd.data) == 0 && t.snd.unsentLen == 0 && t.snd.queuedLen == 0 {
		t.p.mu.Unlock()
		return nil
	}

	e, ch := waiter.NewChannelEntry(nil)
	t.waiterQueue.EventRegister(&e, waiter.EventOut|waiter.EventErr)
	defer t.waiterQueue.EventUnregister(&e)

	for {
		t.p.mu.Unlock()
		<-ch
		t.p.mu.Lock()
		if err := t.hardError; err != nil {
			t.p.mu.Unlock()
			return err
		}
		if len(t.snd.data) == 0 && t.snd.unsentLen == 0 && t.snd.queuedLen == 0 {
			t.p.mu.Unlock()
			return nil
		}
	}
}

func (t *tcb) closeWrite() {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()

	if t.inState(stateClosed) || t.snd.closed || t.closeRequested {
		return
	}
	t.closeRequested = true
	t.maybeCompleteClose()
}
