// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/checker"
	"github.com/ictflysun/seastar/tcpip/header"
	"github.com/ictflysun/seastar/tcpip/link/channel"
	"github.com/ictflysun/seastar/tcpip/link/sniffer"
	"github.com/ictflysun/seastar/tcpip/seqnum"
	"github.com/ictflysun/seastar/tcpip/transport/tcp"
)

const (
	stackAddr = "\x0a\x00\x00\x01"
	stackPort = 1234
	testAddr  = "\x0a\x00\x00\x02"
	testPort  = 4096

	// defaultMTU gives a local MSS of 1460, the usual ethernet value.
	defaultMTU = 1500

	testMSS = 1460
)

// mssOption advertises testMSS in a SYN.
var mssOption = []byte{header.TCPOptionMSS, 4, byte(testMSS >> 8), byte(testMSS & 0xff)}

type headers struct {
	srcPort uint16
	dstPort uint16
	seqNum  seqnum.Value
	ackNum  seqnum.Value
	flags   uint8
	rcvWnd  uint16
	tcpOpts []byte
}

type testContext struct {
	t      *testing.T
	linkEP *channel.Endpoint
	p      *tcp.Protocol
	poll   func() *tcpip.PacketOut

	// irs is the engine's initial sequence number, learned from its SYN
	// or SYN-ACK.
	irs seqnum.Value
}

func newTestContext(t *testing.T, mtu uint32) *testContext {
	hw := tcpip.HWFeatures{MTU: mtu}
	linkEP := channel.New(256, hw, stackAddr)
	p := tcp.New(linkEP, tcp.Options{})

	poll := p.PollPacket
	if testing.Verbose() {
		poll = sniffer.NewProvider(poll)
	}

	return &testContext{
		t:      t,
		linkEP: linkEP,
		p:      p,
		poll:   poll,
	}
}

// sendPacket builds a checksummed segment from the test peer and injects it
// into the engine.
func (c *testContext) sendPacket(payload []byte, h *headers) {
	v := buffer.NewView(header.TCPMinimumSize + len(h.tcpOpts) + len(payload))
	th := header.TCP(v)
	th.Encode(&header.TCPFields{
		SrcPort:    h.srcPort,
		DstPort:    h.dstPort,
		SeqNum:     uint32(h.seqNum),
		AckNum:     uint32(h.ackNum),
		DataOffset: uint8(header.TCPMinimumSize + len(h.tcpOpts)),
		Flags:      h.flags,
		WindowSize: h.rcvWnd,
	})
	copy(v[header.TCPMinimumSize:], h.tcpOpts)
	copy(v[header.TCPMinimumSize+len(h.tcpOpts):], payload)

	xsum := header.PseudoHeaderChecksum(tcp.ProtocolNumber, testAddr, stackAddr)
	length := [2]byte{byte(len(v) >> 8), byte(len(v) & 0xff)}
	xsum = header.Checksum(length[:], xsum)
	th.SetChecksum(^header.Checksum(v, xsum))

	c.p.Received(v, testAddr, stackAddr)
}

// getPacket pumps the provider until it yields a segment, failing the test
// after a deadline generous enough for the delayed-ACK and persist timers.
func (c *testContext) getPacket(deadline time.Duration) buffer.View {
	c.t.Helper()
	stop := time.Now().Add(deadline)
	for {
		c.linkEP.Drain(c.poll)
		select {
		case pkt := <-c.linkEP.C:
			return pkt.Packet
		default:
		}
		if time.Now().After(stop) {
			c.t.Fatalf("timed out waiting for a packet")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// checkNoPacket verifies nothing is emitted within the given duration.
func (c *testContext) checkNoPacket(errMsg string, wait time.Duration) {
	c.t.Helper()
	stop := time.Now().Add(wait)
	for time.Now().Before(stop) {
		c.linkEP.Drain(c.poll)
		select {
		case pkt := <-c.linkEP.C:
			c.t.Fatalf("%s: unexpected packet with flags %#x", errMsg, header.TCP(pkt.Packet).Flags())
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// passiveOpen performs the server side of a three-way handshake with the
// peer's ISN and window given, and returns the accepted connection.
func (c *testContext) passiveOpen(l *tcp.Listener, peerISN seqnum.Value, wnd uint16) *tcp.Connection {
	c.t.Helper()

	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  peerISN,
		flags:   header.TCPFlagSyn,
		rcvWnd:  wnd,
		tcpOpts: mssOption,
	})

	b := c.getPacket(time.Second)
	checker.TCP(c.t, b,
		checker.SrcPort(stackPort),
		checker.DstPort(testPort),
		checker.TCPFlagsMatch(header.TCPFlagSyn|header.TCPFlagAck, header.TCPFlagSyn|header.TCPFlagAck|header.TCPFlagRst),
		checker.AckNum(uint32(peerISN)+1),
	)
	c.irs = seqnum.Value(header.TCP(b).SequenceNumber())

	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  peerISN + 1,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck,
		rcvWnd:  wnd,
	})

	conn, err := l.Accept()
	if err != nil {
		c.t.Fatalf("Accept failed: %v", err)
	}
	return conn
}

func TestPassiveOpenAndOrderlyClose(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 10)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	conn := c.passiveOpen(l, 1000, 30000)

	// Peer sends "hello".
	c.sendPacket([]byte("hello"), &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck | header.TCPFlagPsh,
		rcvWnd:  30000,
	})

	if err := conn.WaitForData(); err != nil {
		t.Fatalf("WaitForData failed: %v", err)
	}
	if got := conn.Read(); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Read() = %q, want %q", got, "hello")
	}

	// A small segment is covered by the delayed-ACK timer.
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck),
		checker.SeqNum(uint32(c.irs)+1),
		checker.AckNum(1006),
	)

	// Peer closes its half.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1006,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck | header.TCPFlagFin,
		rcvWnd:  30000,
	})

	// The FIN is acked immediately.
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck),
		checker.AckNum(1007),
	)

	// Our half closes gracefully.
	conn.CloseWrite()
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck|header.TCPFlagFin),
		checker.SeqNum(uint32(c.irs)+1),
		checker.AckNum(1007),
	)

	// Peer acks our FIN; the connection is gone.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1007,
		ackNum:  c.irs + 2,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})

	// A late ACK on the dead tuple lands on the listener path, which
	// answers acknowledgments with a RST.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1007,
		ackNum:  c.irs + 2,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlagsMatch(header.TCPFlagRst, header.TCPFlagRst),
		checker.SeqNum(uint32(c.irs)+2),
	)
}

func TestOutOfOrderReassembly(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 10)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	conn := c.passiveOpen(l, 1999, 30000)

	payload := func(b byte, n int) []byte {
		return bytes.Repeat([]byte{b}, n)
	}

	// In-order 500 bytes at 2000.
	c.sendPacket(payload('a', 500), &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  2000,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})

	// 300 bytes at 2800, leaving a hole: immediate duplicate ACK.
	c.sendPacket(payload('b', 300), &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  2800,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck),
		checker.AckNum(2500),
	)

	// 300 bytes at 2500 fill the hole: immediate ACK of everything.
	c.sendPacket(payload('c', 300), &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  2500,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck),
		checker.AckNum(3100),
	)

	if err := conn.WaitForData(); err != nil {
		t.Fatalf("WaitForData failed: %v", err)
	}
	want := append(append(payload('a', 500), payload('c', 300)...), payload('b', 300)...)
	if got := conn.Read(); !bytes.Equal(got, want) {
		t.Fatalf("Read() returned %d bytes, mismatched content (want %d bytes in order)", len(got), len(want))
	}
}

func TestDuplicateAcksDriveFastRetransmit(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 10)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	conn := c.passiveOpen(l, 1000, 0xffff)

	// Queue ten full segments.
	data := bytes.Repeat([]byte{'x'}, 10*testMSS)
	if err := conn.Send(data); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// They all fit the advertised window and the unsent budget, so they
	// stream out back to back.
	for i := 0; i < 10; i++ {
		b := c.getPacket(time.Second)
		checker.TCP(t, b,
			checker.SeqNum(uint32(c.irs)+1+uint32(i*testMSS)),
			checker.PayloadLen(testMSS),
		)
	}

	// Ack the first two segments; the third was "lost".
	lost := c.irs + 1 + 2*testMSS
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  lost,
		flags:   header.TCPFlagAck,
		rcvWnd:  0xffff,
	})

	// Two duplicate ACKs: limited transmit, but nothing unsent remains.
	for i := 0; i < 2; i++ {
		c.sendPacket(nil, &headers{
			srcPort: testPort,
			dstPort: stackPort,
			seqNum:  1001,
			ackNum:  lost,
			flags:   header.TCPFlagAck,
			rcvWnd:  0xffff,
		})
	}
	c.checkNoPacket("data sent before the third duplicate ACK", 50*time.Millisecond)

	// The third duplicate ACK triggers exactly one retransmit of the lost
	// segment, with its original sequence number and length.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  lost,
		flags:   header.TCPFlagAck,
		rcvWnd:  0xffff,
	})
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.SeqNum(uint32(lost)),
		checker.PayloadLen(testMSS),
	)
	c.checkNoPacket("more than one segment retransmitted", 50*time.Millisecond)

	// A full ACK past the recovery point ends recovery and drains the
	// send state.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  c.irs + 1 + 10*testMSS,
		flags:   header.TCPFlagAck,
		rcvWnd:  0xffff,
	})
	if err := conn.WaitForAllDataAcked(); err != nil {
		t.Fatalf("WaitForAllDataAcked failed: %v", err)
	}
}

func TestZeroWindowProbe(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 10)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	conn := c.passiveOpen(l, 1000, 30000)

	if err := conn.Send([]byte("abc")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.SeqNum(uint32(c.irs)+1),
		checker.Payload([]byte("abc")),
	)

	// Ack the data while closing the window.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  c.irs + 4,
		flags:   header.TCPFlagAck,
		rcvWnd:  0,
	})

	// More data cannot move.
	if err := conn.Send([]byte("defgh")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	c.checkNoPacket("data sent into a zero window", 100*time.Millisecond)

	// The persist timer fires after one RTO and probes with one byte.
	b = c.getPacket(2 * time.Second)
	checker.TCP(t, b,
		checker.SeqNum(uint32(c.irs)+4),
		checker.PayloadLen(1),
	)

	// Opening the window releases the rest.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  c.irs + 5,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.SeqNum(uint32(c.irs)+5),
		checker.Payload([]byte("efgh")),
	)
}

func TestActiveOpen(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	type result struct {
		conn *tcp.Connection
		err  *tcpip.Error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := c.p.Connect(tcpip.FullAddress{Addr: testAddr, Port: testPort})
		done <- result{conn, err}
	}()

	// The engine sends a SYN from an ephemeral port.
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.DstPort(testPort),
		checker.TCPFlags(header.TCPFlagSyn),
	)
	h := header.TCP(b)
	port := h.SourcePort()
	if port < 41952 {
		t.Fatalf("ephemeral port %d below the expected range", port)
	}
	iss := seqnum.Value(h.SequenceNumber())

	// The SYN advertises our MSS and window scale.
	synOpts := header.ParseSynOptions(h.Options(), false)
	if synOpts.MSS != defaultMTU-header.TCPMinimumSize-header.IPv4MinimumSize {
		t.Fatalf("SYN advertises MSS %d, want %d", synOpts.MSS, defaultMTU-40)
	}
	if synOpts.WS != 7 {
		t.Fatalf("SYN advertises WS %d, want 7", synOpts.WS)
	}

	// Complete the handshake.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: port,
		seqNum:  800,
		ackNum:  iss + 1,
		flags:   header.TCPFlagSyn | header.TCPFlagAck,
		rcvWnd:  30000,
		tcpOpts: mssOption,
	})

	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlags(header.TCPFlagAck),
		checker.SeqNum(uint32(iss)+1),
		checker.AckNum(801),
	)

	r := <-done
	if r.err != nil {
		t.Fatalf("Connect failed: %v", r.err)
	}

	// Data flows both ways.
	if err := r.conn.Send([]byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.SeqNum(uint32(iss)+1),
		checker.Payload([]byte("ping")),
	)

	c.sendPacket([]byte("pong"), &headers{
		srcPort: testPort,
		dstPort: port,
		seqNum:  801,
		ackNum:  iss + 5,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	if err := r.conn.WaitForData(); err != nil {
		t.Fatalf("WaitForData failed: %v", err)
	}
	if got := r.conn.Read(); !bytes.Equal(got, []byte("pong")) {
		t.Fatalf("Read() = %q, want %q", got, "pong")
	}
}

func TestListenerQueueFull(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 1)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	_ = l

	// First SYN is admitted.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  500,
		flags:   header.TCPFlagSyn,
		rcvWnd:  30000,
		tcpOpts: mssOption,
	})
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.TCPFlagsMatch(header.TCPFlagSyn|header.TCPFlagAck, header.TCPFlagSyn|header.TCPFlagAck|header.TCPFlagRst),
	)

	// A second SYN from another port finds the queue full and is refused.
	c.sendPacket(nil, &headers{
		srcPort: testPort + 1,
		dstPort: stackPort,
		seqNum:  9000,
		flags:   header.TCPFlagSyn,
		rcvWnd:  30000,
		tcpOpts: mssOption,
	})
	b = c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.DstPort(testPort+1),
		checker.TCPFlags(header.TCPFlagRst|header.TCPFlagAck),
		checker.SeqNum(0),
		checker.AckNum(9001),
	)
}

func TestStraySegments(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	// An ACK to a port nobody listens on gets a RST carrying the ack as
	// its sequence number.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: 9999,
		seqNum:  100,
		ackNum:  12345,
		flags:   header.TCPFlagAck,
		rcvWnd:  30000,
	})
	b := c.getPacket(time.Second)
	checker.TCP(t, b,
		checker.SrcPort(9999),
		checker.DstPort(testPort),
		checker.TCPFlags(header.TCPFlagRst),
		checker.SeqNum(12345),
	)

	// A stray RST is never answered.
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: 9999,
		seqNum:  100,
		flags:   header.TCPFlagRst,
	})
	c.checkNoPacket("responded to a stray RST", 100*time.Millisecond)
}

func TestBadChecksumIsDropped(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	if _, err := c.p.Listen(stackPort, 10); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	// Build a SYN by hand with a corrupted checksum.
	v := buffer.NewView(header.TCPMinimumSize)
	header.TCP(v).Encode(&header.TCPFields{
		SrcPort:    testPort,
		DstPort:    stackPort,
		SeqNum:     1000,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.TCPFlagSyn,
		WindowSize: 30000,
		Checksum:   0xbad,
	})
	c.p.Received(v, testAddr, stackAddr)

	c.checkNoPacket("replied to a segment with a bad checksum", 100*time.Millisecond)
}

func TestConnectionResetByPeer(t *testing.T) {
	c := newTestContext(t, defaultMTU)

	l, err := c.p.Listen(stackPort, 10)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	conn := c.passiveOpen(l, 1000, 30000)

	waitErr := make(chan *tcpip.Error, 1)
	go func() {
		waitErr <- conn.WaitForData()
	}()

	// Give the waiter a moment to block, then reset.
	time.Sleep(50 * time.Millisecond)
	c.sendPacket(nil, &headers{
		srcPort: testPort,
		dstPort: stackPort,
		seqNum:  1001,
		ackNum:  c.irs + 1,
		flags:   header.TCPFlagRst,
		rcvWnd:  30000,
	})

	select {
	case err := <-waitErr:
		if err != tcpip.ErrConnectionReset {
			t.Fatalf("WaitForData returned %v, want %v", err, tcpip.ErrConnectionReset)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("WaitForData not woken by RST")
	}

	// Sending on the dead connection fails the same way.
	if err := conn.Send([]byte("x")); err != tcpip.ErrConnectionReset {
		t.Fatalf("Send returned %v, want %v", err, tcpip.ErrConnectionReset)
	}
}
