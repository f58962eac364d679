// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcp contains a user-space TCP protocol engine designed to be
// driven by a shared-nothing, run-to-completion network stack. The engine
// consumes inbound segments through Received and produces outbound segments
// on demand through the PollPacket pull hook; IP/Ethernet framing, routing
// and the surrounding reactor are the caller's business.
package tcp

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/header"
)

const (
	// ProtocolName is the string representation of the tcp protocol name.
	ProtocolName = "tcp"

	// ProtocolNumber is the tcp protocol number.
	ProtocolNumber = header.TCPProtocolNumber

	// strayQueueSpace bounds the bytes queued for transmission without an
	// owning connection (e.g. RSTs for unknown tuples). Overflow is a
	// silent drop; the peer's retransmit covers it.
	strayQueueSpace = 212992

	// strayPollInterval is how often the provider pull prefers the stray
	// queue over scheduled connections.
	strayPollInterval = 128

	// firstEphemeralPort is the beginning of the port range used for
	// active opens.
	firstEphemeralPort = 41952

	// maxPortRetries bounds the ephemeral port search.
	maxPortRetries = 1000
)

// ConnID identifies one connection: the local/remote address and port
// 4-tuple.
type ConnID struct {
	LocalAddress  tcpip.Address
	RemoteAddress tcpip.Address
	LocalPort     uint16
	RemotePort    uint16
}

// Hash returns a stable hash of the 4-tuple, usable for steering the
// connection to a CPU shard.
func (id ConnID) Hash() uint32 {
	h := fnv.New32a()
	h.Write([]byte(id.LocalAddress))
	h.Write([]byte(id.RemoteAddress))
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:], id.LocalPort)
	binary.BigEndian.PutUint16(ports[2:], id.RemotePort)
	h.Write(ports[:])
	return h.Sum32()
}

// ParsePorts returns the source and destination ports stored in the given
// tcp packet, for callers that steer packets by flow before dispatching.
func ParsePorts(v buffer.View) (src, dst uint16, ok bool) {
	if len(v) < header.TCPMinimumSize {
		return 0, 0, false
	}
	h := header.TCP(v)
	return h.SourcePort(), h.DestinationPort(), true
}

// Options configures a Protocol instance.
type Options struct {
	// ShardOwns reports whether this engine instance owns the given
	// connection id; active opens re-roll their ephemeral port until it
	// does. nil means the instance owns everything.
	ShardOwns func(ConnID) bool

	// Rand is the source used for ephemeral port selection. nil means a
	// private source seeded by the runtime.
	Rand *rand.Rand
}

// pollEntry is one scheduled connection on the ready ring, with its next
// hop already resolved.
type pollEntry struct {
	tcb      *tcb
	linkAddr tcpip.LinkAddress
}

// Protocol is the connection demultiplexer: it owns the 4-tuple to tcb
// table and the port to listener table, routes inbound segments, answers
// stray segments with RSTs and feeds the packet-provider pull.
type Protocol struct {
	nic       tcpip.NetworkInterface
	shardOwns func(ConnID) bool

	// mu is the shard lock. Inbound dispatch, timer callbacks, the pull
	// hook's per-connection work and the user-facing calls all serialize
	// on it, which is what makes every tcb single-threaded.
	mu        sync.Mutex
	tcbs      map[ConnID]*tcb
	listeners map[uint16]*Listener
	rng       *rand.Rand

	// pollMu guards the provider-facing queues. It may be acquired while
	// mu is held, but mu is never acquired while pollMu is held, so link
	// resolution callbacks may run inline under mu.
	pollMu     sync.Mutex
	pollTCBs   []pollEntry
	packetq    []*tcpip.PacketOut
	queueSpace int
	tcbPolled  uint
}

// New creates a TCP engine over the given network interface.
func New(nic tcpip.NetworkInterface, opts Options) *Protocol {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(rand.Uint64())))
	}
	return &Protocol{
		nic:        nic,
		shardOwns:  opts.ShardOwns,
		tcbs:       make(map[ConnID]*tcb),
		listeners:  make(map[uint16]*Listener),
		rng:        rng,
		queueSpace: strayQueueSpace,
	}
}

// Received is the IP-layer callback: v holds one whole TCP segment sent
// from 'from' to 'to'. The engine takes ownership of v. Malformed segments
// are dropped silently.
func (p *Protocol) Received(v buffer.View, from, to tcpip.Address) {
	if len(v) < header.TCPMinimumSize {
		return
	}
	h := header.TCP(v)

	if !p.nic.HWFeatures().RXChecksumOffload {
		xsum := header.PseudoHeaderChecksum(ProtocolNumber, from, to)
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(len(v)))
		xsum = header.Checksum(lb[:], xsum)
		if header.Checksum(v, xsum) != 0xffff {
			return
		}
	}

	id := ConnID{
		LocalAddress:  to,
		RemoteAddress: from,
		LocalPort:     h.DestinationPort(),
		RemotePort:    h.SourcePort(),
	}
	s := newSegment(id, v)
	if !s.parse() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tcbs[id]; ok {
		if t.state == stateSynSent {
			t.handleSynSentState(s)
		} else {
			t.handleOtherState(s)
		}
		return
	}

	l, ok := p.listeners[id.LocalPort]
	if !ok || l.queueFull() {
		// No owner: any segment except a reset gets a reset back.
		p.respondWithReset(s, to, from)
		return
	}

	// LISTEN state processing, RFC 793 page 65.
	if s.flagIsSet(flagRst) {
		// An incoming RST should be ignored.
		return
	}
	if s.flagIsSet(flagAck) {
		// Any acknowledgment is bad if it arrives on a connection still
		// in the LISTEN state: <SEQ=SEG.ACK><CTL=RST>.
		p.respondWithReset(s, to, from)
		return
	}
	if !s.flagIsSet(flagSyn) {
		return
	}
	t := newTCB(p, id)
	l.enqueue(newConnection(t))
	p.tcbs[id] = t
	t.handleListenState(s)
}

// Connect starts an active open to the given peer and blocks until the
// handshake resolves.
func (p *Protocol) Connect(remote tcpip.FullAddress) (*Connection, *tcpip.Error) {
	localIP := p.nic.LocalAddress()

	p.mu.Lock()
	var id ConnID
	found := false
	for i := 0; i < maxPortRetries; i++ {
		port := uint16(firstEphemeralPort + p.rng.Intn(1<<16-firstEphemeralPort))
		id = ConnID{
			LocalAddress:  localIP,
			RemoteAddress: remote.Addr,
			LocalPort:     port,
			RemotePort:    remote.Port,
		}
		if p.shardOwns != nil && !p.shardOwns(id) {
			continue
		}
		if _, ok := p.tcbs[id]; ok {
			continue
		}
		found = true
		break
	}
	if !found {
		p.mu.Unlock()
		return nil, tcpip.ErrNoPortAvailable
	}

	t := newTCB(p, id)
	p.tcbs[id] = t
	t.connect()
	done := t.connectDone
	p.mu.Unlock()

	<-done

	p.mu.Lock()
	err := t.connectErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return newConnection(t), nil
}

// PollPacket is the packet-provider pull hook: the surrounding stack calls
// it for the next segment to transmit. Every 128th call, or when no
// connection is scheduled, it drains one stray packet; otherwise it pops
// the next scheduled connection and asks it for one segment.
func (p *Protocol) PollPacket() *tcpip.PacketOut {
	p.pollMu.Lock()
	if len(p.packetq) > 0 && (p.tcbPolled%strayPollInterval == 0 || len(p.pollTCBs) == 0) {
		pkt := p.packetq[0]
		p.packetq = p.packetq[1:]
		p.queueSpace += len(pkt.Packet)
		p.pollMu.Unlock()
		return pkt
	}
	for len(p.pollTCBs) > 0 {
		e := p.pollTCBs[0]
		p.pollTCBs = p.pollTCBs[1:]
		p.tcbPolled++
		p.pollMu.Unlock()

		p.mu.Lock()
		pkt := e.tcb.getPacket()
		p.mu.Unlock()
		if pkt != nil {
			pkt.LinkAddr = e.linkAddr
			return pkt
		}
		p.pollMu.Lock()
	}
	p.pollMu.Unlock()
	return nil
}

// pollTCB schedules a connection on the ready ring once its next hop
// resolves.
func (p *Protocol) pollTCB(t *tcb) {
	p.nic.ResolveLinkAddr(t.id.RemoteAddress, func(la tcpip.LinkAddress) {
		p.pollMu.Lock()
		p.pollTCBs = append(p.pollTCBs, pollEntry{tcb: t, linkAddr: la})
		p.pollMu.Unlock()
	})
}

// respondWithReset answers a stray segment with a RST, per RFC 793 page 36:
// never in response to a RST; seq taken from the incoming ACK when present;
// the incoming SYN acknowledged when present.
func (p *Protocol) respondWithReset(s *segment, local, remote tcpip.Address) {
	if s.flagIsSet(flagRst) {
		return
	}

	v := buffer.NewView(header.TCPMinimumSize)
	fields := header.TCPFields{
		SrcPort:    s.id.LocalPort,
		DstPort:    s.id.RemotePort,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.TCPFlagRst,
	}
	if s.flagIsSet(flagAck) {
		fields.SeqNum = uint32(s.ackNumber)
	}
	if s.flagIsSet(flagSyn) {
		// The RST is in response to a SYN: ACK the ISN.
		fields.AckNum = uint32(s.sequenceNumber + 1)
		fields.Flags |= header.TCPFlagAck
	}
	header.TCP(v).Encode(&fields)
	p.fillChecksum(v, local, remote)

	p.sendPacketWithoutTCB(local, remote, v)
}

// sendPacketWithoutTCB queues an outbound segment that has no owning
// connection. Packets that do not fit the queue credit are dropped.
func (p *Protocol) sendPacketWithoutTCB(local, remote tcpip.Address, v buffer.View) {
	p.pollMu.Lock()
	if p.queueSpace < len(v) {
		p.pollMu.Unlock()
		return
	}
	p.queueSpace -= len(v)
	p.pollMu.Unlock()

	p.nic.ResolveLinkAddr(remote, func(la tcpip.LinkAddress) {
		p.pollMu.Lock()
		p.packetq = append(p.packetq, &tcpip.PacketOut{
			RemoteAddress: remote,
			Packet:        v,
			LinkAddr:      la,
		})
		p.pollMu.Unlock()
	})
}

// fillChecksum completes the checksum field of a finished segment. With
// transmit offload the field is seeded with the ones' complement sum of the
// pseudo-header (length included) for the device to fold the rest in;
// otherwise the full checksum is computed here.
func (p *Protocol) fillChecksum(v buffer.View, local, remote tcpip.Address) {
	h := header.TCP(v)
	xsum := header.PseudoHeaderChecksum(ProtocolNumber, local, remote)
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(v)))
	xsum = header.Checksum(lb[:], xsum)
	if p.nic.HWFeatures().TXChecksumOffload {
		h.SetChecksum(xsum)
		return
	}
	h.SetChecksum(^header.Checksum(v, xsum))
}
