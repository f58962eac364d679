// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"

	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/header"
	"github.com/ictflysun/seastar/tcpip/seqnum"
)

// unackedSegment is a transmitted segment held until the peer acknowledges
// it. pkt is the segment exactly as it first went out; retransmissions
// resend it unchanged, so partial ACKs only shrink dataRemaining and never
// rewrite the stored bytes.
type unackedSegment struct {
	pkt           buffer.View
	dataLen       uint16
	dataRemaining uint16
	nrTransmits   int
	txTime        time.Time
}

// sndState holds the send sequence space of a connection, the
// retransmission and unsent queues, and the congestion control state.
type sndState struct {
	// una, nxt and initial are SND.UNA, SND.NXT and ISS.
	una     seqnum.Value
	nxt     seqnum.Value
	initial seqnum.Value

	// recover is the NewReno recovery marker (RFC 6582).
	recover seqnum.Value

	// wl1 and wl2 are the segment sequence and ack numbers used for the
	// last window update.
	wl1 seqnum.Value
	wl2 seqnum.Value

	// window is the peer's advertised window, after scaling.
	window uint32

	// windowScale is the peer's window scale shift count.
	windowScale uint8

	// mss is the maximum segment size the peer can receive.
	mss uint16

	// data is the retransmission queue: transmitted-but-unacked segments
	// in sequence order.
	data []unackedSegment

	// unsent holds user payloads admitted to the send path but not yet
	// transmitted; unsentLen is their total byte count.
	unsent    []buffer.View
	unsentLen int

	// queuedLen counts bytes accepted by send but still waiting for
	// queue-space credit.
	queuedLen int

	// closed is set once the local FIN has been scheduled.
	closed bool

	// RTT estimation state, per RFC 6298.
	rttvar         time.Duration
	srtt           time.Duration
	firstRTOSample bool
	synTxTime      time.Time

	// Congestion control state, per RFC 5681 / RFC 6582.
	cwnd            uint32
	ssthresh        uint32
	dupacks         int
	limitedTransfer uint32
	partialAck      uint32
	synRetransmit   int
	finRetransmit   int

	// windowProbe is set while the persist timer builds its 1-byte probe.
	windowProbe bool
}

// flightSize returns the number of bytes transmitted but not yet
// acknowledged.
func (t *tcb) flightSize() uint32 {
	var size uint32
	for i := range t.snd.data {
		size += uint32(t.snd.data[i].dataRemaining)
	}
	return size
}

// canSend returns the byte budget for the next segment.
func (t *tcb) canSend() uint32 {
	if t.snd.windowProbe {
		return 1
	}

	// Can not send more than the advertised window allows.
	x := uint32(0)
	if wndEnd := t.snd.una.Add(seqnum.Size(t.snd.window)); t.snd.nxt.LessThan(wndEnd) {
		x = uint32(t.snd.nxt.Size(wndEnd))
	}
	if u := uint32(t.snd.unsentLen); u < x {
		x = u
	}
	// Can not send more than the congestion window allows.
	if t.snd.cwnd < x {
		x = t.snd.cwnd
	}
	if t.snd.dupacks == 1 || t.snd.dupacks == 2 {
		// RFC 5681 step 3.1: limited transmit, send at most
		// cwnd + 2*SMSS in flight per RFC 3042.
		flight := t.flightSize()
		max := t.snd.cwnd + 2*uint32(t.snd.mss)
		if flight <= max {
			if x > max-flight {
				x = max - flight
			}
		} else {
			x = 0
		}
		t.snd.limitedTransfer += x
	} else if t.snd.dupacks >= dupAckThreshold {
		// RFC 5681 step 3.5: at most one full-sized segment.
		if x > uint32(t.snd.mss) {
			x = uint32(t.snd.mss)
		}
	}
	return x
}

// getTransmitPacket builds the payload of the next outbound segment from
// the head of the unsent queue: it pops a small packet whole, splits one
// that exceeds the budget, or coalesces several small ones.
func (t *tcb) getTransmitPacket() buffer.View {
	// Easy case: empty queue.
	if len(t.snd.unsent) == 0 {
		return nil
	}
	budget := t.canSend()

	// Max number of payload bytes we can hand to the device at once.
	hw := t.p.nic.HWFeatures()
	var limit uint32
	if hw.TSO {
		limit = hw.MaxPacketLen - header.TCPMinimumSize - header.IPv4MinimumSize
	} else {
		limit = hw.MTU - header.TCPMinimumSize - header.IPv4MinimumSize
		if m := uint32(t.snd.mss); m < limit {
			limit = m
		}
	}
	if budget > limit {
		budget = limit
	}
	if budget == 0 {
		return nil
	}

	// Easy case: one small packet.
	front := t.snd.unsent[0]
	if len(t.snd.unsent) == 1 && uint32(len(front)) <= budget {
		t.snd.unsent = t.snd.unsent[1:]
		t.snd.unsentLen -= len(front)
		return front
	}

	// Moderate case: need to split one packet.
	if uint32(len(front)) > budget {
		p := front[:budget:budget]
		t.snd.unsent[0] = front[budget:]
		t.snd.unsentLen -= int(budget)
		return p
	}

	// Hard case: merge some packets, possibly split the last.
	p := append(buffer.View(nil), front...)
	t.snd.unsent = t.snd.unsent[1:]
	budget -= uint32(len(p))
	for len(t.snd.unsent) > 0 && uint32(len(t.snd.unsent[0])) <= budget {
		next := t.snd.unsent[0]
		budget -= uint32(len(next))
		p = append(p, next...)
		t.snd.unsent = t.snd.unsent[1:]
	}
	if len(t.snd.unsent) > 0 && budget > 0 {
		next := t.snd.unsent[0]
		p = append(p, next[:budget]...)
		t.snd.unsent[0] = next[budget:]
	}
	t.snd.unsentLen -= len(p)
	return p
}

// outputOne builds exactly one outbound segment and places it on the
// connection's packet queue.
func (t *tcb) outputOne() {
	if t.inState(stateClosed) {
		return
	}

	payload := t.getTransmitPacket()
	l := seqnum.Size(len(payload))
	synOn := t.synNeedsOn()
	ackOn := t.ackNeedsOn()

	optSize := t.opt.size(synOn, ackOn)
	v := buffer.NewView(header.TCPMinimumSize + optSize + len(payload))
	copy(v[header.TCPMinimumSize+optSize:], payload)

	flags := uint8(0)
	if synOn {
		flags |= header.TCPFlagSyn
	}
	if ackOn {
		flags |= header.TCPFlagAck
		t.clearDelayedAck()
	}

	seq := t.snd.nxt
	if synOn {
		seq = t.snd.initial
	}

	t.snd.nxt = t.snd.nxt.Add(l)

	finOn := t.finNeedsOn()
	if finOn {
		flags |= header.TCPFlagFin
	}

	wnd := t.rcv.window >> t.rcv.windowScale
	if wnd > 0xffff {
		wnd = 0xffff
	}

	h := header.TCP(v)
	h.Encode(&header.TCPFields{
		SrcPort:    t.id.LocalPort,
		DstPort:    t.id.RemotePort,
		SeqNum:     uint32(seq),
		AckNum:     uint32(t.rcv.nxt),
		DataOffset: uint8(header.TCPMinimumSize + optSize),
		Flags:      flags,
		WindowSize: uint16(wnd),
	})
	t.opt.fill(v[header.TCPMinimumSize:header.TCPMinimumSize+optSize], synOn, ackOn)
	t.p.fillChecksum(v, t.id.LocalAddress, t.id.RemoteAddress)

	if l > 0 || synOn || finOn {
		now := time.Now()
		if l > 0 {
			t.snd.data = append(t.snd.data, unackedSegment{
				pkt:           v,
				dataLen:       uint16(l),
				dataRemaining: uint16(l),
				txTime:        now,
			})
		}
		if !t.retransmitTimer.enabled() {
			t.retransmitTimer.arm(t.rto)
		}
	}

	t.queuePacket(v)
}

// queuePacket appends a finished segment to the connection's outbound
// queue, to be drained by the provider pull.
func (t *tcb) queuePacket(v buffer.View) {
	t.packetq = append(t.packetq, &tcpip.PacketOut{
		RemoteAddress: t.id.RemoteAddress,
		Packet:        v,
	})
}

// output schedules the connection on the demux's ready ring. It is
// idempotent while a poll is pending.
func (t *tcb) output() {
	if t.pollActive {
		return
	}
	t.pollActive = true
	t.p.pollTCB(t)
}

// getPacket is invoked by the provider pull. It hands out one queued
// segment, generating one on demand if the queue is empty, and re-schedules
// the connection while it still has something to say.
func (t *tcb) getPacket() *tcpip.PacketOut {
	t.pollActive = false
	if len(t.packetq) == 0 {
		t.outputOne()
	}

	if t.inState(stateClosed) || len(t.packetq) == 0 {
		return nil
	}

	p := t.packetq[0]
	t.packetq = t.packetq[1:]
	if len(t.packetq) > 0 || (t.snd.dupacks < dupAckThreshold && t.canSend() > 0) {
		// If there are packets left in the queue, or the tcb is
		// allowed to send more, add it back to the polling set to keep
		// sending. dupacks >= 3 indicates a lost segment; stop sending
		// more in that case.
		t.output()
	}
	return p
}

// retransmit fires on retransmission timer expiry.
func (t *tcb) retransmit() {
	outputUpdateRTO := func() {
		t.output()
		// RFC 6298: binary exponential back-off of the RTO.
		t.rto *= 2
		if t.rto > maxRTO {
			t.rto = maxRTO
		}
		t.retransmitTimer.arm(t.rto)
	}

	// Retransmit SYN.
	if t.synNeedsOn() {
		if t.snd.synRetransmit < maxNrRetransmit {
			t.snd.synRetransmit++
			outputUpdateRTO()
		} else {
			t.resolveConnect(tcpip.ErrConnectFailed)
			t.state = stateClosed
			t.cleanup()
		}
		return
	}

	// Retransmit FIN.
	if t.finNeedsOn() {
		if t.snd.finRetransmit < maxNrRetransmit {
			t.snd.finRetransmit++
			outputUpdateRTO()
		} else {
			t.state = stateClosed
			t.cleanup()
		}
		return
	}

	// Retransmit data.
	if len(t.snd.data) == 0 {
		return
	}

	seg := &t.snd.data[0]
	smss := uint32(t.snd.mss)

	// RFC 5681: update ssthresh only on the first retransmit of the
	// segment.
	if seg.nrTransmits == 0 {
		ss := t.flightSize() / 2
		if ss < 2*smss {
			ss = 2 * smss
		}
		t.snd.ssthresh = ss
	}
	// RFC 6582 step 4.
	t.snd.recover = t.snd.nxt - 1
	// Restart slow start.
	t.snd.cwnd = smss
	t.exitFastRecovery()

	if seg.nrTransmits < maxNrRetransmit {
		seg.nrTransmits++
	} else {
		// Delete the connection when the max number of retransmissions
		// is reached.
		t.state = stateClosed
		t.cleanup()
		return
	}
	t.queuePacket(seg.pkt)

	outputUpdateRTO()
}

// fastRetransmit re-enqueues the oldest unacknowledged segment unchanged.
func (t *tcb) fastRetransmit() {
	if len(t.snd.data) > 0 {
		seg := &t.snd.data[0]
		seg.nrTransmits++
		t.queuePacket(seg.pkt)
		t.output()
	}
}

// persist fires on persist timer expiry: probe the zero window with one
// byte, then back off.
func (t *tcb) persist() {
	t.snd.windowProbe = true
	t.outputOne()
	t.snd.windowProbe = false

	t.output()
	// Binary exponential back-off per RFC 1122.
	t.persistTimeout *= 2
	if t.persistTimeout > maxRTO {
		t.persistTimeout = maxRTO
	}
	t.persistTimer.arm(t.persistTimeout)
}

// updateRTO folds a new round-trip sample into the estimator, per RFC 6298.
func (t *tcb) updateRTO(txTime time.Time) {
	r := time.Since(txTime)
	if t.snd.firstRTOSample {
		t.snd.firstRTOSample = false
		// RTTVAR <- R/2, SRTT <- R
		t.snd.rttvar = r / 2
		t.snd.srtt = r
	} else {
		// RTTVAR <- (1 - beta) * RTTVAR + beta * |SRTT - R'|
		// SRTT <- (1 - alpha) * SRTT + alpha * R'
		// where alpha = 1/8 and beta = 1/4.
		delta := t.snd.srtt - r
		if delta < 0 {
			delta = -delta
		}
		t.snd.rttvar = t.snd.rttvar*3/4 + delta/4
		t.snd.srtt = t.snd.srtt*7/8 + r/8
	}

	// RTO <- SRTT + max(G, K * RTTVAR)
	k := 4 * t.snd.rttvar
	if k < rtoClockGranularity {
		k = rtoClockGranularity
	}
	rto := t.snd.srtt + k

	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	t.rto = rto
}

// updateCWND grows the congestion window for acked bytes: slow start below
// ssthresh, congestion avoidance above it.
func (t *tcb) updateCWND(acked uint32) {
	smss := uint32(t.snd.mss)
	if t.snd.cwnd < t.snd.ssthresh {
		if acked > smss {
			acked = smss
		}
		t.snd.cwnd += acked
	} else {
		inc := smss * smss / t.snd.cwnd
		if inc < 1 {
			inc = 1
		}
		t.snd.cwnd += inc
	}
}

// dataSegmentAcked consumes acknowledged segments from the head of the
// retransmission queue and returns the number of newly acked bytes.
func (t *tcb) dataSegmentAcked(segAck seqnum.Value) uint32 {
	var total uint32

	// Full ACK of segments.
	for len(t.snd.data) > 0 {
		seg := &t.snd.data[0]
		if !t.snd.una.Add(seqnum.Size(seg.dataRemaining)).LessThanEq(segAck) {
			break
		}
		acked := uint32(seg.dataRemaining)
		t.snd.una = t.snd.una.Add(seqnum.Size(acked))
		// Ignore retransmitted segments when sampling the RTO.
		if seg.nrTransmits == 0 {
			t.updateRTO(seg.txTime)
		}
		t.updateCWND(acked)
		total += acked
		t.queueSpace.signal(int(seg.dataLen))
		t.snd.data = t.snd.data[1:]
	}

	// Partial ACK of the head segment. The stored bytes are left
	// untouched: a retransmit resends the whole original segment, at the
	// cost of re-sending data the peer already has.
	if t.snd.una.LessThan(segAck) {
		acked := uint32(t.snd.una.Size(segAck))
		if len(t.snd.data) > 0 {
			t.snd.data[0].dataRemaining -= uint16(acked)
		}
		t.snd.una = segAck
		t.updateCWND(acked)
		total += acked
	}
	return total
}
