// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/seqnum"
)

// rcvState holds the receive sequence space of a connection, the in-order
// data buffered for the user and the out-of-order reassembly queue.
type rcvState struct {
	// nxt is RCV.NXT, the next expected sequence number.
	nxt seqnum.Value

	// initial is IRS, the peer's initial sequence number.
	initial seqnum.Value

	// window is the receive window, after scaling.
	window uint32

	// windowScale is our window scale shift count.
	windowScale uint8

	// mss is the maximum segment size we can receive.
	mss uint16

	// data is the in-order data buffered for the user, drained by read.
	data []buffer.View

	// outOfOrder holds segments received above rcv.nxt until the gap
	// below them fills.
	outOfOrder ooQueue
}

// ooSegment is a fragment of the receive sequence space held for
// reassembly.
type ooSegment struct {
	seq  seqnum.Value
	data buffer.View
}

// ooQueue is a sequence-ordered queue of out-of-order fragments. Inserting
// merges overlapping and adjacent fragments so the queue always holds
// disjoint, non-adjacent ranges in ascending order.
type ooQueue struct {
	segs []ooSegment
}

func (q *ooQueue) empty() bool {
	return len(q.segs) == 0
}

func (q *ooQueue) clear() {
	q.segs = nil
}

// insert adds the [seq, seq+len(v)) fragment to the queue, coalescing it
// with any fragment it overlaps or abuts.
func (q *ooQueue) insert(seq seqnum.Value, v buffer.View) {
	if len(v) == 0 {
		return
	}
	end := seq.Add(seqnum.Size(len(v)))

	i := 0
	for i < len(q.segs) && q.segs[i].seq.LessThan(seq) {
		i++
	}

	if i > 0 {
		prev := &q.segs[i-1]
		prevEnd := prev.seq.Add(seqnum.Size(len(prev.data)))
		if !prevEnd.LessThan(seq) {
			// Overlaps or abuts the predecessor.
			if end.LessThanEq(prevEnd) {
				// Fully contained, nothing new.
				return
			}
			// Drop the leading bytes of v that prev already covers
			// and graft the rest on.
			trim := seq.Size(prevEnd)
			prev.data = append(buffer.NewViewFromBytes(prev.data), v[trim:]...)
			i--
		} else {
			q.segs = append(q.segs, ooSegment{})
			copy(q.segs[i+1:], q.segs[i:])
			q.segs[i] = ooSegment{seq: seq, data: v}
		}
	} else {
		q.segs = append(q.segs, ooSegment{})
		copy(q.segs[1:], q.segs)
		q.segs[0] = ooSegment{seq: seq, data: v}
	}

	// Coalesce forward with any successors the grown fragment now reaches.
	cur := &q.segs[i]
	for i+1 < len(q.segs) {
		curEnd := cur.seq.Add(seqnum.Size(len(cur.data)))
		next := q.segs[i+1]
		if curEnd.LessThan(next.seq) {
			break
		}
		nextEnd := next.seq.Add(seqnum.Size(len(next.data)))
		if curEnd.LessThan(nextEnd) {
			off := next.seq.Size(curEnd)
			cur.data = append(buffer.NewViewFromBytes(cur.data), next.data[off:]...)
		}
		q.segs = append(q.segs[:i+1], q.segs[i+2:]...)
		cur = &q.segs[i]
	}
}

// insertOutOfOrder stores a segment that arrived above rcv.nxt.
func (t *tcb) insertOutOfOrder(seq seqnum.Value, v buffer.View) {
	t.rcv.outOfOrder.insert(seq, v)
}

// mergeOutOfOrder moves any fragments made contiguous by the last in-order
// arrival into the receive buffer, advancing rcv.nxt. It returns whether
// anything was merged, which drives the immediate-ACK rule for filled gaps.
func (t *tcb) mergeOutOfOrder() bool {
	merged := false
	q := &t.rcv.outOfOrder
	for len(q.segs) > 0 {
		seg := q.segs[0]
		segEnd := seg.seq.Add(seqnum.Size(len(seg.data)))
		switch {
		case seg.seq.LessThanEq(t.rcv.nxt) && t.rcv.nxt.LessThan(segEnd):
			// The gap below this fragment has been filled.
			data := seg.data
			data.TrimFront(int(seg.seq.Size(t.rcv.nxt)))
			t.rcv.data = append(t.rcv.data, data)
			t.rcv.nxt = segEnd
			q.segs = q.segs[1:]
			merged = true
		case segEnd.LessThanEq(t.rcv.nxt):
			// Entirely below rcv.nxt, already received.
			q.segs = q.segs[1:]
		default:
			// Fragments only grow in sequence order, so the first
			// one above rcv.nxt ends the scan.
			return merged
		}
	}
	return merged
}

// shouldSendACK applies the delayed-ACK policy to an in-order data arrival
// of the given length. It returns true when an ACK must go out now;
// otherwise the delayed-ACK timer covers it.
func (t *tcb) shouldSendACK(segLen seqnum.Size) bool {
	// A TSO-merged arrival spans several segments, ack immediately.
	if segLen > seqnum.Size(t.rcv.mss) {
		t.nrFullSegReceived = 0
		t.delayedAck.disarm()
		return true
	}

	// Ack every second full-sized segment.
	if segLen == seqnum.Size(t.rcv.mss) {
		t.nrFullSegReceived++
		if t.nrFullSegReceived >= 2 {
			t.nrFullSegReceived = 0
			t.delayedAck.disarm()
			return true
		}
	}

	if t.delayedAck.enabled() {
		return false
	}

	// The maximum delayed ack timer allowed by RFC 1122 is 500ms; most
	// implementations use 200ms.
	t.delayedAck.arm(delayedAckTimeout)
	return false
}

func (t *tcb) clearDelayedAck() {
	t.delayedAck.disarm()
}
