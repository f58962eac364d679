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
	"github.com/ictflysun/seastar/waiter"
)

// tcbState is the RFC 793 connection state. States are encoded as bits so
// that handlers can test membership in a set with a single mask.
type tcbState uint16

const (
	stateClosed tcbState = 1 << iota
	stateListen
	stateSynSent
	stateSynRcvd
	stateEstablished
	stateFinWait1
	stateFinWait2
	stateCloseWait
	stateClosing
	stateLastAck
	stateTimeWait
)

func (s tcbState) String() string {
	switch s {
	case stateClosed:
		return "CLOSED"
	case stateListen:
		return "LISTEN"
	case stateSynSent:
		return "SYN-SENT"
	case stateSynRcvd:
		return "SYN-RCVD"
	case stateEstablished:
		return "ESTABLISHED"
	case stateFinWait1:
		return "FIN-WAIT-1"
	case stateFinWait2:
		return "FIN-WAIT-2"
	case stateCloseWait:
		return "CLOSE-WAIT"
	case stateClosing:
		return "CLOSING"
	case stateLastAck:
		return "LAST-ACK"
	case stateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

const (
	// defaultWindowScale is the receive window scale we request on active
	// opens.
	defaultWindowScale = 7

	// defaultWindowSize is Linux's default initial receive window, before
	// scaling.
	defaultWindowSize = 29200

	// defaultQueueSpace bounds the bytes a user may have in the send path
	// that the peer has not yet acknowledged.
	defaultQueueSpace = 212992

	// maxNrRetransmit bounds the retransmissions of any one segment, and
	// of the SYN and FIN.
	maxNrRetransmit = 5

	// dupAckThreshold is the number of duplicate ACKs that trigger fast
	// retransmit, per RFC 5681.
	dupAckThreshold = 3

	minRTO              = 1 * time.Second
	maxRTO              = 60 * time.Second
	rtoClockGranularity = 1 * time.Millisecond

	delayedAckTimeout = 200 * time.Millisecond
)

// tcb is the transmission control block: all per-connection protocol state.
// Every field is protected by the owning Protocol's shard lock.
type tcb struct {
	p  *Protocol
	id ConnID

	state tcbState
	snd   sndState
	rcv   rcvState
	opt   options

	// rto is the current retransmission timeout.
	rto time.Duration

	// persistTimeout is the current zero-window probe interval.
	persistTimeout time.Duration

	retransmitTimer *timer
	persistTimer    *timer
	delayedAck      *timer

	// nrFullSegReceived counts full-sized in-order segments since the
	// last immediate ACK, for the every-second-segment ACK rule.
	nrFullSegReceived int

	// packetq holds finished outbound segments awaiting the provider
	// pull.
	packetq []*tcpip.PacketOut

	// pollActive is set while the tcb is scheduled on the demux's ready
	// ring.
	pollActive bool

	// hardError is the terminal error reported to blocked callers once
	// the connection dies.
	hardError *tcpip.Error

	// connectDone is closed when the handshake resolves, successfully or
	// not; connectErr then holds the outcome.
	connectDone     chan struct{}
	connectResolved bool
	connectErr      *tcpip.Error

	// waiterQueue wakes the user-facing blocking calls.
	waiterQueue waiter.Queue

	// queueSpace is the bounded admission credit for send.
	queueSpace *byteSemaphore

	// closeRequested is set by CloseWrite; the FIN goes out once all
	// queued data has been acknowledged.
	closeRequested bool
}

func newTCB(p *Protocol, id ConnID) *tcb {
	t := &tcb{
		p:              p,
		id:             id,
		state:          stateClosed,
		rto:            minRTO,
		persistTimeout: minRTO,
		connectDone:    make(chan struct{}),
		queueSpace:     newByteSemaphore(defaultQueueSpace),
	}
	t.snd.firstRTOSample = true
	t.retransmitTimer = newTimer(p, t.retransmit)
	t.persistTimer = newTimer(p, t.persist)
	t.delayedAck = newTimer(p, func() {
		t.nrFullSegReceived = 0
		t.output()
	})
	return t
}

func (t *tcb) inState(mask tcbState) bool {
	return t.state&mask != 0
}

func (t *tcb) synNeedsOn() bool {
	return t.inState(stateSynSent | stateSynRcvd)
}

func (t *tcb) finNeedsOn() bool {
	return t.inState(stateFinWait1|stateClosing|stateLastAck) && t.snd.closed &&
		t.snd.unsentLen == 0 && t.snd.queuedLen == 0
}

func (t *tcb) ackNeedsOn() bool {
	return !t.inState(stateClosed | stateListen | stateSynSent)
}

func (t *tcb) foreignWillNotSend() bool {
	return t.inState(stateClosing | stateTimeWait | stateCloseWait | stateLastAck | stateClosed)
}

func (t *tcb) localMSS() uint16 {
	return uint16(t.p.nic.HWFeatures().MTU - header.TCPMinimumSize - header.IPv4MinimumSize)
}

func (t *tcb) exitFastRecovery() {
	t.snd.dupacks = 0
	t.snd.limitedTransfer = 0
	t.snd.partialAck = 0
}

func (t *tcb) doSetupISN() {
	t.snd.initial = t.generateISN()
	t.snd.una = t.snd.initial
	t.snd.nxt = t.snd.initial + 1
	t.snd.recover = t.snd.initial
}

func (t *tcb) doSynSent() {
	t.state = stateSynSent
	t.snd.synTxTime = time.Now()
	// Send <SYN> to remote.
	t.output()
}

func (t *tcb) doSynReceived() {
	t.state = stateSynRcvd
	t.snd.synTxTime = time.Now()
	// Send <SYN,ACK> to remote.
	t.output()
}

func (t *tcb) doEstablished() {
	t.state = stateEstablished
	t.updateRTO(t.snd.synTxTime)
	t.resolveConnect(nil)
}

// resolveConnect records the outcome of the handshake and wakes the
// connecting caller. Only the first resolution counts.
func (t *tcb) resolveConnect(err *tcpip.Error) {
	if t.connectResolved {
		return
	}
	t.connectResolved = true
	t.connectErr = err
	close(t.connectDone)
}

func (t *tcb) doReset() {
	t.state = stateClosed
	t.hardError = tcpip.ErrConnectionReset
	t.resolveConnect(tcpip.ErrConnectionReset)
	t.cleanup()
}

func (t *tcb) doTimeWait() {
	// The 2*MSL timer is intentionally absent: the connection is torn
	// down as soon as the state is entered.
	t.state = stateTimeWait
	t.cleanup()
}

func (t *tcb) doClosed() {
	t.state = stateClosed
	t.cleanup()
}

// doLocalFinAcked advances the send space past the FIN phantom byte.
func (t *tcb) doLocalFinAcked() {
	t.snd.una++
	t.snd.nxt++
}

// cleanup tears the connection down: buffers cleared, timers cancelled, the
// demux table entry removed, and every blocked caller released.
func (t *tcb) cleanup() {
	t.snd.unsent = nil
	t.snd.unsentLen = 0
	t.snd.data = nil
	t.rcv.outOfOrder.clear()
	t.rcv.data = nil
	t.retransmitTimer.disarm()
	t.persistTimer.disarm()
	t.clearDelayedAck()
	delete(t.p.tcbs, t.id)
	t.queueSpace.broken(tcpip.ErrConnectionReset)
	t.waiterQueue.Notify(waiter.EventIn | waiter.EventOut | waiter.EventErr | waiter.EventHUp)
}

func (t *tcb) signalDataReceived() {
	t.waiterQueue.Notify(waiter.EventIn)
}

// signalAllDataAcked wakes drain waiters once nothing is queued, unsent or
// in flight, and completes a deferred CloseWrite.
func (t *tcb) signalAllDataAcked() {
	if len(t.snd.data) != 0 || t.snd.unsentLen != 0 || t.snd.queuedLen != 0 {
		return
	}
	t.waiterQueue.Notify(waiter.EventOut)
	t.maybeCompleteClose()
}

// connect starts an active open: pick the ISS, install the receive
// parameters and send the SYN.
func (t *tcb) connect() {
	t.doSetupISN()

	// Local receive window scale factor.
	t.rcv.windowScale = defaultWindowScale
	t.opt.localWS = defaultWindowScale
	// Maximum segment size we can receive.
	t.opt.localMSS = t.localMSS()
	t.rcv.mss = t.opt.localMSS
	t.rcv.window = defaultWindowSize << t.rcv.windowScale

	t.doSynSent()
}

// initFromOptions applies the options and window parameters carried by the
// peer's SYN.
func (t *tcb) initFromOptions(s *segment) {
	t.opt.parseSyn(s.options, s.flagIsSet(flagAck))

	// Remote and local window scale factors.
	t.snd.windowScale = t.opt.remoteWS
	t.rcv.windowScale = t.opt.localWS

	// Maximum segment size each side can receive.
	t.snd.mss = t.opt.remoteMSS
	t.opt.localMSS = t.localMSS()
	t.rcv.mss = t.opt.localMSS

	t.rcv.window = defaultWindowSize << t.rcv.windowScale
	t.snd.window = uint32(s.window) << t.snd.windowScale

	// Sequence and acknowledgment numbers used for the last window
	// update.
	t.snd.wl1 = s.sequenceNumber
	t.snd.wl2 = s.ackNumber

	// Initial congestion window per RFC 6928's predecessor rules.
	switch mss := uint32(t.snd.mss); {
	case mss > 2190:
		t.snd.cwnd = 2 * mss
	case mss > 1095:
		t.snd.cwnd = 3 * mss
	default:
		t.snd.cwnd = 4 * mss
	}

	// The slow start threshold is seeded from the peer's first advertised
	// window rather than RFC 5681's "arbitrarily high" guidance.
	t.snd.ssthresh = uint32(s.window) << t.snd.windowScale
}

// segmentAcceptable implements the sequence-number acceptance test of
// RFC 793 page 26.
func (t *tcb) segmentAcceptable(segSeq seqnum.Value, segLen seqnum.Size) bool {
	wnd := seqnum.Size(t.rcv.window)
	switch {
	case segLen == 0 && wnd == 0:
		// SEG.SEQ = RCV.NXT
		return segSeq == t.rcv.nxt
	case segLen == 0:
		// RCV.NXT =< SEG.SEQ < RCV.NXT+RCV.WND
		return t.rcv.nxt.LessThanEq(segSeq) && segSeq.LessThan(t.rcv.nxt.Add(wnd))
	case wnd > 0:
		// RCV.NXT =< SEG.SEQ < RCV.NXT+RCV.WND
		//    or
		// RCV.NXT =< SEG.SEQ+SEG.LEN-1 < RCV.NXT+RCV.WND
		last := segSeq.Add(segLen - 1)
		x := t.rcv.nxt.LessThanEq(segSeq) && segSeq.LessThan(t.rcv.nxt.Add(wnd))
		y := t.rcv.nxt.LessThanEq(last) && last.LessThan(t.rcv.nxt.Add(wnd))
		return x || y
	default:
		// SEG.LEN > 0 and RCV.WND = 0: not acceptable.
		return false
	}
}

// handleListenState processes the SYN that created this tcb. It is only
// reached through the demux's LISTEN dispatch.
func (t *tcb) handleListenState(s *segment) {
	// RCV.NXT is set to SEG.SEQ+1, IRS is set to SEG.SEQ.
	t.rcv.nxt = s.sequenceNumber + 1
	t.rcv.initial = s.sequenceNumber

	// An ISS is selected and <SEQ=ISS><ACK=RCV.NXT><CTL=SYN,ACK> will go
	// out; SND.NXT is set to ISS+1 and SND.UNA to ISS, so a retransmitted
	// SYN-ACK keeps the correct sequence number.
	t.doSetupISN()

	t.initFromOptions(s)
	t.doSynReceived()
}

// handleSynSentState processes a segment received in the SYN-SENT state,
// following RFC 793 page 66.
func (t *tcb) handleSynSentState(s *segment) {
	segSeq := s.sequenceNumber
	segAck := s.ackNumber

	acceptable := false
	// First check the ACK bit.
	if s.flagIsSet(flagAck) {
		// If SEG.ACK =< ISS or SEG.ACK > SND.NXT, send a reset (unless
		// the RST bit is set, in which case drop the segment).
		if segAck.LessThanEq(t.snd.initial) || t.snd.nxt.LessThan(segAck) {
			t.respondWithReset(s)
			return
		}

		// If SND.UNA =< SEG.ACK =< SND.NXT then the ACK is acceptable.
		acceptable = t.snd.una.LessThanEq(segAck) && segAck.LessThanEq(t.snd.nxt)
	}

	// Second check the RST bit.
	if s.flagIsSet(flagRst) {
		if acceptable {
			t.doReset()
		}
		return
	}

	// Fourth check the SYN bit.
	if !s.flagIsSet(flagSyn) {
		// If neither of the SYN or RST bits is set, drop the segment.
		return
	}

	// RCV.NXT is set to SEG.SEQ+1, IRS is set to SEG.SEQ. SND.UNA is
	// advanced to equal SEG.ACK (if there is an ACK).
	t.rcv.nxt = segSeq + 1
	t.rcv.initial = segSeq
	if s.flagIsSet(flagAck) {
		t.snd.una = segAck
	}

	if t.snd.initial.LessThan(t.snd.una) {
		// Our SYN has been ACKed: enter ESTABLISHED and form
		// <SEQ=SND.NXT><ACK=RCV.NXT><CTL=ACK>.
		t.initFromOptions(s)
		t.doEstablished()
		t.output()
	} else {
		// Simultaneous open: enter SYN-RECEIVED and form
		// <SEQ=ISS><ACK=RCV.NXT><CTL=SYN,ACK>.
		t.doSynReceived()
	}
}

// handleOtherState processes a segment received in any synchronized state,
// following RFC 793 page 69.
func (t *tcb) handleOtherState(s *segment) {
	doOutput := false
	doOutputData := false
	segSeq := s.sequenceNumber
	segAck := s.ackNumber
	segLen := seqnum.Size(len(s.data))
	segWnd := uint32(s.window) << t.snd.windowScale

	// First check the sequence number.
	if !t.segmentAcceptable(segSeq, segLen) {
		// <SEQ=SND.NXT><ACK=RCV.NXT><CTL=ACK>
		t.output()
		return
	}

	// Keep the peer's timestamp fresh for the echo field.
	t.opt.parse(s.options)

	// In the following it is assumed that the segment is the idealized
	// segment that begins at RCV.NXT and does not exceed the window.
	if segSeq.LessThan(t.rcv.nxt) {
		// Ignore already acknowledged data.
		dup := segSeq.Size(t.rcv.nxt)
		if dup > segLen {
			dup = segLen
		}
		s.data.TrimFront(int(dup))
		segLen -= dup
		segSeq = segSeq.Add(dup)
	}
	// Trim data beyond the right edge of the receive window.
	if limit := t.rcv.nxt.Add(seqnum.Size(t.rcv.window)); limit.LessThan(segSeq.Add(segLen)) {
		over := limit.Size(segSeq.Add(segLen))
		segLen -= over
		s.data.CapLength(int(segLen))
	}

	if segSeq != t.rcv.nxt {
		t.insertOutOfOrder(segSeq, s.data)
		// A TCP receiver SHOULD send an immediate duplicate ACK when an
		// out-of-order segment arrives.
		t.output()
		return
	}

	// Second check the RST bit.
	if s.flagIsSet(flagRst) {
		if t.inState(stateSynRcvd) {
			// A passive open need not inform anyone; an active open
			// that passed through SYN-SENT was refused.
			t.resolveConnect(tcpip.ErrConnectionRefused)
			t.doReset()
			return
		}
		if t.inState(stateEstablished | stateFinWait1 | stateFinWait2 | stateCloseWait) {
			t.doReset()
			return
		}
		if t.inState(stateClosing | stateLastAck | stateTimeWait) {
			t.doClosed()
			return
		}
	}

	// Fourth check the SYN bit. A SYN in the window is an error in every
	// synchronized state; out-of-window SYNs were already answered by the
	// acceptance test above.
	if s.flagIsSet(flagSyn) {
		t.respondWithReset(s)
		t.doReset()
		return
	}

	// Fifth check the ACK field; if it is off, drop the segment.
	if !s.flagIsSet(flagAck) {
		return
	}

	if t.inState(stateSynRcvd) {
		// If SND.UNA =< SEG.ACK =< SND.NXT then enter ESTABLISHED and
		// continue processing.
		if t.snd.una.LessThanEq(segAck) && segAck.LessThanEq(t.snd.nxt) {
			t.doEstablished()
		} else {
			// <SEQ=SEG.ACK><CTL=RST>
			t.respondWithReset(s)
			return
		}
	}

	updateWindow := func() {
		t.snd.window = segWnd
		t.snd.wl1 = segSeq
		t.snd.wl2 = segAck
		if t.snd.window == 0 {
			t.persistTimeout = t.rto
			t.persistTimer.arm(t.persistTimeout)
		} else {
			t.persistTimer.disarm()
		}
	}

	// ESTABLISHED, and CLOSE-WAIT does the same processing.
	if t.inState(stateEstablished | stateCloseWait) {
		if t.snd.una.LessThan(segAck) && segAck.LessThanEq(t.snd.nxt) {
			// The peer ACKed data we sent.
			acked := t.dataSegmentAcked(segAck)

			// If SND.WL1 < SEG.SEQ or (SND.WL1 = SEG.SEQ and
			// SND.WL2 =< SEG.ACK), update the send window.
			if t.snd.wl1.LessThan(segSeq) || (t.snd.wl1 == segSeq && t.snd.wl2.LessThanEq(segAck)) {
				updateWindow()
			}

			// Some data was acked, try to send more.
			doOutputData = true

			setRetransmitTimer := func() {
				if len(t.snd.data) == 0 {
					// Everything outstanding is acked; stop
					// the timer and wake drain waiters.
					t.retransmitTimer.disarm()
					t.signalAllDataAcked()
				} else {
					// Restart the timer because new data was
					// acked.
					t.retransmitTimer.arm(t.rto)
				}
			}

			if t.snd.dupacks >= dupAckThreshold {
				// We are in fast retransmit / fast recovery.
				smss := uint32(t.snd.mss)
				if t.snd.recover.LessThan(segAck) {
					// Full ACK: set cwnd to
					// min(ssthresh, max(FlightSize, SMSS) + SMSS)
					// and exit fast recovery.
					fs := t.flightSize()
					if fs < smss {
						fs = smss
					}
					cw := fs + smss
					if t.snd.ssthresh < cw {
						cw = t.snd.ssthresh
					}
					t.snd.cwnd = cw
					t.exitFastRecovery()
					setRetransmitTimer()
				} else {
					// Partial ACK: retransmit the first
					// unacknowledged segment and deflate the
					// congestion window by the newly acked
					// amount, adding back one SMSS when at
					// least that much was covered.
					t.fastRetransmit()
					t.snd.cwnd -= acked
					if acked >= smss {
						t.snd.cwnd += smss
					}
					// Stay in fast recovery; the first
					// partial ACK also restarts the
					// retransmit timer.
					t.snd.partialAck++
					if t.snd.partialAck == 1 {
						t.retransmitTimer.arm(t.rto)
					}
				}
			} else {
				// RFC 5681 defines duplicate ACKs as arriving
				// without any intervening ACK that moves
				// SND.UNA; this one moved it, so leave any
				// counting behind.
				t.exitFastRecovery()
				setRetransmitTimer()
			}
		} else if len(t.snd.data) > 0 && segLen == 0 &&
			!s.flagIsSet(flagFin) && !s.flagIsSet(flagSyn) &&
			segAck == t.snd.una && segWnd == t.snd.window {
			// RFC 793 says a duplicate ACK can be ignored; RFC 5681
			// says to use it to detect loss. We follow RFC 5681.
			t.snd.dupacks++
			smss := uint32(t.snd.mss)
			switch {
			case t.snd.dupacks < dupAckThreshold:
				// RFC 5681 step 3.1: limited transmit is
				// allowed, bounded in canSend.
				doOutputData = true
			case t.snd.dupacks == dupAckThreshold:
				// RFC 6582 step 3.2.
				if t.snd.recover.LessThan(segAck - 1) {
					t.snd.recover = t.snd.nxt - 1
					// RFC 5681 step 3.2.
					fs := t.flightSize()
					lt := t.snd.limitedTransfer
					if lt > fs {
						lt = fs
					}
					ss := (fs - lt) / 2
					if ss < 2*smss {
						ss = 2 * smss
					}
					t.snd.ssthresh = ss
					t.fastRetransmit()
				}
				// RFC 5681 step 3.3.
				t.snd.cwnd = t.snd.ssthresh + 3*smss
			default:
				// RFC 5681 steps 3.4 and 3.5.
				t.snd.cwnd += smss
				doOutputData = true
			}
		} else if t.snd.nxt.LessThan(segAck) {
			// The ACK acks something not yet sent: send an ACK and
			// drop the segment.
			t.output()
			return
		} else if t.snd.window == 0 && segWnd > 0 {
			// The zero window opened.
			updateWindow()
			doOutputData = true
		}
	}

	if t.inState(stateFinWait1) {
		// If our FIN is now acknowledged, enter FIN-WAIT-2.
		if segAck == t.snd.nxt+1 {
			t.state = stateFinWait2
			t.doLocalFinAcked()
		}
	}
	if t.inState(stateClosing) {
		if segAck == t.snd.nxt+1 {
			t.doLocalFinAcked()
			t.doTimeWait()
		}
		return
	}
	if t.inState(stateLastAck) {
		if segAck == t.snd.nxt+1 {
			t.doLocalFinAcked()
			t.doClosed()
			return
		}
	}

	// Seventh, process the segment text.
	if t.inState(stateEstablished | stateFinWait1 | stateFinWait2) {
		if len(s.data) > 0 {
			t.rcv.data = append(t.rcv.data, s.data)
			t.rcv.nxt = t.rcv.nxt.Add(segLen)
			merged := t.mergeOutOfOrder()
			t.signalDataReceived()
			if merged {
				// An incoming segment filled all or part of a
				// gap; ACK immediately.
				doOutput = true
			} else {
				doOutput = t.shouldSendACK(segLen)
			}
		}
	} else if t.inState(stateCloseWait | stateClosing | stateLastAck | stateTimeWait) {
		// A FIN has already been received from the peer; ignore the
		// segment text.
		return
	}

	// Eighth, check the FIN bit.
	if s.flagIsSet(flagFin) {
		if t.inState(stateClosed | stateListen | stateSynSent) {
			// SEG.SEQ cannot be validated in these states; drop.
			return
		}
		finSeq := segSeq.Add(segLen)
		if finSeq == t.rcv.nxt {
			t.rcv.nxt = finSeq + 1
			t.signalDataReceived()

			// If this segment carried data as well, the data and
			// the FIN share one ACK; cancel any pending delayed
			// ACK and send it now.
			t.clearDelayedAck()
			doOutput = false
			t.output()

			if t.inState(stateSynRcvd | stateEstablished) {
				t.state = stateCloseWait
			}
			if t.inState(stateFinWait1) {
				// Had our FIN been ACKed already we would be in
				// FIN-WAIT-2 by now.
				t.state = stateClosing
			}
			if t.inState(stateFinWait2) {
				t.doTimeWait()
				return
			}
		}
	}

	if doOutput || (doOutputData && t.canSend() > 0) {
		// An explicit segment will carry the ACK; cancel any scheduled
		// delayed ACK.
		t.clearDelayedAck()
		t.output()
	}
}

func (t *tcb) respondWithReset(s *segment) {
	t.p.respondWithReset(s, t.id.LocalAddress, t.id.RemoteAddress)
}

// abort kills the connection immediately, telling the peer with a RST. Used
// for connections that were queued on a listener but never accepted.
func (t *tcb) abort() {
	if t.inState(stateClosed) {
		return
	}
	v := buffer.NewView(header.TCPMinimumSize)
	header.TCP(v).Encode(&header.TCPFields{
		SrcPort:    t.id.LocalPort,
		DstPort:    t.id.RemotePort,
		SeqNum:     uint32(t.snd.nxt),
		AckNum:     uint32(t.rcv.nxt),
		DataOffset: header.TCPMinimumSize,
		Flags:      header.TCPFlagRst | header.TCPFlagAck,
	})
	t.p.fillChecksum(v, t.id.LocalAddress, t.id.RemoteAddress)
	t.p.sendPacketWithoutTCB(t.id.LocalAddress, t.id.RemoteAddress, v)
	t.doReset()
}

// maybeCompleteClose sends the FIN for a requested close once the send path
// has fully drained.
func (t *tcb) maybeCompleteClose() {
	if !t.closeRequested || t.snd.closed || t.inState(stateClosed) {
		return
	}
	if len(t.snd.data) != 0 || t.snd.unsentLen != 0 || t.snd.queuedLen != 0 {
		return
	}
	t.snd.closed = true
	if t.inState(stateCloseWait) {
		t.state = stateLastAck
	} else if t.inState(stateEstablished) {
		t.state = stateFinWait1
	}
	// Send <FIN> to remote. outputOne runs directly so that the FIN
	// segment is actually generated: a pull that finds packetq non-empty
	// would not create it.
	t.outputOne()
	t.output()
}
