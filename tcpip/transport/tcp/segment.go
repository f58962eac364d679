package tcp

import (
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/header"
	"github.com/ictflysun/seastar/tcpip/seqnum"
)

// Flags that may be set in a TCP segment.
const (
	flagFin = 1 << iota
	flagSyn
	flagRst
	flagPsh
	flagAck
	flagUrg
)

// segment represents an inbound TCP segment. It holds the payload and parsed
// TCP segment information.
type segment struct {
	id      ConnID
	data    buffer.View
	options []byte

	sequenceNumber seqnum.Value
	ackNumber      seqnum.Value
	flags          uint8
	window         seqnum.Size // as received, before scaling
}

func newSegment(id ConnID, v buffer.View) *segment {
	return &segment{
		id:   id,
		data: v,
	}
}

func (s *segment) flagIsSet(flag uint8) bool {
	return (s.flags & flag) != 0
}

// logicalLen is the segment length in the sequence number space. It's defined
// as the data length plus one for each of the SYN and FIN bits set.
func (s *segment) logicalLen() seqnum.Size {
	l := seqnum.Size(len(s.data))
	if s.flagIsSet(flagSyn) {
		l++
	}
	if s.flagIsSet(flagFin) {
		l++
	}
	return l
}

// parse populates the sequence & ack numbers, flags, window and option
// fields of the segment from the TCP header stored in the data. It then
// updates the view to skip the header. Returns boolean indicating if the
// parsing was successful.
func (s *segment) parse() bool {
	h := header.TCP(s.data)

	// h is the header followed by the payload. We check that the offset to
	// the data respects the following constraints:
	// 1. That it's at least the minimum header size; if we don't do this
	//    then part of the header would be delivered to user.
	// 2. That the header fits within the buffer; if we don't do this, we
	//    would panic when we tried to access data beyond the buffer.
	//
	// N.B. The segment has already been validated as having at least the
	//      minimum TCP size before reaching here, so it's safe to read the
	//      fields.
	if offset := int(h.DataOffset()); offset < header.TCPMinimumSize || offset > len(h) {
		return false
	}

	s.options = []byte(h.Options())
	s.data.TrimFront(int(h.DataOffset()))

	s.sequenceNumber = seqnum.Value(h.SequenceNumber())
	s.ackNumber = seqnum.Value(h.AckNumber())
	s.flags = h.Flags()
	s.window = seqnum.Size(h.WindowSize())

	return true
}
