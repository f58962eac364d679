// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"encoding/binary"
	"time"

	"github.com/ictflysun/seastar/tcpip/header"
)

// options holds the option negotiation state of a connection: which options
// the peer offered, the values exchanged during the handshake, and the most
// recent peer timestamp to echo.
type options struct {
	wsReceived   bool
	tsReceived   bool
	sackReceived bool

	// remoteMSS is the maximum segment size the peer can receive.
	remoteMSS uint16

	// localMSS is the maximum segment size we can receive.
	localMSS uint16

	// remoteWS and localWS are the window scale shift counts for each
	// direction. remoteWS is zero unless the peer offered the option.
	remoteWS uint8
	localWS  uint8

	// recentTS is the last timestamp value received from the peer; it is
	// echoed in the TSEcr field of outbound segments once timestamps have
	// been negotiated.
	recentTS uint32
}

// parseSyn records the options carried by a SYN or SYN-ACK segment.
func (o *options) parseSyn(opts []byte, isAck bool) {
	so := header.ParseSynOptions(opts, isAck)

	o.remoteMSS = so.MSS
	if so.WS >= 0 {
		o.wsReceived = true
		o.remoteWS = uint8(so.WS)
	} else {
		o.remoteWS = 0
	}
	o.sackReceived = so.SACKPermitted
	if so.TS {
		o.tsReceived = true
		o.recentTS = so.TSVal
	}
}

// parse records the options carried by a non-SYN segment. Only the peer
// timestamp is of interest once the connection is synchronized.
func (o *options) parse(opts []byte) {
	if !o.tsReceived || len(opts) == 0 {
		return
	}
	if po := header.ParseTCPOptions(opts); po.TS {
		o.recentTS = po.TSVal
	}
}

// size returns the number of option bytes the next outbound segment carries,
// already padded to a multiple of four.
func (o *options) size(synOn, ackOn bool) int {
	sz := 0
	if synOn {
		// A plain SYN advertises everything we support; a SYN-ACK only
		// echoes what the peer offered.
		sz += 4 // MSS
		if !ackOn || o.wsReceived {
			sz += 3
		}
		if !ackOn || o.sackReceived {
			sz += 2
		}
		if !ackOn || o.tsReceived {
			sz += 10
		}
	} else if o.tsReceived {
		sz += 10
	}
	return (sz + 3) &^ 3
}

// fill writes the options into b, which must be exactly size(synOn, ackOn)
// bytes long. Leftover bytes are NOP padding.
func (o *options) fill(b []byte, synOn, ackOn bool) {
	i := 0
	if synOn {
		b[i] = header.TCPOptionMSS
		b[i+1] = 4
		binary.BigEndian.PutUint16(b[i+2:], o.localMSS)
		i += 4
		if !ackOn || o.wsReceived {
			b[i] = header.TCPOptionWS
			b[i+1] = 3
			b[i+2] = o.localWS
			i += 3
		}
		if !ackOn || o.sackReceived {
			b[i] = header.TCPOptionSACKPermitted
			b[i+1] = 2
			i += 2
		}
		if !ackOn || o.tsReceived {
			i += o.fillTS(b[i:])
		}
	} else if o.tsReceived {
		i += o.fillTS(b[i:])
	}
	for ; i < len(b); i++ {
		b[i] = header.TCPOptionNOP
	}
}

func (o *options) fillTS(b []byte) int {
	b[0] = header.TCPOptionTS
	b[1] = 10
	binary.BigEndian.PutUint32(b[2:], tcpTimestamp())
	binary.BigEndian.PutUint32(b[6:], o.recentTS)
	return 10
}

// tcpTimestamp returns the value used in the TSVal field of outbound
// timestamp options. We use the lower 32 bits of the unix time in
// milliseconds, the lowest resolution recommended by RFC 7323 section 5.4.
func tcpTimestamp() uint32 {
	return uint32(time.Now().UnixNano() / int64(time.Millisecond))
}
