// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sniffer wraps the engine's packet-provider pull and inbound
// delivery, logging each TCP segment as it passes. It is meant for tests
// and debugging sessions, not for the hot path.
package sniffer

import (
	"fmt"
	"log"

	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/header"
)

// NewProvider returns a provider pull that logs every segment produced by
// the wrapped pull.
func NewProvider(poll func() *tcpip.PacketOut) func() *tcpip.PacketOut {
	return func() *tcpip.PacketOut {
		pkt := poll()
		if pkt != nil {
			logSegment("send", pkt.Packet)
		}
		return pkt
	}
}

// NewReceiver returns an inbound delivery callback that logs every segment
// before handing it to the wrapped one.
func NewReceiver(received func(buffer.View, tcpip.Address, tcpip.Address)) func(buffer.View, tcpip.Address, tcpip.Address) {
	return func(v buffer.View, from, to tcpip.Address) {
		logSegment("recv", v)
		received(v, from, to)
	}
}

func flagsString(flags uint8) string {
	var s []byte
	names := "FSRPAU"
	for i := uint(0); i < 6; i++ {
		if flags&(1<<i) != 0 {
			s = append(s, names[i])
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return string(s)
}

func logSegment(prefix string, v buffer.View) {
	if len(v) < header.TCPMinimumSize {
		log.Printf("%s short tcp segment (%d bytes)", prefix, len(v))
		return
	}
	h := header.TCP(v)
	details := fmt.Sprintf("flags:%s seq:%d ack:%d win:%d len:%d",
		flagsString(h.Flags()), h.SequenceNumber(), h.AckNumber(), h.WindowSize(), len(h.Payload()))
	log.Printf("%s tcp %d -> %d %s", prefix, h.SourcePort(), h.DestinationPort(), details)
}
