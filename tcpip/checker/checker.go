// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checker provides helper functions to check emitted TCP segments
// for validity.
package checker

import (
	"bytes"
	"testing"

	"github.com/ictflysun/seastar/tcpip/buffer"
	"github.com/ictflysun/seastar/tcpip/header"
)

// TransportChecker is a function to check a property of a TCP segment.
type TransportChecker func(*testing.T, header.TCP)

// TCP checks the validity and properties of the given segment. It is
// expected to be used in conjunction with other checkers for specific
// properties. For example, to check the ports, one would call:
//
//	checker.TCP(t, b, checker.SrcPort(x), checker.DstPort(y))
func TCP(t *testing.T, v buffer.View, checkers ...TransportChecker) {
	t.Helper()
	if len(v) < header.TCPMinimumSize {
		t.Fatalf("segment too short to be a TCP header: %d bytes", len(v))
	}
	h := header.TCP(v)
	if int(h.DataOffset()) < header.TCPMinimumSize || int(h.DataOffset()) > len(v) {
		t.Fatalf("bad data offset %d for segment of %d bytes", h.DataOffset(), len(v))
	}
	for _, f := range checkers {
		f(t, h)
	}
}

// SrcPort creates a checker that checks the source port.
func SrcPort(port uint16) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.SourcePort(); got != port {
			t.Errorf("unexpected source port, got %d, want %d", got, port)
		}
	}
}

// DstPort creates a checker that checks the destination port.
func DstPort(port uint16) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.DestinationPort(); got != port {
			t.Errorf("unexpected destination port, got %d, want %d", got, port)
		}
	}
}

// SeqNum creates a checker that checks the sequence number.
func SeqNum(seq uint32) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.SequenceNumber(); got != seq {
			t.Errorf("unexpected sequence number, got %d, want %d", got, seq)
		}
	}
}

// AckNum creates a checker that checks the ack number.
func AckNum(ack uint32) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.AckNumber(); got != ack {
			t.Errorf("unexpected ack number, got %d, want %d", got, ack)
		}
	}
}

// TCPFlags creates a checker that checks the tcp flags.
func TCPFlags(flags uint8) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.Flags(); got != flags {
			t.Errorf("unexpected flags, got %#x, want %#x", got, flags)
		}
	}
}

// TCPFlagsMatch creates a checker that checks the tcp flags, masked by the
// given mask.
func TCPFlagsMatch(flags, mask uint8) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.Flags(); got&mask != flags&mask {
			t.Errorf("unexpected flags, got %#x, want %#x, mask %#x", got, flags, mask)
		}
	}
}

// Window creates a checker that checks the unscaled window field.
func Window(window uint16) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.WindowSize(); got != window {
			t.Errorf("unexpected window, got %d, want %d", got, window)
		}
	}
}

// PayloadLen creates a checker that checks the payload length.
func PayloadLen(l int) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := len(h.Payload()); got != l {
			t.Errorf("unexpected payload length, got %d, want %d", got, l)
		}
	}
}

// Payload creates a checker that checks the payload bytes.
func Payload(want []byte) TransportChecker {
	return func(t *testing.T, h header.TCP) {
		t.Helper()
		if got := h.Payload(); !bytes.Equal(got, want) {
			t.Errorf("unexpected payload, got %q, want %q", got, want)
		}
	}
}
