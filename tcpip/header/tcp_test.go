// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ictflysun/seastar/tcpip"
	"github.com/ictflysun/seastar/tcpip/header"
)

func TestEncodeDecode(t *testing.T) {
	b := make([]byte, header.TCPMinimumSize)
	want := header.TCPFields{
		SrcPort:    1234,
		DstPort:    80,
		SeqNum:     0xdeadbeef,
		AckNum:     0x0badcafe,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.TCPFlagSyn | header.TCPFlagAck,
		WindowSize: 29200,
		Checksum:   0x1234,
	}
	header.TCP(b).Encode(&want)

	h := header.TCP(b)
	got := header.TCPFields{
		SrcPort:    h.SourcePort(),
		DstPort:    h.DestinationPort(),
		SeqNum:     h.SequenceNumber(),
		AckNum:     h.AckNumber(),
		DataOffset: h.DataOffset(),
		Flags:      h.Flags(),
		WindowSize: h.WindowSize(),
		Checksum:   h.Checksum(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("header fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSynOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []byte
		isAck bool
		want  header.TCPSynOptions
	}{
		{
			name: "Empty",
			opts: nil,
			want: header.TCPSynOptions{MSS: 536, WS: -1},
		},
		{
			name: "MSSAndWS",
			opts: []byte{
				header.TCPOptionMSS, 4, 5, 0xb4,
				header.TCPOptionWS, 3, 7, header.TCPOptionNOP,
			},
			want: header.TCPSynOptions{MSS: 1460, WS: 7},
		},
		{
			name: "WSTooLarge",
			opts: []byte{header.TCPOptionWS, 3, 20, header.TCPOptionNOP},
			want: header.TCPSynOptions{MSS: 536, WS: header.MaxWndScale},
		},
		{
			name: "SACKPermitted",
			opts: []byte{
				header.TCPOptionSACKPermitted, 2,
				header.TCPOptionNOP, header.TCPOptionNOP,
			},
			want: header.TCPSynOptions{MSS: 536, WS: -1, SACKPermitted: true},
		},
		{
			name: "TimestampsOnSyn",
			opts: []byte{
				header.TCPOptionNOP, header.TCPOptionNOP,
				header.TCPOptionTS, 10, 0, 0, 0, 1, 0, 0, 0, 2,
			},
			want: header.TCPSynOptions{MSS: 536, WS: -1, TS: true, TSVal: 1},
		},
		{
			name:  "TimestampsOnSynAck",
			opts:  []byte{header.TCPOptionTS, 10, 0, 0, 0, 1, 0, 0, 0, 2, header.TCPOptionNOP, header.TCPOptionNOP},
			isAck: true,
			want:  header.TCPSynOptions{MSS: 536, WS: -1, TS: true, TSVal: 1, TSEcr: 2},
		},
		{
			name: "EOLStopsParsing",
			opts: []byte{
				header.TCPOptionEOL,
				header.TCPOptionMSS, 4, 5, 0xb4,
			},
			want: header.TCPSynOptions{MSS: 536, WS: -1},
		},
		{
			name: "TruncatedMSS",
			opts: []byte{header.TCPOptionMSS, 4, 5},
			want: header.TCPSynOptions{MSS: 536, WS: -1},
		},
		{
			name: "UnknownOptionSkipped",
			opts: []byte{
				254, 4, 0, 0,
				header.TCPOptionMSS, 4, 5, 0xb4,
			},
			want: header.TCPSynOptions{MSS: 1460, WS: -1},
		},
		{
			name: "BadUnknownLength",
			opts: []byte{254, 1, header.TCPOptionMSS, 4, 5, 0xb4},
			want: header.TCPSynOptions{MSS: 536, WS: -1},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := header.ParseSynOptions(test.opts, test.isAck)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParseSynOptions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseTCPOptions(t *testing.T) {
	b := header.EncodeTSOption(0xa1b2c3d4, 0x01020304)
	got := header.ParseTCPOptions(b[:])
	want := header.TCPOptions{TS: true, TSVal: 0xa1b2c3d4, TSEcr: 0x01020304}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseTCPOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestChecksum(t *testing.T) {
	// RFC 1071 example: the sum of the words below is 0xddf2; its ones'
	// complement is 0x220d.
	buf := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	if got := header.Checksum(buf, 0); got != 0xddf2 {
		t.Errorf("Checksum = %#x, want 0xddf2", got)
	}
	if got := ^header.Checksum(buf, 0); got != 0x220d {
		t.Errorf("^Checksum = %#x, want 0x220d", got)
	}

	// Odd number of bytes: the last byte is padded with a zero.
	odd := []byte{0x01, 0x02, 0x03}
	if got := header.Checksum(odd, 0); got != 0x0402 {
		t.Errorf("Checksum(odd) = %#x, want 0x0402", got)
	}
}

func TestPseudoHeaderChecksum(t *testing.T) {
	src := tcpip.Address("\x0a\x00\x00\x01")
	dst := tcpip.Address("\x0a\x00\x00\x02")
	got := header.PseudoHeaderChecksum(header.TCPProtocolNumber, src, dst)

	// 0a00 + 0001 + 0a00 + 0002 + 0006 = 0x1409.
	if got != 0x1409 {
		t.Errorf("PseudoHeaderChecksum = %#x, want 0x1409", got)
	}
}
