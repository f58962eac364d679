// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcpip provides the core types shared by the protocol engine and
// its collaborators: addresses, error values, hardware capability
// descriptions and the packet-provider product type.
package tcpip

import (
	"fmt"

	"github.com/ictflysun/seastar/tcpip/buffer"
)

// Error represents an error in the tcpip error space. Using a special type
// ensures that errors outside of this space are not accidentally introduced.
type Error struct {
	msg string
}

// String implements fmt.Stringer.String.
func (e *Error) String() string {
	return e.msg
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.msg
}

// Errors that can be returned by the network stack.
var (
	ErrConnectionReset   = &Error{msg: "connection reset by peer"}
	ErrConnectionRefused = &Error{msg: "connection was refused"}
	ErrConnectFailed     = &Error{msg: "fail to connect"}
	ErrClosedForSend     = &Error{msg: "endpoint is closed for send"}
	ErrPortInUse         = &Error{msg: "port is in use"}
	ErrNoPortAvailable   = &Error{msg: "no ports are available"}
	ErrInvalidState      = &Error{msg: "endpoint is in invalid state"}
)

// Address is a byte slice cast as a string that represents the address of a
// network node. Or, when we support the host interface, it may represent a
// path to a unix socket.
type Address string

// LinkAddress is a byte slice cast as a string that represents a link
// address. It is typically a 6-byte MAC address.
type LinkAddress string

// String implements the fmt.Stringer interface.
func (a LinkAddress) String() string {
	switch len(a) {
	case 6:
		return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
	default:
		return fmt.Sprintf("%x", []byte(a))
	}
}

// FullAddress represents a full transport node address, as required by
// Protocol.Connect.
type FullAddress struct {
	// Addr is the network address.
	Addr Address

	// Port is the transport port.
	Port uint16
}

// TransportProtocolNumber is the number of a transport protocol.
type TransportProtocolNumber uint32

// HWFeatures describes the capabilities of the device the engine emits
// packets through. The engine sizes its segments and fills (or skips)
// checksums based on these.
type HWFeatures struct {
	// MTU is the maximum size of an IP packet the device can carry.
	MTU uint32

	// MaxPacketLen is the largest aggregate the device accepts when TSO
	// is available. Only meaningful when TSO is true.
	MaxPacketLen uint32

	// TSO indicates that the device performs TCP segmentation offload, so
	// payloads larger than the MTU may be handed to it.
	TSO bool

	// TXChecksumOffload indicates that the device fills in the TCP
	// checksum on transmit; the engine only seeds the pseudo-header sum.
	TXChecksumOffload bool

	// RXChecksumOffload indicates that the device has already verified
	// the TCP checksum of inbound packets.
	RXChecksumOffload bool
}

// NetworkInterface is the surface the engine needs from the surrounding L3
// stack: device capabilities, the local address used for active opens, and
// asynchronous next-hop link address resolution.
type NetworkInterface interface {
	// HWFeatures returns the device capabilities.
	HWFeatures() HWFeatures

	// LocalAddress returns the host address used as the source of active
	// opens.
	LocalAddress() Address

	// ResolveLinkAddr resolves the link address of the given next hop and
	// invokes done exactly once with the result. done may be invoked
	// inline when the mapping is already cached.
	ResolveLinkAddr(addr Address, done func(LinkAddress))
}

// PacketOut is an outbound transport segment as handed to the surrounding
// stack by the packet-provider pull hook. The payload starts at the
// transport header; L3/L2 framing is the caller's business.
type PacketOut struct {
	// RemoteAddress is the IP destination of the packet.
	RemoteAddress Address

	// Packet holds the transport header and payload.
	Packet buffer.View

	// LinkAddr is the resolved L2 destination.
	LinkAddr LinkAddress
}
