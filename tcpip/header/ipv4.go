// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

const (
	// IPv4MinimumSize is the minimum size of a valid IPv4 packet header.
	IPv4MinimumSize = 20

	// IPv4AddressSize is the size, in bytes, of an IPv4 address.
	IPv4AddressSize = 4
)
