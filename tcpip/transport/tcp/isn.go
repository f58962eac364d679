// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ictflysun/seastar/tcpip/seqnum"
)

// isnSecret is the process-wide 512-bit secret mixed into initial sequence
// numbers. It is generated once from the system random source and read-only
// thereafter.
var isnSecret struct {
	once sync.Once
	key  [64]byte
}

// generateISN computes the initial send sequence number for the connection.
//
// Per RFC 6528, TCP SHOULD generate its Initial Sequence Numbers with the
// expression:
//
//	ISN = M + F(localip, localport, remoteip, remoteport, secretkey)
//
// where M is the 4 microsecond timer and F is a pseudorandom function of the
// connection id; here F is the first 32 bits of the MD5 digest of the 4-tuple
// concatenated with the secret key.
func (t *tcb) generateISN() seqnum.Value {
	isnSecret.once.Do(func() {
		if _, err := rand.Read(isnSecret.key[:]); err != nil {
			panic(err)
		}
	})

	h := md5.New()
	h.Write([]byte(t.id.LocalAddress))
	h.Write([]byte(t.id.RemoteAddress))
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:], t.id.LocalPort)
	binary.BigEndian.PutUint16(ports[2:], t.id.RemotePort)
	h.Write(ports[:])
	h.Write(isnSecret.key[:])

	isn := binary.BigEndian.Uint32(h.Sum(nil))
	isn += uint32(time.Now().UnixNano() / int64(4*time.Microsecond))
	return seqnum.Value(isn)
}
