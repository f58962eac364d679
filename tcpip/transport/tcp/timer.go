// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"
)

// timer is a one-shot timer whose callback runs holding the shard lock.
// Arming while armed re-arms; a disarmed timer whose runtime callback was
// already in flight is detected via the generation counter and ignored.
//
// All methods must be called with the shard lock held.
type timer struct {
	p     *Protocol
	f     func()
	t     *time.Timer
	armed bool
	gen   uint64
}

func newTimer(p *Protocol, f func()) *timer {
	return &timer{p: p, f: f}
}

// arm schedules the timer to fire after the given duration, replacing any
// earlier deadline.
func (tm *timer) arm(d time.Duration) {
	tm.gen++
	gen := tm.gen
	tm.armed = true
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.t = time.AfterFunc(d, func() {
		tm.p.mu.Lock()
		defer tm.p.mu.Unlock()
		if !tm.armed || tm.gen != gen {
			return
		}
		tm.armed = false
		tm.f()
	})
}

// disarm cancels the timer. The callback will not run, even if the runtime
// timer has already fired.
func (tm *timer) disarm() {
	tm.gen++
	tm.armed = false
	if tm.t != nil {
		tm.t.Stop()
	}
}

// enabled returns whether the timer is currently pending.
func (tm *timer) enabled() bool {
	return tm.armed
}
