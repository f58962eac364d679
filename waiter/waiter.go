// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package waiter provides the implementation of a wait queue, where waiters
// can be enqueued to be notified when an event of interest happens.
//
// Becoming readable and/or writable are examples of events. Waiters are
// expected to use a pattern similar to this to make a blocking function out
// of a non-blocking one:
//
//	func (o *object) blockingRead(...) error {
//		err := o.nonBlockingRead(...)
//		if err != errWouldBlock {
//			// Completed, no need to wait.
//			return err
//		}
//
//		e, ch := waiter.NewChannelEntry(nil)
//		o.EventRegister(&e, waiter.EventIn)
//		defer o.EventUnregister(&e)
//
//		// We need to try to read again after registration because the
//		// object may have become readable in the meantime.
//		err = o.nonBlockingRead(...)
//		for err == errWouldBlock {
//			<-ch
//			err = o.nonBlockingRead(...)
//		}
//
//		return err
//	}
package waiter

import (
	"sync"
)

// EventMask represents io events as used in the poll() syscall.
type EventMask uint16

// Events that waiters can wait on. The meaning is the same as those in the
// poll() syscall.
const (
	EventIn  EventMask = 0x01 // syscall.EPOLLIN
	EventOut EventMask = 0x04 // syscall.EPOLLOUT
	EventErr EventMask = 0x08 // syscall.EPOLLERR
	EventHUp EventMask = 0x10 // syscall.EPOLLHUP
)

// Entry represents a waiter that can be added to a wait queue. The queue
// keeps a pointer to it in a slice until it is unregistered.
type Entry struct {
	// Context is used by callers to store arbitrary data.
	Context interface{}

	// Callback is the function to be called when the waiter entry is
	// notified. It is responsible for doing whatever is needed to wake up
	// the waiter.
	Callback func(e *Entry)

	mask EventMask
}

// NewChannelEntry initializes a new Entry that does a non-blocking write to
// a struct{} channel when the callback is called. It returns the new Entry
// instance and the channel being used.
//
// If a channel isn't specified (i.e., if "c" is nil), then NewChannelEntry
// allocates a new channel.
func NewChannelEntry(c chan struct{}) (Entry, chan struct{}) {
	if c == nil {
		c = make(chan struct{}, 1)
	}

	return Entry{
		Context: c,
		Callback: func(e *Entry) {
			ch := e.Context.(chan struct{})
			select {
			case ch <- struct{}{}:
			default:
			}
		},
	}, c
}

// Queue represents the wait queue where waiters can be added and
// notifiers can notify them when events happen.
//
// The zero value for waiter.Queue is an empty queue ready for use.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
}

// EventRegister adds a waiter to the wait queue; the waiter will be notified
// when at least one of the events specified in mask happens.
func (q *Queue) EventRegister(e *Entry, mask EventMask) {
	q.mu.Lock()
	e.mask = mask
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// EventUnregister removes the given waiter entry from the wait queue.
func (q *Queue) EventUnregister(e *Entry) {
	q.mu.Lock()
	for i, entry := range q.entries {
		if entry == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

// Notify notifies all waiters in the queue whose masks have at least one bit
// in common with the notification mask.
func (q *Queue) Notify(mask EventMask) {
	q.mu.Lock()
	for _, e := range q.entries {
		if (mask & e.mask) != 0 {
			e.Callback(e)
		}
	}
	q.mu.Unlock()
}

// IsEmpty returns if the wait queue is empty or not.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0
}
