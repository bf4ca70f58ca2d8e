// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// DefaultInboxSize is used for an Inbox without a configured size.
const DefaultInboxSize = 256

// Inbox buffers datagrams between a reading goroutine and the non-blocking
// Receive method of a Transport. Push and Pop may be called concurrently.
type Inbox struct {
	name    string
	ch      chan Datagram
	dropped uint64
}

// NewInbox creates an Inbox holding up to size datagrams.
func NewInbox(name string, size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{
		name: name,
		ch:   make(chan Datagram, size),
	}
}

// Push a Datagram without blocking. A full Inbox drops the Datagram.
func (inbox *Inbox) Push(d Datagram) bool {
	select {
	case inbox.ch <- d:
		return true
	default:
		n := atomic.AddUint64(&inbox.dropped, 1)
		log.WithFields(log.Fields{
			"transport": inbox.name,
			"from":      d.From,
			"dropped":   n,
		}).Debug("Inbox is full, dropping datagram")
		return false
	}
}

// Pop the oldest Datagram without blocking.
func (inbox *Inbox) Pop() (d Datagram, ok bool) {
	select {
	case d = <-inbox.ch:
		ok = true
	default:
	}
	return
}

// Len is the amount of buffered datagrams.
func (inbox *Inbox) Len() int {
	return len(inbox.ch)
}

// Dropped counts datagrams lost on a full Inbox.
func (inbox *Inbox) Dropped() uint64 {
	return atomic.LoadUint64(&inbox.dropped)
}
