// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"fmt"

	"github.com/dtn7/dgram-go/pkg/packet"
)

// SendEntry is one outgoing datagram awaiting transmission or acknowledgement.
type SendEntry struct {
	Payload     []byte
	Sequence    uint32
	RequiresAck bool

	// Address is the destination. Point-to-point channels ignore it and use
	// their bound Address at transmission time.
	Address packet.Address

	RetryCount  int
	FirstSentAt uint64
	LastSentAt  uint64

	// Sent is set after the first successful transmission.
	Sent  bool
	Acked bool
}

func (e SendEntry) String() string {
	return fmt.Sprintf("SendEntry(seq: %d, ack: %t, retries: %d, acked: %t)",
		e.Sequence, e.RequiresAck, e.RetryCount, e.Acked)
}

// ReceiveEntry is one received datagram awaiting the application.
type ReceiveEntry struct {
	Payload  []byte
	Address  packet.Address
	Sequence uint32

	// Product is the sender's declared product Magic, only set for broadcast
	// traffic.
	Product packet.Magic
}

// dedupKey identifies an accepted datagram.
type dedupKey struct {
	addr packet.Address
	seq  uint32
}

// recentSet remembers the last n keys, evicting the oldest first.
type recentSet struct {
	keys  map[dedupKey]struct{}
	ring  []dedupKey
	next  int
	limit int
}

func newRecentSet(limit int) *recentSet {
	return &recentSet{
		keys:  make(map[dedupKey]struct{}, limit),
		ring:  make([]dedupKey, 0, limit),
		limit: limit,
	}
}

func (rs *recentSet) contains(k dedupKey) bool {
	_, ok := rs.keys[k]
	return ok
}

func (rs *recentSet) add(k dedupKey) {
	if rs.limit == 0 || rs.contains(k) {
		return
	}

	if len(rs.ring) < rs.limit {
		rs.ring = append(rs.ring, k)
	} else {
		delete(rs.keys, rs.ring[rs.next])
		rs.ring[rs.next] = k
		rs.next = (rs.next + 1) % rs.limit
	}
	rs.keys[k] = struct{}{}
}
