// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"errors"
	"fmt"

	"github.com/dtn7/dgram-go/pkg/packet"
)

var (
	// ErrSendFull is returned by EnqueueSend for a full send list.
	ErrSendFull = errors.New("send queue is full")

	// ErrReceiveFull is returned by EnqueueReceive for a full receive list.
	ErrReceiveFull = errors.New("receive queue is full")

	// ErrDuplicate is returned by EnqueueReceive for an already accepted datagram.
	ErrDuplicate = errors.New("duplicate datagram")
)

// TransmitFunc hands a SendEntry to the transport and reports success.
type TransmitFunc func(*SendEntry) bool

// Queue is a bounded send and receive list with retry timing and
// acknowledgement matching. A Queue is not safe for concurrent use.
type Queue struct {
	conf Config

	sequence uint32

	send    []*SendEntry
	receive []ReceiveEntry

	sendOverflow    uint64
	receiveOverflow uint64

	responseTotal uint64
	responseCount uint64

	recent *recentSet
}

// New creates an empty Queue.
func New(conf Config) *Queue {
	return &Queue{
		conf:     conf,
		sequence: conf.FirstSequence,
		send:     make([]*SendEntry, 0, conf.MaxSend),
		receive:  make([]ReceiveEntry, 0, conf.MaxReceive),
		recent:   newRecentSet(conf.DedupWindow),
	}
}

// Timing returns the current retry policy.
func (q *Queue) Timing() Timing {
	return q.conf.Timing
}

// SetTiming replaces the retry policy. Outstanding entries keep their
// timestamps and are judged by the new policy from the next Service on.
func (q *Queue) SetTiming(t Timing) {
	q.conf.Timing = t
}

// EnqueueSend appends a new SendEntry and returns its Sequence. The entry will
// be transmitted on the next Service.
func (q *Queue) EnqueueSend(payload []byte, requiresAck bool, addr packet.Address, now uint64) (uint32, error) {
	if len(q.send) >= q.conf.MaxSend {
		q.sendOverflow++
		return 0, ErrSendFull
	}

	// Zero is never issued, it marks a rejected EnqueueSend.
	if q.sequence++; q.sequence == 0 {
		q.sequence++
	}
	q.send = append(q.send, &SendEntry{
		Payload:     append([]byte(nil), payload...),
		Sequence:    q.sequence,
		RequiresAck: requiresAck,
		Address:     addr,
		FirstSentAt: now,
	})
	return q.sequence, nil
}

// LastSequence is the most recently issued Sequence, or FirstSequence if
// nothing was enqueued yet.
func (q *Queue) LastSequence() uint32 {
	return q.sequence
}

// SequenceAfter compares two Sequences in serial number arithmetic, so that
// a wrapped counter still counts as later.
func SequenceAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// IsFull checks if another EnqueueSend would be rejected.
func (q *Queue) IsFull() bool {
	return len(q.send) >= q.conf.MaxSend
}

func (q *Queue) dedupKey(e ReceiveEntry) dedupKey {
	if q.conf.DedupPerSender {
		return dedupKey{addr: e.Address, seq: e.Sequence}
	}
	return dedupKey{seq: e.Sequence}
}

// IsDuplicate checks if a datagram with this Address and Sequence was already
// accepted recently.
func (q *Queue) IsDuplicate(addr packet.Address, sequence uint32) bool {
	return q.recent.contains(q.dedupKey(ReceiveEntry{Address: addr, Sequence: sequence}))
}

// EnqueueReceive appends a received datagram. A full receive list drops the
// datagram and counts the overflow; a recently accepted datagram is rejected
// with ErrDuplicate without being counted.
func (q *Queue) EnqueueReceive(e ReceiveEntry) error {
	key := q.dedupKey(e)
	if q.recent.contains(key) {
		return ErrDuplicate
	}

	if len(q.receive) >= q.conf.MaxReceive {
		q.receiveOverflow++
		return ErrReceiveFull
	}

	q.receive = append(q.receive, e)
	q.recent.add(key)
	return nil
}

// DequeueReceive pops the oldest received datagram.
func (q *Queue) DequeueReceive() (e ReceiveEntry, ok bool) {
	if len(q.receive) == 0 {
		return
	}

	e, ok = q.receive[0], true
	q.receive[0] = ReceiveEntry{}
	q.receive = q.receive[1:]
	return
}

// OnAckReceived marks the outstanding entry with this Sequence as acknowledged
// and folds its round trip into the average response time. The entry is
// removed on the next Service.
func (q *Queue) OnAckReceived(sequence uint32, now uint64) bool {
	for _, e := range q.send {
		if e.Sequence != sequence || !e.RequiresAck || e.Acked {
			continue
		}

		e.Acked = true
		q.responseTotal += elapsed(now, e.FirstSentAt)
		q.responseCount++
		return true
	}
	return false
}

// elapsed is now - then, clamped to zero for ticks running backwards.
func elapsed(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}

// Service transmits new entries, retransmits unacknowledged ones whose
// RetryDelta passed, and drops acknowledged and fire-and-forget entries.
//
// The Queue is unhealthy if an unacknowledged entry exceeded the Timeout or
// needs a retransmission beyond MaxRetries. Such entries stay queued; the
// owning channel decides what to do about them.
func (q *Queue) Service(now uint64, transmit TransmitFunc) (healthy bool) {
	healthy = true

	kept := q.send[:0]
	for _, e := range q.send {
		if e.Acked {
			continue
		}

		if !e.RequiresAck {
			// Fire and forget: a single attempt, successful or not.
			if transmit(e) {
				e.Sent, e.LastSentAt = true, now
			}
			continue
		}

		switch {
		case elapsed(now, e.FirstSentAt) >= q.conf.Timeout:
			healthy = false

		case !e.Sent:
			if transmit(e) {
				e.Sent, e.LastSentAt = true, now
			}

		case elapsed(now, e.LastSentAt) >= q.conf.RetryDelta:
			if q.conf.MaxRetries != UnlimitedRetries && e.RetryCount >= q.conf.MaxRetries {
				healthy = false
			} else if transmit(e) {
				e.RetryCount++
				e.LastSentAt = now
			}
		}

		kept = append(kept, e)
	}

	for i := len(kept); i < len(q.send); i++ {
		q.send[i] = nil
	}
	q.send = kept

	return
}

// ForceDropOldestSend removes the oldest unacknowledged entry, no matter its
// state. It returns false if there was nothing to drop.
func (q *Queue) ForceDropOldestSend() bool {
	for i, e := range q.send {
		if e.Acked {
			continue
		}

		copy(q.send[i:], q.send[i+1:])
		q.send[len(q.send)-1] = nil
		q.send = q.send[:len(q.send)-1]
		return true
	}
	return false
}

// NumSend is the amount of queued outgoing entries.
func (q *Queue) NumSend() int {
	return len(q.send)
}

// NumReceive is the amount of queued incoming entries.
func (q *Queue) NumReceive() int {
	return len(q.receive)
}

// MaxSend is the send list's capacity.
func (q *Queue) MaxSend() int {
	return q.conf.MaxSend
}

// MaxReceive is the receive list's capacity.
func (q *Queue) MaxReceive() int {
	return q.conf.MaxReceive
}

// SendOverflow counts rejected EnqueueSend calls.
func (q *Queue) SendOverflow() uint64 {
	return q.sendOverflow
}

// ReceiveOverflow counts datagrams dropped on a full receive list.
func (q *Queue) ReceiveOverflow() uint64 {
	return q.receiveOverflow
}

// AvgResponseTime is the average amount of ticks between enqueuing and
// acknowledgement, zero without any samples.
func (q *Queue) AvgResponseTime() uint64 {
	if q.responseCount == 0 {
		return 0
	}
	return q.responseTotal / q.responseCount
}

// ResetResponseTime discards all response time samples.
func (q *Queue) ResetResponseTime() {
	q.responseTotal, q.responseCount = 0, 0
}

// SendEntries returns copies of all queued outgoing entries, oldest first.
func (q *Queue) SendEntries() []SendEntry {
	entries := make([]SendEntry, len(q.send))
	for i, e := range q.send {
		entries[i] = *e
	}
	return entries
}

func (q *Queue) String() string {
	return fmt.Sprintf("Queue(send: %d/%d, receive: %d/%d)",
		len(q.send), q.conf.MaxSend, len(q.receive), q.conf.MaxReceive)
}
