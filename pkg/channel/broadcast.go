// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// Broadcast is the address-agnostic channel. It may send to and receive from
// any peer and carries this node's product Magic in each datagram.
type Broadcast struct {
	link
}

// NewBroadcast creates the Broadcast channel for a node with the given product
// Magic. Duplicates are always suppressed per sender.
func NewBroadcast(tr transport.Transport, product packet.Magic, conf queue.Config) *Broadcast {
	conf.DedupPerSender = true

	return &Broadcast{link{
		tr:      tr,
		magic:   packet.MagicBroadcast,
		product: product,
		queue:   queue.New(conf),
		logger:  log.WithField("channel", "broadcast"),
	}}
}

// Send a datagram. A zero dest or packet.BroadcastAddress addresses every
// reachable peer with a single queue entry.
func (b *Broadcast) Send(data []byte, requiresAck bool, dest packet.Address, now uint64) error {
	if dest.IsZero() {
		dest = packet.BroadcastAddress
	}

	_, err := b.queue.EnqueueSend(data, requiresAck, dest, now)
	return err
}

// Receive the oldest datagram with its sender Address and the sender's
// declared product Magic.
func (b *Broadcast) Receive() (data []byte, from packet.Address, product packet.Magic, ok bool) {
	e, ok := b.queue.DequeueReceive()
	if !ok {
		return
	}
	return e.Payload, e.Address, e.Product, true
}

// Deliver a Packet with the broadcast Magic received from an Address.
func (b *Broadcast) Deliver(p packet.Packet, from packet.Address, now uint64) {
	b.deliver(p, from, now)
}

// Service transmits and retransmits queued datagrams. A failing datagram
// results in dropping the oldest outstanding one; the channel is always
// reported healthy.
func (b *Broadcast) Service(now uint64) bool {
	if healthy := b.queue.Service(now, b.transmitTo(nil)); !healthy {
		if b.queue.ForceDropOldestSend() {
			b.logger.WithFields(log.Fields{
				"tick":  now,
				"queue": b.queue,
			}).Warn("Broadcast stalled, dropped oldest datagram")
		}
	}
	return true
}

// Queue exposes the underlying queue.Queue for statistics and timing.
func (b *Broadcast) Queue() *queue.Queue {
	return b.queue
}

func (b *Broadcast) String() string {
	return fmt.Sprintf("Broadcast(%v, %v)", b.product, b.queue)
}
