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

// ID is the application assigned identity of a Connection.
type ID int

// NoneID is the reserved "no connection" ID.
const NoneID ID = -1

func (id ID) String() string {
	if id == NoneID {
		return "none"
	}
	return fmt.Sprintf("%d", int(id))
}

// Connection is a point-to-point channel to the peer at its bound Address.
type Connection struct {
	link

	id   ID
	name string
	addr packet.Address
}

// NewConnection creates a Connection for the peer at addr. Its traffic is
// tagged with the node's product Magic. The ID must not be NoneID.
func NewConnection(id ID, name string, addr packet.Address, tr transport.Transport, product packet.Magic, conf queue.Config) *Connection {
	conf.DedupPerSender = false

	return &Connection{
		link: link{
			tr:      tr,
			magic:   product,
			product: product,
			queue:   queue.New(conf),
			logger: log.WithFields(log.Fields{
				"connection": id,
				"name":       name,
			}),
		},
		id:   id,
		name: name,
		addr: addr,
	}
}

// ID of this Connection, fixed for its lifetime.
func (c *Connection) ID() ID {
	return c.id
}

// Name of this Connection.
func (c *Connection) Name() string {
	return c.name
}

// Address is the currently bound peer Address.
func (c *Connection) Address() packet.Address {
	return c.addr
}

// Rebind this Connection to a new peer Address. Outstanding datagrams are
// retransmitted to the new Address.
func (c *Connection) Rebind(addr packet.Address) {
	c.logger.WithFields(log.Fields{
		"old": c.addr,
		"new": addr,
	}).Info("Rebinding connection to new address")

	c.addr = addr
}

// Send a datagram to the peer.
func (c *Connection) Send(data []byte, requiresAck bool, now uint64) error {
	_, err := c.queue.EnqueueSend(data, requiresAck, c.addr, now)
	return err
}

// Receive the oldest datagram from the peer.
func (c *Connection) Receive() (data []byte, ok bool) {
	e, ok := c.queue.DequeueReceive()
	if !ok {
		return
	}
	return e.Payload, true
}

// Deliver a Packet received from the bound Address.
func (c *Connection) Deliver(p packet.Packet, now uint64) {
	c.deliver(p, c.addr, now)
}

// Service transmits and retransmits queued datagrams. An unhealthy
// Connection has a datagram which exceeded its timeout or retry limit; it
// stays unhealthy until that datagram is acknowledged.
func (c *Connection) Service(now uint64) bool {
	healthy := c.queue.Service(now, c.transmitTo(func(*queue.SendEntry) packet.Address {
		return c.addr
	}))

	if !healthy {
		c.logger.WithFields(log.Fields{
			"tick":    now,
			"address": c.addr,
			"queue":   c.queue,
		}).Debug("Connection is unhealthy")
	}
	return healthy
}

// Queue exposes the underlying queue.Queue for statistics and timing.
func (c *Connection) Queue() *queue.Queue {
	return c.queue
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%v, %q, %v, %v)", c.id, c.name, c.addr, c.queue)
}
