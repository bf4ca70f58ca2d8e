// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mem provides an in-process Transport. A Hub connects multiple
// Endpoints, similar to a shared network segment, and may drop every nth
// datagram to simulate a lossy medium.
package mem

import (
	"fmt"
	"sync"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// Hub connects multiple Endpoints.
type Hub struct {
	mutex     sync.Mutex
	endpoints []*Endpoint

	counter int
	drop    int
	sent    int
}

// NewHub creates a new lossless Hub.
func NewHub() *Hub {
	return &Hub{}
}

// NewHubDrop creates a new Hub which drops each nth datagram.
func NewHubDrop(n int) *Hub {
	return &Hub{drop: n}
}

// SetDrop changes the drop rate; zero disables dropping.
func (hub *Hub) SetDrop(n int) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	hub.drop, hub.counter = n, 0
}

// Sent counts all datagrams handed to this Hub, dropped ones included.
func (hub *Hub) Sent() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	return hub.sent
}

// Endpoint creates a new Endpoint with the given Address, connected to this Hub.
func (hub *Hub) Endpoint(addr packet.Address) *Endpoint {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	e := &Endpoint{hub: hub, addr: addr}
	hub.endpoints = append(hub.endpoints, e)
	return e
}

// distribute a datagram from an Endpoint. Broadcasts reach every other
// Endpoint, unicasts only the Endpoints with a matching Address.
func (hub *Hub) distribute(data []byte, from *Endpoint, to packet.Address) bool {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	hub.sent++
	hub.counter++
	if hub.drop != 0 && hub.counter%hub.drop == 0 {
		// Lost on the medium; the sender cannot notice.
		return true
	}

	src := from.addr
	for _, e := range hub.endpoints {
		if e == from || e.closed {
			continue
		}
		if to.IsBroadcast() || e.addr == to {
			e.deliver(append([]byte(nil), data...), src)
		}
	}
	return true
}

// Endpoint is one Transport attached to a Hub.
type Endpoint struct {
	hub *Hub

	// Guarded by the Hub's mutex.
	addr   packet.Address
	inbox  []transport.Datagram
	closed bool
}

func (e *Endpoint) deliver(data []byte, from packet.Address) {
	e.inbox = append(e.inbox, transport.Datagram{Data: data, From: from})
}

// Address of this Endpoint.
func (e *Endpoint) Address() packet.Address {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	return e.addr
}

// SetAddress changes this Endpoint's Address, as a re-bound socket would.
func (e *Endpoint) SetAddress(addr packet.Address) {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	e.addr = addr
}

// Pending is the amount of datagrams waiting for Receive.
func (e *Endpoint) Pending() int {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	return len(e.inbox)
}

func (e *Endpoint) Send(data []byte, addr packet.Address) bool {
	e.hub.mutex.Lock()
	closed := e.closed
	e.hub.mutex.Unlock()

	if closed {
		return false
	}
	return e.hub.distribute(data, e, addr)
}

func (e *Endpoint) Receive() (data []byte, from packet.Address, ok bool) {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	if len(e.inbox) == 0 {
		return
	}

	d := e.inbox[0]
	e.inbox[0] = transport.Datagram{}
	e.inbox = e.inbox[1:]
	return d.Data, d.From, true
}

func (e *Endpoint) Available() bool {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	return !e.closed
}

func (e *Endpoint) Close() error {
	e.hub.mutex.Lock()
	defer e.hub.mutex.Unlock()

	if e.closed {
		return fmt.Errorf("endpoint %v is already closed", e.addr)
	}
	e.closed = true
	e.inbox = nil
	return nil
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("mem://%v", e.Address())
}
