// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"github.com/dtn7/dgram-go/pkg/packet"
)

// Transport is an unreliable datagram service.
type Transport interface {
	// Send a datagram to the Address. The packet.BroadcastAddress addresses
	// every reachable peer. Send must not block for long and reports if the
	// datagram was handed to the medium.
	Send(data []byte, addr packet.Address) bool

	// Receive the next buffered datagram, if any. This method must not block.
	Receive() (data []byte, from packet.Address, ok bool)

	// Available checks if this Transport is usable.
	Available() bool

	// Close this Transport.
	Close() error
}

// Datagram is a received datagram together with its sender.
type Datagram struct {
	Data []byte
	From packet.Address
}
