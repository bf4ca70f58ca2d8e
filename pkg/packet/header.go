// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import "fmt"

// Magic separates this protocol's traffic from unrelated traffic sharing the
// same transport. Each cooperating application build has its own product Magic;
// MagicBroadcast is reserved for the broadcast channel.
type Magic uint16

// MagicBroadcast marks datagrams for the broadcast channel.
const MagicBroadcast Magic = 0xffff

// IsBroadcast checks if this Magic is the reserved broadcast value.
func (m Magic) IsBroadcast() bool {
	return m == MagicBroadcast
}

func (m Magic) String() string {
	if m.IsBroadcast() {
		return "broadcast"
	}
	return fmt.Sprintf("%#04x", uint16(m))
}

// Code is the kind of a datagram.
type Code uint8

const (
	// CodeAck acknowledges the DATA_REQUIRES_ACK datagram with the same Sequence.
	CodeAck Code = iota

	// CodeDataAck is user data which must be acknowledged by its receiver.
	CodeDataAck

	// CodeDataNoAck is user data without any delivery guarantee.
	CodeDataNoAck
)

// CheckValid returns an error for unknown codes.
func (c Code) CheckValid() error {
	if c > CodeDataNoAck {
		return fmt.Errorf("unknown packet code %d", uint8(c))
	}
	return nil
}

// IsData checks if this Code carries user data.
func (c Code) IsData() bool {
	return c == CodeDataAck || c == CodeDataNoAck
}

func (c Code) String() string {
	switch c {
	case CodeAck:
		return "ACK"
	case CodeDataAck:
		return "DATA_REQUIRES_ACK"
	case CodeDataNoAck:
		return "DATA_NO_ACK"
	default:
		return "unknown"
	}
}

// Header contains the fields needed for demultiplexing and acknowledgement.
type Header struct {
	Magic    Magic
	Code     Code
	Sequence uint32
}

func (h Header) String() string {
	return fmt.Sprintf("Header(%v, %v, %d)", h.Magic, h.Code, h.Sequence)
}
