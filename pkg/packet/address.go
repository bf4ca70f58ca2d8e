// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// AddressLen is the fixed size of an Address: 16 bytes IP followed by a
// 2 byte port.
const AddressLen = 18

// Address identifies a remote endpoint on the transport. It is a comparable
// value type and should only be compared for equality.
type Address [AddressLen]byte

// BroadcastAddress is the destination for "all reachable peers".
var BroadcastAddress = Address{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff,
}

// AddressFromAddrPort converts an IP/port pair into an Address.
func AddressFromAddrPort(ap netip.AddrPort) (a Address) {
	ip := ap.Addr().As16()
	copy(a[:16], ip[:])
	binary.BigEndian.PutUint16(a[16:], ap.Port())
	return
}

// MustParseAddress parses an "ip:port" string and panics on failure. It is
// intended for tests and static configuration.
func MustParseAddress(s string) Address {
	return AddressFromAddrPort(netip.MustParseAddrPort(s))
}

// ParseAddress parses an "ip:port" string.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parsing address %q failed: %w", s, err)
	}
	return AddressFromAddrPort(ap), nil
}

// AddrPort converts this Address back into an IP/port pair. IPv4 addresses are
// unmapped.
func (a Address) AddrPort() netip.AddrPort {
	var ip [16]byte
	copy(ip[:], a[:16])
	return netip.AddrPortFrom(netip.AddrFrom16(ip).Unmap(), binary.BigEndian.Uint16(a[16:]))
}

// IsBroadcast checks if this Address is the BroadcastAddress.
func (a Address) IsBroadcast() bool {
	return a == BroadcastAddress
}

// IsZero checks if this Address was never set.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	switch {
	case a.IsBroadcast():
		return "broadcast"
	case a.IsZero():
		return "none"
	default:
		return a.AddrPort().String()
	}
}
