// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dgram-go/pkg/packet"
)

// Direction of a recorded datagram.
type Direction uint64

const (
	// Outbound datagrams were handed to the Transport.
	Outbound Direction = 0

	// Inbound datagrams were received from the Transport.
	Inbound Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return fmt.Sprintf("unknown direction %d", uint64(d))
	}
}

// Event is a single recorded datagram.
type Event struct {
	Id uint64 `badgerhold:"key"`

	Tick      uint64    `badgerholdIndex:"Tick"`
	Direction Direction `badgerholdIndex:"Direction"`

	// Address is the destination of an Outbound and the sender of an Inbound datagram.
	Address packet.Address
	Data    []byte

	// Ok is the result of the Transport's Send for Outbound datagrams.
	Ok bool
}

// MarshalCbor writes the CBOR representation of an Event.
func (e *Event) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(6, w); err != nil {
		return err
	}

	fields := []uint64{e.Id, e.Tick, uint64(e.Direction)}
	for _, f := range fields {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteByteString(e.Address[:], w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(e.Data, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(e.Ok, w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor reads an Event from its CBOR representation.
func (e *Event) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 6 {
		return fmt.Errorf("wrong array length: %d instead of 6", l)
	}

	fields := []*uint64{&e.Id, &e.Tick}
	for _, f := range fields {
		if n, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			*f = n
		}
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if d := Direction(n); d != Outbound && d != Inbound {
		return fmt.Errorf("%v", d)
	} else {
		e.Direction = d
	}

	if addr, err := cboring.ReadByteString(r); err != nil {
		return err
	} else if len(addr) != len(e.Address) {
		return fmt.Errorf("address has %d bytes instead of %d", len(addr), len(e.Address))
	} else {
		copy(e.Address[:], addr)
	}

	if data, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		e.Data = data
	}

	if ok, err := cboring.ReadBoolean(r); err != nil {
		return err
	} else {
		e.Ok = ok
	}

	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("Event(%d, tick %d, %v %v, %d bytes, ok %t)",
		e.Id, e.Tick, e.Direction, e.Address, len(e.Data), e.Ok)
}
