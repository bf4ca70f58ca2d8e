// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/howeyc/crc16"
)

const (
	headerSize  = 2 + 1 + 4
	productSize = 2
	crcSize     = 2
)

var (
	// ErrShort is returned for datagrams too small to contain an envelope.
	ErrShort = errors.New("datagram too short")

	// ErrChecksum is returned for datagrams whose CRC-16 trailer mismatches.
	ErrChecksum = errors.New("datagram checksum mismatch")
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// Packet is one datagram: the Header, the sender's Product for broadcast
// datagrams, and the Payload.
type Packet struct {
	Header

	// Product is the sender's product Magic. It is only transmitted when
	// Header.Magic is MagicBroadcast.
	Product Magic

	Payload []byte
}

// NewAck creates an ACK for the given Header.
func NewAck(magic Magic, sequence uint32, product Magic) Packet {
	return Packet{
		Header:  Header{Magic: magic, Code: CodeAck, Sequence: sequence},
		Product: product,
	}
}

// Len is the size of this Packet's wire representation.
func (p Packet) Len() int {
	n := headerSize + len(p.Payload) + crcSize
	if p.Magic.IsBroadcast() {
		n += productSize
	}
	return n
}

// MarshalBinary creates the wire representation of this Packet.
func (p Packet) MarshalBinary() ([]byte, error) {
	if err := p.Code.CheckValid(); err != nil {
		return nil, err
	}

	data := make([]byte, p.Len())
	binary.BigEndian.PutUint16(data[0:], uint16(p.Magic))
	data[2] = byte(p.Code)
	binary.BigEndian.PutUint32(data[3:], p.Sequence)

	off := headerSize
	if p.Magic.IsBroadcast() {
		binary.BigEndian.PutUint16(data[off:], uint16(p.Product))
		off += productSize
	}
	off += copy(data[off:], p.Payload)

	binary.BigEndian.PutUint16(data[off:], crc16.Checksum(data[:off], crc16table))
	return data, nil
}

// UnmarshalBinary parses a wire representation into this Packet. The Payload
// references a fresh copy of the datagram's payload bytes.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize+crcSize {
		return ErrShort
	}

	body, trailer := data[:len(data)-crcSize], data[len(data)-crcSize:]
	if expected, got := crc16.Checksum(body, crc16table), binary.BigEndian.Uint16(trailer); expected != got {
		return fmt.Errorf("%w: expected %#04x, got %#04x", ErrChecksum, expected, got)
	}

	p.Magic = Magic(binary.BigEndian.Uint16(body[0:]))
	p.Code = Code(body[2])
	p.Sequence = binary.BigEndian.Uint32(body[3:])
	if err := p.Code.CheckValid(); err != nil {
		return err
	}

	off := headerSize
	p.Product = 0
	if p.Magic.IsBroadcast() {
		if len(body) < headerSize+productSize {
			return ErrShort
		}
		p.Product = Magic(binary.BigEndian.Uint16(body[off:]))
		off += productSize
	}

	p.Payload = append([]byte(nil), body[off:]...)
	return nil
}

// ParsePacket reads a Packet from a datagram.
func ParsePacket(data []byte) (p Packet, err error) {
	err = p.UnmarshalBinary(data)
	return
}

func (p Packet) String() string {
	if p.Magic.IsBroadcast() {
		return fmt.Sprintf("Packet(%v, product %v, %d bytes)", p.Header, p.Product, len(p.Payload))
	}
	return fmt.Sprintf("Packet(%v, %d bytes)", p.Header, len(p.Payload))
}
