// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains the envelope which is put around every datagram on
// the shared medium.
//
// A datagram's wire format is:
//
//	[Magic:uint16][Code:uint8][Sequence:uint32][Product:uint16]?[Payload][CRC16:uint16]
//
// All integers are big endian. The Product field is only present for datagrams
// addressed to the broadcast channel, where Magic is MagicBroadcast and the
// sender's own product Magic would otherwise be lost. The trailing CRC-16
// (CCITT) covers everything in front of it.
package packet
