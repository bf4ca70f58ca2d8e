// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport defines the unreliable, addressable datagram service the
// channel manager runs on top of.
//
// A Transport only needs to hand out single datagrams without blocking and to
// send single datagrams to an Address, the BroadcastAddress included. The
// sub packages provide implementations: mem for in-process tests, udp for a
// local network, quicd for QUIC DATAGRAM frames between known peers, and rf95
// for LoRa through a rf95modem.
//
// Implementations based on blocking I/O read in their own goroutine and
// buffer received datagrams in an Inbox, which is drained by Receive.
package transport
