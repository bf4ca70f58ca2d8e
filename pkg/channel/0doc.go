// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel implements the two logical message paths on top of a
// transport: the address-agnostic Broadcast channel and the point-to-point
// Connection bound to one peer Address.
//
// Both wrap a queue.Queue and acknowledge received DATA_REQUIRES_ACK datagrams
// immediately. They differ in their failure policy. A Broadcast channel heals
// itself by dropping its oldest stuck datagram and never reports a failure,
// while a Connection reports itself unhealthy until its owner reacts.
package channel
