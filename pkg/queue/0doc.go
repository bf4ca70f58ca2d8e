// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements the reliable queue underneath each channel.
//
// A Queue buffers outgoing datagrams until they are acknowledged and incoming
// datagrams until the application drains them. It never touches a transport
// itself: Service gets a transmit function from its channel. All points in time
// are ticks, supplied by the caller, which keeps a Queue deterministic.
package queue
