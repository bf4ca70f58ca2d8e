// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package manager provides the channel Manager, which owns one Broadcast
// channel and a bounded, ordered list of point-to-point Connections on top of
// a single transport.
//
// The Manager is driven by its owner: Poll must be called once per tick. It
// drains the transport, demultiplexes every datagram to its channel by the
// header's Magic and the sender Address, and services all channels.
// Sending and receiving is done through the Manager's methods in between.
//
// A Manager is not safe for concurrent use; all calls must be serialized by
// its owner, e.g., by a single goroutine running the tick loop.
package manager
