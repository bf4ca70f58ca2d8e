// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicd provides a Transport carrying each datagram in a QUIC
// DATAGRAM frame (RFC 9221). QUIC connections to the configured peers are
// established in the background; a broadcast reaches every connected peer.
//
// A single UDP socket is used for both accepting and dialing, so each peer is
// identified by its listening address on both ends.
//
// QUIC DATAGRAM frames are unreliable, which keeps the channel layer's retry
// timing meaningful while adding TLS 1.3 encryption and a congestion
// controller.
package quicd
