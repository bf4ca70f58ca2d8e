// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package replay records and replays the datagram traffic of a Transport.
//
// A Manager is fully determined by the ticks it is polled with, the calls of
// its host and the datagrams its Transport delivers. The Recorder wraps a
// Transport and persists each sent and received datagram together with the
// current tick into a Store. A Player later re-feeds the received datagrams
// tick by tick and compares the sent ones against the recording.
//
// Recorded sessions can be exported into a xz compressed CBOR file and
// imported again, e.g., for bug reports.
package replay
