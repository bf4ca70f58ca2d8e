// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package monitor offers a read-only HTTP view of a Manager's statistics.
//
// The tick loop owning the Manager publishes its manager.Snapshot after each
// Poll. The Monitor serves the latest Snapshot as JSON on /stats, its
// Connections on /connections and /connections/{id}, and pushes each new
// Snapshot to all WebSocket clients of /ws.
package monitor
