// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package udp

import (
	"net"
)

// setBroadcast is a no-op next to Linux; the other file sets SO_BROADCAST.
func setBroadcast(_ *net.UDPConn) error {
	return nil
}
