// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp provides a Transport over a single UDP socket. Datagrams for
// the packet.BroadcastAddress are sent to a configured broadcast address,
// e.g., the local network's directed broadcast.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 65507

// Config of a Transport.
type Config struct {
	// Listen is the local "ip:port" to bind, e.g., ":35040".
	Listen string `toml:"listen"`

	// Broadcast is the "ip:port" used for packet.BroadcastAddress, e.g.,
	// "255.255.255.255:35040". An empty value disables broadcasting.
	Broadcast string `toml:"broadcast"`

	// InboxSize limits the amount of buffered received datagrams.
	InboxSize int `toml:"inbox-size"`
}

// Transport sends and receives datagrams over UDP.
type Transport struct {
	conn      *net.UDPConn
	broadcast netip.AddrPort
	local     map[netip.AddrPort]struct{}
	inbox     *transport.Inbox

	closeOnce sync.Once
	closed    chan struct{}
	readerAck chan struct{}
}

// New binds a UDP socket and starts reading from it.
func New(conf Config) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", conf.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q failed: %w", conf.Listen, err)
	}

	var broadcast netip.AddrPort
	if conf.Broadcast != "" {
		if broadcast, err = netip.ParseAddrPort(conf.Broadcast); err != nil {
			return nil, fmt.Errorf("parsing broadcast address %q failed: %w", conf.Broadcast, err)
		}
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	if broadcast.IsValid() {
		if err := setBroadcast(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("enabling broadcast failed: %w", err)
		}
	}

	t := &Transport{
		conn:      conn,
		broadcast: broadcast,
		local:     localAddrPorts(conn),
		inbox:     transport.NewInbox(conf.Listen, conf.InboxSize),
		closed:    make(chan struct{}),
		readerAck: make(chan struct{}),
	}

	go t.reader()

	log.WithFields(log.Fields{
		"listen":    conn.LocalAddr(),
		"broadcast": broadcast,
	}).Info("Started UDP transport")

	return t, nil
}

// localAddrPorts lists all of this host's addresses with the socket's port.
// Broadcasts are looped back to their sender and must be filtered out.
func localAddrPorts(conn *net.UDPConn) map[netip.AddrPort]struct{} {
	local := make(map[netip.AddrPort]struct{})

	port := conn.LocalAddr().(*net.UDPAddr).AddrPort().Port()

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.WithError(err).Warn("Listing interface addresses errored")
		return local
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipNet.IP); ok {
			local[netip.AddrPortFrom(ip.Unmap(), port)] = struct{}{}
		}
	}
	return local
}

func (t *Transport) reader() {
	defer close(t.readerAck)

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("Reading from UDP socket errored")
			continue
		}

		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		if _, self := t.local[from]; self {
			continue
		}

		t.inbox.Push(transport.Datagram{
			Data: append([]byte(nil), buf[:n]...),
			From: packet.AddressFromAddrPort(from),
		})
	}
}

func (t *Transport) Send(data []byte, addr packet.Address) bool {
	dest := addr.AddrPort()
	if addr.IsBroadcast() {
		if !t.broadcast.IsValid() {
			return false
		}
		dest = t.broadcast
	}

	if _, err := t.conn.WriteToUDPAddrPort(data, dest); err != nil {
		log.WithFields(log.Fields{
			"address": dest,
			"error":   err,
		}).Debug("Writing to UDP socket errored")
		return false
	}
	return true
}

func (t *Transport) Receive() (data []byte, from packet.Address, ok bool) {
	d, ok := t.inbox.Pop()
	return d.Data, d.From, ok
}

func (t *Transport) Available() bool {
	select {
	case <-t.closed:
		return false
	default:
		return true
	}
}

func (t *Transport) Close() (err error) {
	err = fmt.Errorf("UDP transport %v is already closed", t)

	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
		<-t.readerAck
	})
	return
}

// LocalAddress is the bound socket's Address.
func (t *Transport) LocalAddress() packet.Address {
	return packet.AddressFromAddrPort(t.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

func (t *Transport) String() string {
	return fmt.Sprintf("udp://%v", t.conn.LocalAddr())
}
