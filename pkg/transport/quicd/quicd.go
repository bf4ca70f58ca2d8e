// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lucas-clemente/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// Config of a Transport.
type Config struct {
	// Listen is the local "ip:port" to bind.
	Listen string `toml:"listen"`

	// Peers are "ip:port" addresses dialed on start.
	Peers []string `toml:"peers"`

	// InboxSize limits the amount of buffered received datagrams.
	InboxSize int `toml:"inbox-size"`
}

// dialTimeout bounds a single connection attempt.
const dialTimeout = 3 * time.Second

// Transport sends and receives datagrams over QUIC connections.
type Transport struct {
	udpConn  *net.UDPConn
	listener quic.Listener
	tlsConf  *tls.Config
	inbox    *transport.Inbox

	mutex   sync.Mutex
	conns   map[packet.Address]quic.Connection
	dialing map[packet.Address]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts listening for QUIC connections and dials the configured peers.
func New(conf Config) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", conf.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q failed: %w", conf.Listen, err)
	}

	var peers []packet.Address
	for _, peer := range conf.Peers {
		addr, err := packet.ParseAddress(peer)
		if err != nil {
			return nil, err
		}
		peers = append(peers, addr)
	}

	tlsConf, err := listenerTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("creating TLS configuration failed: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	listener, err := quic.Listen(udpConn, tlsConf, quicConfig())
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		udpConn:  udpConn,
		listener: listener,
		tlsConf:  dialerTLSConfig(),
		inbox:    transport.NewInbox(conf.Listen, conf.InboxSize),
		conns:    make(map[packet.Address]quic.Connection),
		dialing:  make(map[packet.Address]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.wg.Add(1)
	go t.accept()

	for _, peer := range peers {
		t.dial(peer)
	}

	log.WithFields(log.Fields{
		"listen": udpConn.LocalAddr(),
		"peers":  conf.Peers,
	}).Info("Started QUIC datagram transport")

	return t, nil
}

func (t *Transport) accept() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				log.WithError(err).Warn("Accepting QUIC connection errored")
			}
			return
		}

		t.register(conn)
	}
}

// dial a peer in the background, unless this is already happening.
func (t *Transport) dial(addr packet.Address) {
	t.mutex.Lock()
	if _, ok := t.dialing[addr]; ok || t.ctx.Err() != nil {
		t.mutex.Unlock()
		return
	}
	t.dialing[addr] = struct{}{}
	t.mutex.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mutex.Lock()
			delete(t.dialing, addr)
			t.mutex.Unlock()
		}()

		ctx, cancel := context.WithTimeout(t.ctx, dialTimeout)
		defer cancel()

		raddr := net.UDPAddrFromAddrPort(addr.AddrPort())
		conn, err := quic.DialContext(ctx, t.udpConn, raddr, raddr.IP.String(), t.tlsConf, quicConfig())
		if err != nil {
			log.WithFields(log.Fields{
				"peer":  addr,
				"error": err,
			}).Debug("Dialing QUIC peer errored")
			return
		}

		t.register(conn)
	}()
}

// register a new connection and start reading its datagrams. A previous
// connection to the same peer is replaced.
func (t *Transport) register(conn quic.Connection) {
	addr := remoteAddress(conn)

	t.mutex.Lock()
	old, known := t.conns[addr]
	t.conns[addr] = conn
	t.mutex.Unlock()

	if known {
		_ = old.CloseWithError(codeReplaced, "replaced")
	}

	log.WithField("peer", addr).Debug("QUIC connection established")

	t.wg.Add(1)
	go t.reader(addr, conn)
}

func (t *Transport) reader(addr packet.Address, conn quic.Connection) {
	defer t.wg.Done()

	for {
		msg, err := conn.ReceiveMessage()
		if err != nil {
			log.WithFields(log.Fields{
				"peer":  addr,
				"error": err,
			}).Debug("QUIC connection closed")

			t.mutex.Lock()
			if t.conns[addr] == conn {
				delete(t.conns, addr)
			}
			t.mutex.Unlock()
			return
		}

		t.inbox.Push(transport.Datagram{Data: msg, From: addr})
	}
}

func remoteAddress(conn quic.Connection) packet.Address {
	if udpAddr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		ap := udpAddr.AddrPort()
		return packet.AddressFromAddrPort(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))
	}
	return packet.Address{}
}

// Peers lists the Addresses of all connected peers.
func (t *Transport) Peers() (peers []packet.Address) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for addr := range t.conns {
		peers = append(peers, addr)
	}
	return
}

// Send a datagram to a connected peer or, for the packet.BroadcastAddress, to
// all of them. An unknown peer is dialed and the datagram is refused.
func (t *Transport) Send(data []byte, addr packet.Address) bool {
	t.mutex.Lock()
	var conns []quic.Connection
	if addr.IsBroadcast() {
		for _, conn := range t.conns {
			conns = append(conns, conn)
		}
	} else if conn, ok := t.conns[addr]; ok {
		conns = append(conns, conn)
	}
	t.mutex.Unlock()

	if len(conns) == 0 {
		if !addr.IsBroadcast() {
			t.dial(addr)
		}
		return false
	}

	sent := false
	for _, conn := range conns {
		if err := conn.SendMessage(data); err != nil {
			log.WithFields(log.Fields{
				"peer":  conn.RemoteAddr(),
				"error": err,
			}).Debug("Sending QUIC datagram errored")
			continue
		}
		sent = true
	}
	return sent
}

func (t *Transport) Receive() (data []byte, from packet.Address, ok bool) {
	d, ok := t.inbox.Pop()
	return d.Data, d.From, ok
}

func (t *Transport) Available() bool {
	return t.ctx.Err() == nil
}

func (t *Transport) Close() (errs error) {
	if t.ctx.Err() != nil {
		return fmt.Errorf("QUIC transport %v is already closed", t)
	}
	t.cancel()

	t.mutex.Lock()
	for addr, conn := range t.conns {
		if err := conn.CloseWithError(codeShutdown, "shutting down"); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing connection to %v: %w", addr, err))
		}
	}
	t.mutex.Unlock()

	if err := t.listener.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	t.wg.Wait()

	if err := t.udpConn.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}

// LocalAddress is the bound socket's Address.
func (t *Transport) LocalAddress() packet.Address {
	return packet.AddressFromAddrPort(t.udpConn.LocalAddr().(*net.UDPAddr).AddrPort())
}

func (t *Transport) String() string {
	return fmt.Sprintf("quicd://%v", t.udpConn.LocalAddr())
}
