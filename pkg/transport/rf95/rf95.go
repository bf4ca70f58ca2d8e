// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package rf95 provides a Transport over LoRa by using a rf95modem.
//
// LoRa is a pure broadcast medium without addresses. Each node therefore gets
// a 16 bit station number, and every frame starts with the sender's and the
// recipient's station: [src:uint16][dst:uint16][datagram]. The recipient
// 0xffff addresses all stations. Stations map to packet.Addresses by
// StationAddress.
package rf95

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rf95modem-go/rf95"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

const (
	frameHeaderLen = 4

	// broadcastStation addresses all stations.
	broadcastStation uint16 = 0xffff
)

// stationPrefix is the IPv6 prefix of addresses derived from stations.
var stationPrefix = netip.MustParseAddr("fd95::")

// StationAddress maps a station number to a packet.Address.
func StationAddress(station uint16) packet.Address {
	if station == broadcastStation {
		return packet.BroadcastAddress
	}
	return packet.AddressFromAddrPort(netip.AddrPortFrom(stationPrefix, station))
}

// AddressStation is the inverse of StationAddress.
func AddressStation(addr packet.Address) (uint16, bool) {
	if addr.IsBroadcast() {
		return broadcastStation, true
	}

	ap := addr.AddrPort()
	if ap.Addr() != stationPrefix || ap.Port() == broadcastStation {
		return 0, false
	}
	return ap.Port(), true
}

// Modem is the part of a rf95.Modem used by a Transport.
type Modem interface {
	io.ReadWriteCloser
	Mtu() (int, error)
}

// Config of a Transport.
type Config struct {
	// Device is the modem's serial device, e.g., /dev/ttyUSB0.
	Device string `toml:"device"`

	// Frequency in MHz; zero keeps the modem's setting.
	Frequency float64 `toml:"frequency"`

	// Station is this node's station number.
	Station uint16 `toml:"station"`

	// InboxSize limits the amount of buffered received datagrams.
	InboxSize int `toml:"inbox-size"`
}

// Transport sends and receives datagrams over a Modem.
type Transport struct {
	modem   Modem
	mtu     int
	station uint16
	name    string
	inbox   *transport.Inbox

	closeOnce sync.Once
	closed    chan struct{}
	readerAck chan struct{}
}

// Open a rf95modem's serial device and start a Transport on top of it.
func Open(conf Config) (*Transport, error) {
	modem, err := rf95.OpenSerial(conf.Device)
	if err != nil {
		return nil, fmt.Errorf("opening rf95modem %q failed: %w", conf.Device, err)
	}

	if conf.Frequency != 0 {
		if err := modem.Frequency(conf.Frequency); err != nil {
			_ = modem.Close()
			return nil, fmt.Errorf("setting frequency failed: %w", err)
		}
	}

	return New(modem, conf.Device, conf.Station, conf.InboxSize)
}

// New starts a Transport for this station on top of a Modem.
func New(modem Modem, name string, station uint16, inboxSize int) (*Transport, error) {
	if station == broadcastStation {
		return nil, fmt.Errorf("station %#04x is reserved", station)
	}

	mtu, err := modem.Mtu()
	if err != nil {
		return nil, fmt.Errorf("fetching MTU failed: %w", err)
	}
	if mtu <= frameHeaderLen {
		return nil, fmt.Errorf("MTU %d is too small", mtu)
	}

	t := &Transport{
		modem:     modem,
		mtu:       mtu,
		station:   station,
		name:      name,
		inbox:     transport.NewInbox(name, inboxSize),
		closed:    make(chan struct{}),
		readerAck: make(chan struct{}),
	}

	go t.reader()

	log.WithFields(log.Fields{
		"modem":   name,
		"station": station,
		"mtu":     mtu,
	}).Info("Started rf95 transport")

	return t, nil
}

func (t *Transport) reader() {
	defer close(t.readerAck)

	logger := log.WithField("modem", t.name)

	buf := make([]byte, t.mtu)
	for {
		n, err := t.modem.Read(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}

			if errors.Is(err, io.EOF) {
				logger.Info("Read EOF, stopping reader")
				return
			}
			logger.WithError(err).Warn("Reading from modem errored")
			continue
		}

		if n < frameHeaderLen {
			logger.WithField("size", n).Debug("Dropping short frame")
			continue
		}

		src := binary.BigEndian.Uint16(buf[0:])
		dst := binary.BigEndian.Uint16(buf[2:])
		if src == t.station || (dst != t.station && dst != broadcastStation) {
			continue
		}

		t.inbox.Push(transport.Datagram{
			Data: append([]byte(nil), buf[frameHeaderLen:n]...),
			From: StationAddress(src),
		})
	}
}

// Mtu is the largest datagram fitting into a frame.
func (t *Transport) Mtu() int {
	return t.mtu - frameHeaderLen
}

func (t *Transport) Send(data []byte, addr packet.Address) bool {
	dst, ok := AddressStation(addr)
	if !ok {
		log.WithField("address", addr).Debug("Address is no rf95 station")
		return false
	}
	if len(data) > t.Mtu() {
		log.WithFields(log.Fields{
			"size": len(data),
			"mtu":  t.Mtu(),
		}).Debug("Datagram exceeds MTU")
		return false
	}

	frame := make([]byte, frameHeaderLen+len(data))
	binary.BigEndian.PutUint16(frame[0:], t.station)
	binary.BigEndian.PutUint16(frame[2:], dst)
	copy(frame[frameHeaderLen:], data)

	if _, err := t.modem.Write(frame); err != nil {
		log.WithError(err).WithField("modem", t.name).Debug("Writing to modem errored")
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
	err = fmt.Errorf("rf95 transport %v is already closed", t)

	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.modem.Close()
		<-t.readerAck
	})
	return
}

// LocalAddress is this station's Address.
func (t *Transport) LocalAddress() packet.Address {
	return StationAddress(t.station)
}

func (t *Transport) String() string {
	return fmt.Sprintf("rf95://%s/%d", t.name, t.station)
}
