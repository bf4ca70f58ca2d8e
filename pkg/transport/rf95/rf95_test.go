// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rf95

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

var _ transport.Transport = (*Transport)(nil)

// dummyAir connects multiple dummyModems; each written frame reaches all
// other modems.
type dummyAir struct {
	mutex  sync.Mutex
	modems []*dummyModem
}

func (air *dummyAir) modem(mtu int) *dummyModem {
	air.mutex.Lock()
	defer air.mutex.Unlock()

	m := &dummyModem{air: air, mtu: mtu, in: make(chan []byte, 16), closed: make(chan struct{})}
	air.modems = append(air.modems, m)
	return m
}

func (air *dummyAir) transmit(from *dummyModem, frame []byte) {
	air.mutex.Lock()
	defer air.mutex.Unlock()

	for _, m := range air.modems {
		if m != from {
			m.in <- append([]byte(nil), frame...)
		}
	}
}

type dummyModem struct {
	air    *dummyAir
	mtu    int
	in     chan []byte
	closed chan struct{}
}

func (m *dummyModem) Read(p []byte) (int, error) {
	select {
	case frame := <-m.in:
		return copy(p, frame), nil
	case <-m.closed:
		return 0, io.EOF
	}
}

func (m *dummyModem) Write(p []byte) (int, error) {
	m.air.transmit(m, p)
	return len(p), nil
}

func (m *dummyModem) Mtu() (int, error) {
	return m.mtu, nil
}

func (m *dummyModem) Close() error {
	close(m.closed)
	return nil
}

func receiveWithin(t *testing.T, tr *Transport, d time.Duration) ([]byte, packet.Address, bool) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if data, from, ok := tr.Receive(); ok {
			return data, from, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, packet.Address{}, false
}

func TestStationAddress(t *testing.T) {
	for _, station := range []uint16{0, 1, 42, 0xfffe, broadcastStation} {
		if s, ok := AddressStation(StationAddress(station)); !ok || s != station {
			t.Fatalf("station %d became %d", station, s)
		}
	}

	if _, ok := AddressStation(packet.MustParseAddress("10.0.0.1:1")); ok {
		t.Fatal("IP address was accepted as station")
	}
}

func TestTransport(t *testing.T) {
	air := &dummyAir{}

	var trs []*Transport
	for station := uint16(1); station <= 3; station++ {
		tr, err := New(air.modem(64), "dummy", station, 8)
		if err != nil {
			t.Fatal(err)
		}
		defer tr.Close()
		trs = append(trs, tr)
	}

	if !trs[0].Send([]byte("to 2"), StationAddress(2)) {
		t.Fatal("unicast failed")
	}
	if data, from, ok := receiveWithin(t, trs[1], time.Second); !ok || !bytes.Equal(data, []byte("to 2")) || from != StationAddress(1) {
		t.Fatalf("unexpected unicast %q from %v", data, from)
	}
	if _, _, ok := receiveWithin(t, trs[2], 100*time.Millisecond); ok {
		t.Fatal("unicast reached a third station")
	}

	if !trs[2].Send([]byte("all"), packet.BroadcastAddress) {
		t.Fatal("broadcast failed")
	}
	for _, tr := range trs[:2] {
		if data, _, ok := receiveWithin(t, tr, time.Second); !ok || string(data) != "all" {
			t.Fatalf("%v missed broadcast", tr)
		}
	}

	if trs[0].Send(make([]byte, 61), StationAddress(2)) {
		t.Fatal("oversized datagram was sent")
	}
	if trs[0].Send([]byte("x"), packet.MustParseAddress("10.0.0.1:1")) {
		t.Fatal("datagram to an IP address was sent")
	}
}

func TestTransportErrors(t *testing.T) {
	air := &dummyAir{}

	if _, err := New(air.modem(64), "dummy", broadcastStation, 0); err == nil {
		t.Fatal("reserved station was accepted")
	}
	if _, err := New(air.modem(4), "dummy", 1, 0); err == nil {
		t.Fatal("tiny MTU was accepted")
	}

	tr, err := New(air.modem(64), "dummy", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.Available() || tr.Close() == nil {
		t.Fatal("closed transport is still usable")
	}
}
