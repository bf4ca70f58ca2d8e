// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"bytes"
	"testing"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport/mem"
)

const (
	productA packet.Magic = 0x0a0a
	productB packet.Magic = 0x0b0b
)

var (
	addrA = packet.MustParseAddress("10.0.0.1:9000")
	addrB = packet.MustParseAddress("10.0.0.2:9000")
	addrC = packet.MustParseAddress("10.0.0.3:9000")
)

func testConfig() queue.Config {
	return queue.Config{
		Timing:      queue.Timing{RetryDelta: 2, MaxRetries: queue.UnlimitedRetries, Timeout: 10},
		MaxSend:     4,
		MaxReceive:  4,
		DedupWindow: 16,
	}
}

// pump reads every pending datagram of an Endpoint and hands the parsed
// packets to deliver. It returns the amount of packets.
func pump(t *testing.T, ep *mem.Endpoint, deliver func(packet.Packet, packet.Address)) (n int) {
	for {
		data, from, ok := ep.Receive()
		if !ok {
			return
		}

		p, err := packet.ParsePacket(data)
		if err != nil {
			t.Fatal(err)
		}
		deliver(p, from)
		n++
	}
}

func TestBroadcastAck(t *testing.T) {
	hub := mem.NewHub()
	epA, epB := hub.Endpoint(addrA), hub.Endpoint(addrB)
	bcA, bcB := NewBroadcast(epA, productA, testConfig()), NewBroadcast(epB, productB, testConfig())

	if err := bcA.Send([]byte("hello"), true, packet.Address{}, 0); err != nil {
		t.Fatal(err)
	}
	bcA.Service(0)

	if n := pump(t, epB, func(p packet.Packet, from packet.Address) { bcB.Deliver(p, from, 0) }); n != 1 {
		t.Fatalf("expected 1 datagram, got %d", n)
	}

	data, from, product, ok := bcB.Receive()
	if !ok || !bytes.Equal(data, []byte("hello")) || from != addrA || product != productA {
		t.Fatalf("unexpected receive: %q %v %v %t", data, from, product, ok)
	}

	var ack packet.Packet
	if n := pump(t, epA, func(p packet.Packet, from packet.Address) {
		ack = p
		bcA.Deliver(p, from, 3)
	}); n != 1 {
		t.Fatalf("expected 1 acknowledgement, got %d", n)
	}
	if ack.Code != packet.CodeAck || ack.Magic != packet.MagicBroadcast || ack.Product != productB {
		t.Fatalf("unexpected acknowledgement %v", ack)
	}

	bcA.Service(4)
	if n := bcA.Queue().NumSend(); n != 0 {
		t.Fatalf("acknowledged datagram is still queued, %d entries", n)
	}
	if avg := bcA.Queue().AvgResponseTime(); avg != 3 {
		t.Fatalf("expected response time 3, got %d", avg)
	}
}

func TestBroadcastUnicast(t *testing.T) {
	hub := mem.NewHub()
	epA, epB, epC := hub.Endpoint(addrA), hub.Endpoint(addrB), hub.Endpoint(addrC)
	bcA := NewBroadcast(epA, productA, testConfig())

	bcA.Send([]byte("only c"), false, addrC, 0)
	bcA.Service(0)

	if epB.Pending() != 0 || epC.Pending() != 1 {
		t.Fatalf("datagram reached %d/%d endpoints", epB.Pending(), epC.Pending())
	}
	if bcA.Queue().NumSend() != 0 {
		t.Fatal("unreliable datagram is still queued")
	}
}

func TestBroadcastStall(t *testing.T) {
	hub := mem.NewHub()
	bc := NewBroadcast(hub.Endpoint(addrA), productA, testConfig())

	bc.Send([]byte("first"), true, packet.BroadcastAddress, 0)
	bc.Send([]byte("second"), true, packet.BroadcastAddress, 5)

	for now := uint64(0); now < 10; now++ {
		if !bc.Service(now) {
			t.Fatalf("broadcast unhealthy at tick %d", now)
		}
	}
	if n := bc.Queue().NumSend(); n != 2 {
		t.Fatalf("expected 2 outstanding datagrams, got %d", n)
	}

	if !bc.Service(10) {
		t.Fatal("broadcast reported a stall")
	}
	entries := bc.Queue().SendEntries()
	if len(entries) != 1 || !bytes.Equal(entries[0].Payload, []byte("second")) {
		t.Fatalf("expected only the second datagram to remain, got %v", entries)
	}
}

func TestConnectionUnhealthy(t *testing.T) {
	hub := mem.NewHub()
	conn := NewConnection(1, "peer", addrB, hub.Endpoint(addrA), productA, testConfig())

	if err := conn.Send([]byte("ping"), true, 0); err != nil {
		t.Fatal(err)
	}

	for now := uint64(0); now < 10; now++ {
		if !conn.Service(now) {
			t.Fatalf("connection unhealthy at tick %d", now)
		}
	}

	for now := uint64(10); now < 13; now++ {
		if conn.Service(now) {
			t.Fatalf("connection healthy after timeout at tick %d", now)
		}
	}
	if conn.Queue().NumSend() != 1 {
		t.Fatal("connection dropped its failing datagram")
	}
}

func TestConnectionExchange(t *testing.T) {
	hub := mem.NewHub()
	epA, epB := hub.Endpoint(addrA), hub.Endpoint(addrB)
	connA := NewConnection(1, "b", addrB, epA, productA, testConfig())
	connB := NewConnection(7, "a", addrA, epB, productA, testConfig())

	connA.Send([]byte("reliable"), true, 0)
	connA.Send([]byte("unreliable"), false, 0)
	connA.Service(0)

	var codes []packet.Code
	pump(t, epB, func(p packet.Packet, _ packet.Address) {
		if p.Magic != productA {
			t.Fatalf("unexpected magic %v", p.Magic)
		}
		codes = append(codes, p.Code)
		connB.Deliver(p, 0)
	})
	if len(codes) != 2 || codes[0] != packet.CodeDataAck || codes[1] != packet.CodeDataNoAck {
		t.Fatalf("unexpected codes %v", codes)
	}

	for _, expected := range []string{"reliable", "unreliable"} {
		if data, ok := connB.Receive(); !ok || string(data) != expected {
			t.Fatalf("expected %q, got %q", expected, data)
		}
	}

	if n := pump(t, epA, func(p packet.Packet, _ packet.Address) { connA.Deliver(p, 1) }); n != 1 {
		t.Fatalf("expected exactly one acknowledgement, got %d", n)
	}

	connA.Service(2)
	if connA.Queue().NumSend() != 0 {
		t.Fatal("datagrams are still queued")
	}
	if epB.Pending() != 0 {
		t.Fatal("acknowledged datagram was retransmitted")
	}
}

func TestConnectionDuplicate(t *testing.T) {
	hub := mem.NewHub()
	epA, epB := hub.Endpoint(addrA), hub.Endpoint(addrB)
	connA := NewConnection(1, "b", addrB, epA, productA, testConfig())
	connB := NewConnection(2, "a", addrA, epB, productA, testConfig())

	connA.Send([]byte("once"), true, 0)
	connA.Service(0)
	pump(t, epB, func(p packet.Packet, _ packet.Address) { connB.Deliver(p, 0) })

	// The first acknowledgement gets lost.
	pump(t, epA, func(packet.Packet, packet.Address) {})

	connA.Service(2)
	pump(t, epB, func(p packet.Packet, _ packet.Address) { connB.Deliver(p, 2) })

	if n := connB.Queue().NumReceive(); n != 1 {
		t.Fatalf("duplicate was queued, %d entries", n)
	}
	if n := pump(t, epA, func(p packet.Packet, _ packet.Address) { connA.Deliver(p, 2) }); n != 1 {
		t.Fatalf("duplicate was not acknowledged again, %d packets", n)
	}

	connA.Service(3)
	if connA.Queue().NumSend() != 0 {
		t.Fatal("datagram is still queued")
	}
}

func TestConnectionReceiveOverflow(t *testing.T) {
	hub := mem.NewHub()
	epA, epB := hub.Endpoint(addrA), hub.Endpoint(addrB)

	confB := testConfig()
	confB.MaxReceive = 1

	connA := NewConnection(1, "b", addrB, epA, productA, testConfig())
	connB := NewConnection(2, "a", addrA, epB, productA, confB)

	connA.Send([]byte("1"), true, 0)
	connA.Send([]byte("2"), true, 0)
	connA.Service(0)
	pump(t, epB, func(p packet.Packet, _ packet.Address) { connB.Deliver(p, 0) })

	if connB.Queue().ReceiveOverflow() != 1 {
		t.Fatalf("expected one overflow, got %d", connB.Queue().ReceiveOverflow())
	}
	if n := pump(t, epA, func(p packet.Packet, _ packet.Address) { connA.Deliver(p, 1) }); n != 1 {
		t.Fatalf("dropped datagram was acknowledged, %d acknowledgements", n)
	}

	connB.Receive()
	connA.Service(2)

	if n := connA.Queue().NumSend(); n != 1 {
		t.Fatalf("expected one outstanding datagram, got %d", n)
	}
	pump(t, epB, func(p packet.Packet, _ packet.Address) { connB.Deliver(p, 2) })
	if data, ok := connB.Receive(); !ok || string(data) != "2" {
		t.Fatalf("retransmission was not received: %q", data)
	}
}

func TestConnectionRebind(t *testing.T) {
	hub := mem.NewHub()
	epA, epB, epC := hub.Endpoint(addrA), hub.Endpoint(addrB), hub.Endpoint(addrC)
	conn := NewConnection(3, "roaming", addrB, epA, productA, testConfig())

	conn.Send([]byte("x"), true, 0)
	conn.Service(0)
	if epB.Pending() != 1 {
		t.Fatal("first transmission missed the bound address")
	}

	conn.Rebind(addrC)
	if conn.Address() != addrC || conn.ID() != 3 {
		t.Fatalf("unexpected connection state %v", conn)
	}

	conn.Service(2)
	if epC.Pending() != 1 {
		t.Fatal("retransmission missed the new address")
	}
}
