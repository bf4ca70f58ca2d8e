// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"testing"

	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/discovery"
	"github.com/dtn7/dgram-go/pkg/manager"
	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport/mem"
)

var (
	addrAlice = packet.MustParseAddress("10.0.0.1:35039")
	addrBob   = packet.MustParseAddress("10.0.0.2:35039")
	addrCarol = packet.MustParseAddress("10.0.0.3:35039")
)

func newTestDaemon(t *testing.T, hub *mem.Hub, self channel.ID, addr packet.Address, peers []peerConf) *daemon {
	conf := manager.DefaultConfig()
	conf.Timing = queue.Timing{RetryDelta: 2, MaxRetries: 2, Timeout: 10}

	m, err := manager.NewManager(hub.Endpoint(addr), conf)
	if err != nil {
		t.Fatal(err)
	}
	m.SetRecognizer(manager.IDPrefixRecognizer())

	d := &daemon{
		self:   self,
		mgr:    m,
		static: make(map[channel.ID]peerConf),
	}
	for _, peer := range peers {
		d.static[channel.ID(peer.Id)] = peer
	}
	if err := registerPeers(m, peers); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDaemonExchange(t *testing.T) {
	hub := mem.NewHub()
	alice := newTestDaemon(t, hub, 1, addrAlice, []peerConf{{Id: 2, Name: "bob", Address: addrBob.String()}})
	bob := newTestDaemon(t, hub, 2, addrBob, []peerConf{{Id: 1, Name: "alice", Address: addrAlice.String()}})

	alice.handleLine("2 hello bob")
	alice.handleLine("malformed")
	alice.handleLine("9 nobody")

	alice.tick()
	bob.tick()

	// bob acknowledged on tick 1, alice handles the ACK on tick 2.
	alice.tick()
	if s := alice.mgr.Snapshot(); len(s.Connections) != 1 || s.Connections[0].NumSend != 0 {
		t.Fatalf("message was not acknowledged: %v", s)
	}
	if avg, err := alice.mgr.AvgResponseTime(2); err != nil || avg != 2 {
		t.Fatalf("unexpected response time %d, %v", avg, err)
	}
}

func TestDaemonResetConnection(t *testing.T) {
	hub := mem.NewHub()
	alice := newTestDaemon(t, hub, 1, addrAlice, []peerConf{{Id: 2, Name: "bob", Address: addrBob.String()}})
	alice.handleDiscovery(discovery.Discovery{
		Announcement: discovery.Announcement{ID: 3, Name: "carol"},
		Address:      addrCarol,
	})
	if alice.mgr.NumConnections() != 2 {
		t.Fatalf("discovered peer was not added: %v", alice.mgr.Connections())
	}

	// Neither bob nor carol answer.
	alice.handleLine("2 anybody there?")
	alice.handleLine("3 anybody there?")

	for i := 0; i < 12; i++ {
		alice.tick()
	}

	if alice.mgr.BadConnection() != channel.NoneID {
		t.Fatal("bad connection was not reset")
	}
	if ids := alice.mgr.Connections(); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("expected only the recreated static peer, got %v", ids)
	}
	if s := alice.mgr.Snapshot(); s.Connections[0].NumSend != 0 {
		t.Fatal("recreated connection kept its datagrams")
	}
}

func TestDaemonDiscovery(t *testing.T) {
	hub := mem.NewHub()
	alice := newTestDaemon(t, hub, 1, addrAlice, nil)

	disc := discovery.Discovery{
		Announcement: discovery.Announcement{ID: 2, Name: "bob"},
		Address:      addrBob,
	}
	alice.handleDiscovery(disc)
	alice.handleDiscovery(disc)

	disc.Address = addrCarol
	alice.handleDiscovery(disc)

	if alice.mgr.NumConnections() != 1 {
		t.Fatalf("expected one connection, got %v", alice.mgr.Connections())
	}
	if addr, err := alice.mgr.ConnectionAddress(2); err != nil || addr != addrBob {
		t.Fatalf("unexpected address %v, %v", addr, err)
	}
}
