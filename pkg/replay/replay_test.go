// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"reflect"
	"testing"

	"github.com/dtn7/dgram-go/pkg/manager"
	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport"
	"github.com/dtn7/dgram-go/pkg/transport/mem"
)

var (
	addrA = packet.MustParseAddress("10.0.0.1:35039")
	addrB = packet.MustParseAddress("10.0.0.2:35039")
)

func setupStoreDir(t *testing.T) string {
	filePath, err := ioutil.TempFile("", "replay")

	if err != nil {
		t.Fatal(err)
	} else {
		os.Remove(filePath.Name())
	}

	return filePath.Name()
}

func testEvents() []Event {
	return []Event{
		{Id: 0, Tick: 0, Direction: Inbound, Address: addrA, Data: []byte("hello"), Ok: true},
		{Id: 1, Tick: 0, Direction: Outbound, Address: addrA, Data: []byte("ack"), Ok: true},
		{Id: 2, Tick: 4, Direction: Outbound, Address: packet.BroadcastAddress, Data: []byte("bcast"), Ok: false},
		{Id: 3, Tick: 9, Direction: Inbound, Address: addrB, Data: []byte("world"), Ok: true},
	}
}

func TestStore(t *testing.T) {
	dir := setupStoreDir(t)
	defer os.RemoveAll(dir)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range testEvents()[:3] {
		if _, err := store.Push(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening continues the Ids.
	store, err = NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if id, err := store.Push(testEvents()[3]); err != nil {
		t.Fatal(err)
	} else if id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}

	if events, err := store.Events(); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(events, testEvents()) {
		t.Fatalf("stored events differ:\n%v\n%v", events, testEvents())
	}

	if events, err := store.Range(1, 5); err != nil {
		t.Fatal(err)
	} else if len(events) != 1 || events[0].Id != 2 {
		t.Fatalf("unexpected range %v", events)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if events, err := store.Events(); err != nil {
		t.Fatal(err)
	} else if len(events) != 0 || store.Len() != 0 {
		t.Fatalf("store was not cleared: %v", events)
	}
}

func TestExportImport(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(testEvents(), &buf); err != nil {
		t.Fatal(err)
	}

	if events, err := Import(&buf); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(events, testEvents()) {
		t.Fatalf("imported events differ:\n%v\n%v", events, testEvents())
	}

	if _, err := Import(bytes.NewBufferString("no xz")); err == nil {
		t.Fatal("garbage was imported")
	}
}

func TestPlayerDivergence(t *testing.T) {
	tests := []struct {
		name    string
		tick    uint64
		data    []byte
		addr    packet.Address
		diverge bool
	}{
		{"identical", 0, []byte("ack"), addrA, false},
		{"other tick", 1, []byte("ack"), addrA, true},
		{"other address", 0, []byte("ack"), addrB, true},
		{"other data", 0, []byte("nak"), addrA, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := NewPlayer(testEvents())
			p.Advance(test.tick)

			if data, from, ok := p.Receive(); !ok || from != addrA || string(data) != "hello" {
				t.Fatalf("unexpected receive %q from %v, %t", data, from, ok)
			}
			if _, _, ok := p.Receive(); ok {
				t.Fatal("received an event of a future tick")
			}

			p.Send(test.data, test.addr)
			if err := p.Err(); (err != nil) != test.diverge {
				t.Fatalf("expected divergence %t, got %v", test.diverge, err)
			} else if err != nil && !errors.Is(err, ErrDiverged) {
				t.Fatalf("expected ErrDiverged, got %v", err)
			}
		})
	}
}

func TestPlayerSendResult(t *testing.T) {
	p := NewPlayer(testEvents())

	p.Advance(0)
	if !p.Send([]byte("ack"), addrA) {
		t.Fatal("recorded success was not replayed")
	}
	p.Advance(4)
	if p.Send([]byte("bcast"), packet.BroadcastAddress) {
		t.Fatal("recorded failure was not replayed")
	}
	if p.Err() != nil {
		t.Fatal(p.Err())
	}

	p.Advance(10)
	p.Receive()
	p.Receive()
	if !p.Finished() {
		t.Fatalf("player is not finished: %v", p)
	}

	p.Send([]byte("extra"), addrA)
	if !errors.Is(p.Err(), ErrDiverged) {
		t.Fatal("additional datagram was not noticed")
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if p.Available() || p.Close() == nil {
		t.Fatal("closed player is still usable")
	}
}

// session polls a receiving Manager for the given amount of ticks and returns
// the received payloads. The before hook runs ahead of each Poll.
func session(m *manager.Manager, ticks uint64, before func(now uint64)) (received []string) {
	for now := uint64(0); now < ticks; now++ {
		before(now)
		m.Poll(now)

		for {
			data, _, ok := m.ReceiveAny()
			if !ok {
				break
			}
			received = append(received, string(data))
		}
	}
	return
}

func newReceiver(t *testing.T, tr transport.Transport) *manager.Manager {
	conf := manager.DefaultConfig()
	conf.Timing = queue.Timing{RetryDelta: 2, MaxRetries: queue.UnlimitedRetries, Timeout: 20}

	m, err := manager.NewManager(tr, conf)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CreateConnection(1, "a", addrA); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRecordAndReplay(t *testing.T) {
	dir := setupStoreDir(t)
	defer os.RemoveAll(dir)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	hub := mem.NewHubDrop(3)

	conf := manager.DefaultConfig()
	conf.Timing = queue.Timing{RetryDelta: 2, MaxRetries: queue.UnlimitedRetries, Timeout: 20}
	sender, err := manager.NewManager(hub.Endpoint(addrA), conf)
	if err != nil {
		t.Fatal(err)
	}
	sender.CreateConnection(2, "b", addrB)

	recorder := NewRecorder(hub.Endpoint(addrB), store)
	receiver := newReceiver(t, recorder)

	recorded := session(receiver, 15, func(now uint64) {
		switch now {
		case 0:
			sender.SendTo(2, []byte("one"), true)
		case 3:
			sender.SendTo(2, []byte("two"), true)
			sender.SendTo(2, []byte("three"), false)
		}

		recorder.Advance(now)
		sender.Poll(now)
	})

	if recorder.Err() != nil {
		t.Fatal(recorder.Err())
	}
	if len(recorded) == 0 {
		t.Fatal("nothing was received while recording")
	}

	events, err := store.Events()
	if err != nil {
		t.Fatal(err)
	}

	player := NewPlayer(events)
	replayed := session(newReceiver(t, player), 15, player.Advance)

	if err := player.Err(); err != nil {
		t.Fatal(err)
	}
	if !player.Finished() {
		t.Fatalf("player is not finished: %v", player)
	}
	if !reflect.DeepEqual(recorded, replayed) {
		t.Fatalf("replayed %v instead of %v", replayed, recorded)
	}
}
