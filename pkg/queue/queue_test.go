// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dtn7/dgram-go/pkg/packet"
)

var peer = packet.MustParseAddress("10.0.0.2:4000")

func testConfig() Config {
	return Config{
		Timing:      Timing{RetryDelta: 5, MaxRetries: UnlimitedRetries, Timeout: 100},
		MaxSend:     4,
		MaxReceive:  4,
		DedupWindow: 8,
	}
}

// transmitLog records every transmitted Sequence.
type transmitLog struct {
	seqs []uint32
	fail bool
}

func (tl *transmitLog) transmit(e *SendEntry) bool {
	if tl.fail {
		return false
	}
	tl.seqs = append(tl.seqs, e.Sequence)
	return true
}

func TestQueueSendOverflow(t *testing.T) {
	conf := testConfig()
	conf.MaxSend = 2
	q := New(conf)

	for i := 0; i < 2; i++ {
		if _, err := q.EnqueueSend([]byte("data"), true, peer, 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	if q.SendOverflow() != 0 {
		t.Fatalf("overflow counter is %d before overflowing", q.SendOverflow())
	}
	if _, err := q.EnqueueSend([]byte("data"), true, peer, 0); !errors.Is(err, ErrSendFull) {
		t.Fatalf("expected ErrSendFull, got %v", err)
	}
	if q.SendOverflow() != 1 {
		t.Fatalf("overflow counter is %d, expected 1", q.SendOverflow())
	}
	if q.NumSend() > q.MaxSend() {
		t.Fatalf("%d entries exceed capacity %d", q.NumSend(), q.MaxSend())
	}
}

func TestQueueSequence(t *testing.T) {
	q := New(testConfig())

	var prev uint32
	for i := 0; i < 3; i++ {
		seq, err := q.EnqueueSend(nil, false, peer, 0)
		if err != nil {
			t.Fatal(err)
		}
		if seq <= prev {
			t.Fatalf("sequence %d is not greater than %d", seq, prev)
		}
		prev = seq
	}
}

func TestQueueFirstSequence(t *testing.T) {
	tests := []struct {
		name  string
		first uint32
		next  uint32
	}{
		{"fresh", 0, 1},
		{"successor", 41, 42},
		{"wrapped", 0xffffffff, 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := testConfig()
			conf.FirstSequence = test.first
			q := New(conf)

			if last := q.LastSequence(); last != test.first {
				t.Fatalf("last sequence is %d before enqueuing, expected %d", last, test.first)
			}

			seq, err := q.EnqueueSend(nil, true, peer, 0)
			if err != nil {
				t.Fatal(err)
			}
			if seq != test.next || q.LastSequence() != test.next {
				t.Fatalf("expected sequence %d, got %d and last %d", test.next, seq, q.LastSequence())
			}
			if !SequenceAfter(seq, test.first) {
				t.Fatalf("%d does not count as after %d", seq, test.first)
			}
		})
	}
}

func TestQueueRetryCadence(t *testing.T) {
	q := New(testConfig())
	tl := &transmitLog{}

	seq, _ := q.EnqueueSend([]byte("hello"), true, peer, 0)

	var sentAt []uint64
	for now := uint64(0); now <= 20; now++ {
		before := len(tl.seqs)
		if !q.Service(now, tl.transmit) {
			t.Fatalf("queue unhealthy at tick %d", now)
		}
		if len(tl.seqs) > before {
			sentAt = append(sentAt, now)
		}
	}

	expected := []uint64{0, 5, 10, 15, 20}
	if len(sentAt) != len(expected) {
		t.Fatalf("expected transmissions at %v, got %v", expected, sentAt)
	}
	for i := range expected {
		if sentAt[i] != expected[i] {
			t.Fatalf("expected transmissions at %v, got %v", expected, sentAt)
		}
	}

	if entries := q.SendEntries(); len(entries) != 1 || entries[0].Sequence != seq || entries[0].RetryCount != 4 {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestQueueAck(t *testing.T) {
	q := New(testConfig())
	tl := &transmitLog{}

	seqA, _ := q.EnqueueSend([]byte("a"), true, peer, 0)
	seqB, _ := q.EnqueueSend([]byte("b"), true, peer, 0)
	q.Service(0, tl.transmit)

	if !q.OnAckReceived(seqB, 4) {
		t.Fatal("ack was not matched")
	}
	if q.OnAckReceived(seqB, 4) {
		t.Fatal("second ack was matched again")
	}
	if q.OnAckReceived(seqB+100, 4) {
		t.Fatal("unknown sequence was matched")
	}

	tl.seqs = nil
	q.Service(5, tl.transmit)

	if q.NumSend() != 1 {
		t.Fatalf("expected 1 outstanding entry, got %d", q.NumSend())
	}
	if len(tl.seqs) != 1 || tl.seqs[0] != seqA {
		t.Fatalf("expected only %d to be retransmitted, got %v", seqA, tl.seqs)
	}
	if avg := q.AvgResponseTime(); avg != 4 {
		t.Fatalf("expected average response time 4, got %d", avg)
	}

	q.ResetResponseTime()
	if avg := q.AvgResponseTime(); avg != 0 {
		t.Fatalf("expected reset response time, got %d", avg)
	}
}

func TestQueueNoAck(t *testing.T) {
	q := New(testConfig())
	tl := &transmitLog{}

	if _, err := q.EnqueueSend([]byte("fire"), false, peer, 0); err != nil {
		t.Fatal(err)
	}
	q.Service(0, tl.transmit)

	if q.NumSend() != 0 || len(tl.seqs) != 1 {
		t.Fatalf("unreliable entry was not sent exactly once: %d queued, %v sent", q.NumSend(), tl.seqs)
	}
}

func TestQueueTimeout(t *testing.T) {
	q := New(testConfig())
	tl := &transmitLog{}

	q.EnqueueSend([]byte("lost"), true, peer, 0)

	for now := uint64(0); now < 100; now++ {
		if !q.Service(now, tl.transmit) {
			t.Fatalf("unhealthy before timeout at tick %d", now)
		}
	}

	if q.Service(100, tl.transmit) {
		t.Fatal("healthy after timeout")
	}
	if q.NumSend() != 1 {
		t.Fatal("timed out entry was removed by Service")
	}

	if !q.ForceDropOldestSend() {
		t.Fatal("nothing was dropped")
	}
	if !q.Service(101, tl.transmit) || q.NumSend() != 0 {
		t.Fatal("queue did not recover after dropping")
	}
	if q.ForceDropOldestSend() {
		t.Fatal("dropped from an empty queue")
	}
}

func TestQueueMaxRetries(t *testing.T) {
	conf := testConfig()
	conf.MaxRetries = 2
	q := New(conf)
	tl := &transmitLog{}

	q.EnqueueSend([]byte("x"), true, peer, 0)

	for _, now := range []uint64{0, 5, 10} {
		if !q.Service(now, tl.transmit) {
			t.Fatalf("unhealthy at tick %d", now)
		}
	}
	if len(tl.seqs) != 3 {
		t.Fatalf("expected 3 transmissions, got %d", len(tl.seqs))
	}

	if q.Service(15, tl.transmit) {
		t.Fatal("healthy after exhausting retries")
	}
	if len(tl.seqs) != 3 {
		t.Fatal("retransmitted beyond MaxRetries")
	}
}

func TestQueueTransmitFailure(t *testing.T) {
	q := New(testConfig())
	tl := &transmitLog{fail: true}

	q.EnqueueSend([]byte("x"), true, peer, 0)
	q.Service(0, tl.transmit)

	if e := q.SendEntries()[0]; e.Sent {
		t.Fatal("failed transmission marked entry as sent")
	}

	tl.fail = false
	q.Service(1, tl.transmit)
	if e := q.SendEntries()[0]; !e.Sent || e.LastSentAt != 1 || e.RetryCount != 0 {
		t.Fatalf("unexpected entry after delayed transmission: %v", e)
	}
}

func TestQueueReceive(t *testing.T) {
	conf := testConfig()
	conf.MaxReceive = 2
	q := New(conf)

	for i := uint32(1); i <= 2; i++ {
		if err := q.EnqueueReceive(ReceiveEntry{Payload: []byte{byte(i)}, Address: peer, Sequence: i}); err != nil {
			t.Fatal(err)
		}
	}

	if err := q.EnqueueReceive(ReceiveEntry{Payload: []byte{3}, Address: peer, Sequence: 3}); !errors.Is(err, ErrReceiveFull) {
		t.Fatalf("expected ErrReceiveFull, got %v", err)
	}
	if q.ReceiveOverflow() != 1 || q.NumReceive() != 2 {
		t.Fatalf("unexpected state %v, overflow %d", q, q.ReceiveOverflow())
	}

	for i := byte(1); i <= 2; i++ {
		e, ok := q.DequeueReceive()
		if !ok || !bytes.Equal(e.Payload, []byte{i}) {
			t.Fatalf("expected payload %d, got %v", i, e.Payload)
		}
	}
	if _, ok := q.DequeueReceive(); ok {
		t.Fatal("dequeued from an empty queue")
	}

	// The overflowed datagram was not remembered and can be accepted later.
	if err := q.EnqueueReceive(ReceiveEntry{Payload: []byte{3}, Address: peer, Sequence: 3}); err != nil {
		t.Fatal(err)
	}
}

func TestQueueDuplicates(t *testing.T) {
	other := packet.MustParseAddress("10.0.0.3:4000")

	tests := []struct {
		name      string
		perSender bool
		otherDup  bool
	}{
		{"per-sequence", false, true},
		{"per-sender", true, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := testConfig()
			conf.DedupPerSender = test.perSender
			q := New(conf)

			if err := q.EnqueueReceive(ReceiveEntry{Address: peer, Sequence: 7}); err != nil {
				t.Fatal(err)
			}
			if err := q.EnqueueReceive(ReceiveEntry{Address: peer, Sequence: 7}); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}
			if dup := q.IsDuplicate(other, 7); dup != test.otherDup {
				t.Fatalf("duplicate from other sender: expected %t, got %t", test.otherDup, dup)
			}
			if q.ReceiveOverflow() != 0 {
				t.Fatal("duplicate was counted as overflow")
			}
		})
	}
}

func TestQueueDedupWindow(t *testing.T) {
	conf := testConfig()
	conf.DedupWindow = 2
	conf.MaxReceive = 10
	q := New(conf)

	for seq := uint32(1); seq <= 3; seq++ {
		if err := q.EnqueueReceive(ReceiveEntry{Address: peer, Sequence: seq}); err != nil {
			t.Fatal(err)
		}
	}

	if q.IsDuplicate(peer, 1) {
		t.Fatal("evicted sequence is still known")
	}
	if !q.IsDuplicate(peer, 2) || !q.IsDuplicate(peer, 3) {
		t.Fatal("recent sequences are unknown")
	}
}

func TestConfigCheckValid(t *testing.T) {
	if err := testConfig().CheckValid(); err != nil {
		t.Fatal(err)
	}

	if err := (Config{Timing: Timing{MaxRetries: -2}}).CheckValid(); err == nil {
		t.Fatal("invalid config passed")
	}
}
