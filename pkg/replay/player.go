// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"bytes"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
)

// ErrDiverged is returned by Player.Err if the replayed session sent other
// datagrams than the recorded one.
var ErrDiverged = errors.New("replay diverged from recording")

// Player is a Transport replaying recorded Events. Inbound Events become
// receivable once their tick is reached by Advance; each Send is compared to
// the next Outbound Event and answered with its recorded result.
//
// A Player is not safe for concurrent use.
type Player struct {
	inbound  []Event
	outbound []Event

	tick    uint64
	pending []Event
	closed  bool

	divergence error
}

// NewPlayer for Events in their recording order.
func NewPlayer(events []Event) *Player {
	p := &Player{}
	for _, e := range events {
		if e.Direction == Inbound {
			p.inbound = append(p.inbound, e)
		} else {
			p.outbound = append(p.outbound, e)
		}
	}
	return p
}

// Advance to a tick, making all Inbound Events up to this tick receivable.
func (p *Player) Advance(now uint64) {
	p.tick = now

	for len(p.inbound) > 0 && p.inbound[0].Tick <= now {
		p.pending = append(p.pending, p.inbound[0])
		p.inbound = p.inbound[1:]
	}
}

func (p *Player) diverge(format string, a ...interface{}) {
	err := fmt.Errorf("tick %d: %s: %w", p.tick, fmt.Sprintf(format, a...), ErrDiverged)

	log.WithField("error", err).Debug("Player diverged")

	if p.divergence == nil {
		p.divergence = err
	}
}

// Send compares the datagram against the next recorded Outbound Event.
func (p *Player) Send(data []byte, addr packet.Address) bool {
	if p.closed {
		return false
	}

	if len(p.outbound) == 0 {
		p.diverge("unexpected datagram to %v", addr)
		return true
	}

	e := p.outbound[0]
	p.outbound = p.outbound[1:]

	switch {
	case e.Tick != p.tick:
		p.diverge("datagram %d was recorded at tick %d", e.Id, e.Tick)
	case e.Address != addr:
		p.diverge("datagram %d was sent to %v instead of %v", e.Id, e.Address, addr)
	case !bytes.Equal(e.Data, data):
		p.diverge("datagram %d has different content", e.Id)
	}

	return e.Ok
}

// Receive the next Inbound Event of a reached tick.
func (p *Player) Receive() (data []byte, from packet.Address, ok bool) {
	if p.closed || len(p.pending) == 0 {
		return
	}

	e := p.pending[0]
	p.pending = p.pending[1:]
	return e.Data, e.Address, true
}

// Available until closed.
func (p *Player) Available() bool {
	return !p.closed
}

// Close this Player.
func (p *Player) Close() error {
	if p.closed {
		return fmt.Errorf("player is already closed")
	}
	p.closed = true
	return nil
}

// Finished checks if every recorded Event was replayed.
func (p *Player) Finished() bool {
	return len(p.inbound) == 0 && len(p.pending) == 0 && len(p.outbound) == 0
}

// Err returns the first divergence, if any.
func (p *Player) Err() error {
	return p.divergence
}

func (p *Player) String() string {
	return fmt.Sprintf("Player(tick %d, %d inbound, %d outbound left)",
		p.tick, len(p.inbound)+len(p.pending), len(p.outbound))
}
