// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// link bundles the parts shared by both channel types.
type link struct {
	tr transport.Transport

	// magic is written into every outgoing Header of this channel; product
	// is this node's product Magic, only transmitted on broadcast traffic.
	magic   packet.Magic
	product packet.Magic

	queue  *queue.Queue
	logger *log.Entry
}

// write encodes and sends one Packet.
func (l *link) write(p packet.Packet, addr packet.Address) bool {
	data, err := p.MarshalBinary()
	if err != nil {
		l.logger.WithError(err).WithField("packet", p).Warn("Encoding packet errored")
		return false
	}

	if !l.tr.Send(data, addr) {
		l.logger.WithFields(log.Fields{
			"packet":  p,
			"address": addr,
		}).Debug("Transport refused datagram")
		return false
	}
	return true
}

// transmitTo creates a queue.TransmitFunc for a destination Address. A nil
// addr uses each entry's own Address.
func (l *link) transmitTo(addr func(*queue.SendEntry) packet.Address) queue.TransmitFunc {
	return func(e *queue.SendEntry) bool {
		code := packet.CodeDataNoAck
		if e.RequiresAck {
			code = packet.CodeDataAck
		}

		p := packet.Packet{
			Header:  packet.Header{Magic: l.magic, Code: code, Sequence: e.Sequence},
			Product: l.product,
			Payload: e.Payload,
		}

		dest := e.Address
		if addr != nil {
			dest = addr(e)
		}

		l.logger.WithFields(log.Fields{
			"packet":  p,
			"address": dest,
			"retries": e.RetryCount,
		}).Trace("Transmitting datagram")
		return l.write(p, dest)
	}
}

// deliver handles a Packet received from an Address. ACKs are matched against
// the send list; data is queued and, if requested, acknowledged. A datagram
// dropped on a full receive list is not acknowledged, so its sender retries.
func (l *link) deliver(p packet.Packet, from packet.Address, now uint64) {
	logger := l.logger.WithFields(log.Fields{
		"packet": p,
		"from":   from,
	})

	if p.Code == packet.CodeAck {
		if l.queue.OnAckReceived(p.Sequence, now) {
			logger.Trace("Received acknowledgement")
		} else {
			logger.Debug("Received acknowledgement for unknown sequence")
		}
		return
	}

	err := l.queue.EnqueueReceive(queue.ReceiveEntry{
		Payload:  p.Payload,
		Address:  from,
		Sequence: p.Sequence,
		Product:  p.Product,
	})

	switch {
	case err == nil:
		logger.Trace("Received datagram")

	case errors.Is(err, queue.ErrDuplicate):
		logger.Debug("Received duplicate datagram")

	default:
		logger.WithError(err).Debug("Dropping received datagram")
		return
	}

	if p.Code == packet.CodeDataAck {
		l.write(packet.NewAck(p.Magic, p.Sequence, l.product), from)
	}
}
