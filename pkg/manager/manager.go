// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package manager

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport"
)

var (
	// ErrTransportUnavailable is returned if the transport is missing or closed.
	ErrTransportUnavailable = errors.New("transport is unavailable")

	// ErrTableFull is returned by CreateConnection for MaxConnections live Connections.
	ErrTableFull = errors.New("connection table is full")

	// ErrNotFound is returned for unknown Connection IDs.
	ErrNotFound = errors.New("connection not found")

	// ErrInvalidID is returned by CreateConnection for channel.NoneID.
	ErrInvalidID = errors.New("invalid connection id")
)

// Manager owns the Broadcast channel and all Connections.
type Manager struct {
	conf Config
	tr   transport.Transport

	broadcast *channel.Broadcast

	// conns is ordered by creation; cursor is the next index for ReceiveAny.
	conns  []*channel.Connection
	cursor int

	recognizer Recognizer
	badConn    channel.ID

	// now is the tick of the latest Poll.
	now uint64

	// sequenceFloor is the latest Sequence issued by any deleted Connection.
	// New Connections count from here on.
	sequenceFloor uint32

	// Counters of deleted Connections.
	retiredSendOverflow    uint64
	retiredReceiveOverflow uint64
}

// NewManager creates a Manager on top of a Transport. It fails for an
// unavailable Transport or an invalid Config.
func NewManager(tr transport.Transport, conf Config) (*Manager, error) {
	if tr == nil || !tr.Available() {
		return nil, ErrTransportUnavailable
	}
	if err := conf.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid manager configuration: %w", err)
	}

	m := &Manager{
		conf:      conf,
		tr:        tr,
		broadcast: channel.NewBroadcast(tr, conf.Product, conf.queueConfig()),
		conns:     make([]*channel.Connection, 0, conf.MaxConnections),
		badConn:   channel.NoneID,

		sequenceFloor: conf.SequenceBase,
	}

	log.WithFields(log.Fields{
		"product":         conf.Product,
		"max-connections": conf.MaxConnections,
		"timing":          conf.Timing,
	}).Info("Started channel manager")

	return m, nil
}

// Config returns the current Config, including the latest default Timing.
func (m *Manager) Config() Config {
	return m.conf
}

// Now is the tick of the latest Poll.
func (m *Manager) Now() uint64 {
	return m.now
}

// SetRecognizer installs the Recognizer used for datagrams from unknown
// Addresses; nil disables address recovery.
func (m *Manager) SetRecognizer(r Recognizer) {
	m.recognizer = r
}

// CreateConnection appends a new Connection, using the current default
// Timing. The caller is responsible for unique IDs.
//
// Its Sequences continue after those of every deleted Connection. Thus, a
// peer still remembering a predecessor's datagrams does not mistake the new
// ones for duplicates.
func (m *Manager) CreateConnection(id channel.ID, name string, addr packet.Address) error {
	switch {
	case !m.tr.Available():
		return ErrTransportUnavailable
	case id == channel.NoneID:
		return ErrInvalidID
	case len(m.conns) >= m.conf.MaxConnections:
		return ErrTableFull
	}

	conf := m.conf.queueConfig()
	conf.FirstSequence = m.sequenceFloor
	m.conns = append(m.conns, channel.NewConnection(id, name, addr, m.tr, m.conf.Product, conf))

	log.WithFields(log.Fields{
		"connection": id,
		"name":       name,
		"address":    addr,
	}).Info("Created connection")
	return nil
}

// index of the Connection with this ID or -1.
func (m *Manager) index(id channel.ID) int {
	for i, c := range m.conns {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

func (m *Manager) connection(id channel.ID) (*channel.Connection, error) {
	if i := m.index(id); i >= 0 {
		return m.conns[i], nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNotFound, id)
}

// DeleteConnection removes a Connection, discarding all its queued datagrams.
// The remaining Connections keep their order.
func (m *Manager) DeleteConnection(id channel.ID) error {
	i := m.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}

	c := m.conns[i]
	m.retiredSendOverflow += c.Queue().SendOverflow()
	m.retiredReceiveOverflow += c.Queue().ReceiveOverflow()
	if last := c.Queue().LastSequence(); queue.SequenceAfter(last, m.sequenceFloor) {
		m.sequenceFloor = last
	}

	copy(m.conns[i:], m.conns[i+1:])
	m.conns[len(m.conns)-1] = nil
	m.conns = m.conns[:len(m.conns)-1]

	if m.cursor >= len(m.conns) {
		m.cursor = 0
	}
	if m.badConn == id {
		m.badConn = channel.NoneID
	}

	log.WithFields(log.Fields{
		"connection": id,
		"name":       c.Name(),
		"queue":      c.Queue(),
	}).Info("Deleted connection")
	return nil
}

// Timing returns the default retry policy.
func (m *Manager) Timing() queue.Timing {
	return m.conf.Timing
}

// SetTiming replaces the default retry policy and applies it to the Broadcast
// channel and every live Connection.
func (m *Manager) SetTiming(t queue.Timing) error {
	if err := t.CheckValid(); err != nil {
		return fmt.Errorf("invalid timing: %w", err)
	}

	m.conf.Timing = t
	m.broadcast.Queue().SetTiming(t)
	for _, c := range m.conns {
		c.Queue().SetTiming(t)
	}

	log.WithField("timing", t).Info("Changed timing of all channels")
	return nil
}

// SetConnectionTiming overrides the retry policy of a single Connection until
// the next SetTiming.
func (m *Manager) SetConnectionTiming(id channel.ID, t queue.Timing) error {
	if err := t.CheckValid(); err != nil {
		return fmt.Errorf("invalid timing: %w", err)
	}

	c, err := m.connection(id)
	if err != nil {
		return err
	}

	c.Queue().SetTiming(t)
	return nil
}

// Poll drains every datagram from the transport, hands each to its channel
// and services all channels afterwards. Poll must be called once per tick.
func (m *Manager) Poll(now uint64) {
	m.now = now

	for {
		data, from, ok := m.tr.Receive()
		if !ok {
			break
		}
		m.demux(data, from)
	}

	m.broadcast.Service(now)

	for _, c := range m.conns {
		if c.Service(now) {
			continue
		}

		if m.badConn != c.ID() {
			log.WithFields(log.Fields{
				"connection": c.ID(),
				"name":       c.Name(),
				"address":    c.Address(),
				"tick":       now,
			}).Warn("Detected bad connection")
		}
		m.badConn = c.ID()
	}
}

// demux a single datagram to its channel. Unparsable datagrams, foreign
// traffic and datagrams from unknown senders are dropped.
func (m *Manager) demux(data []byte, from packet.Address) {
	p, err := packet.ParsePacket(data)
	if err != nil {
		log.WithFields(log.Fields{
			"from":  from,
			"error": err,
		}).Debug("Dropping malformed datagram")
		return
	}

	switch p.Magic {
	case packet.MagicBroadcast:
		m.broadcast.Deliver(p, from, m.now)

	case m.conf.Product:
		if c := m.connectionByAddress(from); c != nil {
			c.Deliver(p, m.now)
		} else if c = m.recover(p, from); c != nil {
			c.Deliver(p, m.now)
		} else {
			log.WithFields(log.Fields{
				"from":   from,
				"packet": p,
			}).Debug("Dropping datagram from unknown sender")
		}

	default:
		log.WithFields(log.Fields{
			"from":  from,
			"magic": p.Magic,
		}).Trace("Ignoring foreign datagram")
	}
}

func (m *Manager) connectionByAddress(addr packet.Address) *channel.Connection {
	for _, c := range m.conns {
		if c.Address() == addr {
			return c
		}
	}
	return nil
}

// recover asks the Recognizer for the owner of a datagram from an unknown
// Address and rebinds the recognized Connection. Acknowledgements are offered
// with their empty payload.
func (m *Manager) recover(p packet.Packet, from packet.Address) *channel.Connection {
	if m.recognizer == nil {
		return nil
	}

	id := m.recognizer(p.Payload)
	if id == channel.NoneID {
		return nil
	}

	i := m.index(id)
	if i < 0 {
		log.WithFields(log.Fields{
			"from":       from,
			"connection": id,
		}).Debug("Recognized datagram for unknown connection")
		return nil
	}

	c := m.conns[i]
	c.Rebind(from)
	return c
}

// SendBroadcast queues a datagram on the Broadcast channel. A zero dest or
// packet.BroadcastAddress addresses all peers.
func (m *Manager) SendBroadcast(data []byte, requiresAck bool, dest packet.Address) error {
	return m.broadcast.Send(data, requiresAck, dest, m.now)
}

// ReceiveBroadcast returns the oldest datagram of the Broadcast channel with
// its sender and the sender's product Magic.
func (m *Manager) ReceiveBroadcast() (data []byte, from packet.Address, product packet.Magic, ok bool) {
	return m.broadcast.Receive()
}

// SendTo queues a datagram on the Connection with this ID.
func (m *Manager) SendTo(id channel.ID, data []byte, requiresAck bool) error {
	c, err := m.connection(id)
	if err != nil {
		return err
	}

	if err := c.Send(data, requiresAck, m.now); err != nil {
		return fmt.Errorf("connection %v: %w", id, err)
	}
	return nil
}

// SendToAll queues a datagram on every Connection. If any Connection's send
// queue is full, nothing is queued at all.
func (m *Manager) SendToAll(data []byte, requiresAck bool) error {
	for _, c := range m.conns {
		if c.Queue().IsFull() {
			// Count the rejection on the blocking Connection.
			_ = c.Send(data, requiresAck, m.now)
			return fmt.Errorf("connection %v: %w", c.ID(), queue.ErrSendFull)
		}
	}

	var errs error
	for _, c := range m.conns {
		if err := c.Send(data, requiresAck, m.now); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("connection %v: %w", c.ID(), err))
		}
	}
	return errs
}

// ReceiveAny returns the next datagram of any Connection, starting the search
// at the round-robin cursor. The cursor advances by one on every call, even if
// nothing was received.
func (m *Manager) ReceiveAny() (data []byte, id channel.ID, ok bool) {
	id = channel.NoneID

	n := len(m.conns)
	if n == 0 {
		return
	}

	start := m.cursor
	m.cursor = (m.cursor + 1) % n

	for i := 0; i < n; i++ {
		c := m.conns[(start+i)%n]
		if data, ok = c.Receive(); ok {
			return data, c.ID(), true
		}
	}
	return
}

// Receive returns the next datagram of one specific Connection, leaving the
// round-robin cursor untouched. Unknown IDs yield nothing.
func (m *Manager) Receive(id channel.ID) (data []byte, ok bool) {
	c, err := m.connection(id)
	if err != nil {
		return
	}
	return c.Receive()
}

// BadConnection is the ID of the latest Connection found unhealthy or
// channel.NoneID.
func (m *Manager) BadConnection() channel.ID {
	return m.badConn
}

// ResetBadConnection forgets the bad Connection.
func (m *Manager) ResetBadConnection() {
	m.badConn = channel.NoneID
}

// NumConnections is the amount of live Connections.
func (m *Manager) NumConnections() int {
	return len(m.conns)
}

// Connections lists all Connection IDs in order.
func (m *Manager) Connections() []channel.ID {
	ids := make([]channel.ID, len(m.conns))
	for i, c := range m.conns {
		ids[i] = c.ID()
	}
	return ids
}

// ConnectionIDAt returns the ID at the index of the ordered Connection list
// or channel.NoneID.
func (m *Manager) ConnectionIDAt(index int) channel.ID {
	if index < 0 || index >= len(m.conns) {
		return channel.NoneID
	}
	return m.conns[index].ID()
}

// ConnectionName returns a Connection's name.
func (m *Manager) ConnectionName(id channel.ID) (string, error) {
	c, err := m.connection(id)
	if err != nil {
		return "", err
	}
	return c.Name(), nil
}

// ConnectionAddress returns a Connection's currently bound Address.
func (m *Manager) ConnectionAddress(id channel.ID) (packet.Address, error) {
	c, err := m.connection(id)
	if err != nil {
		return packet.Address{}, err
	}
	return c.Address(), nil
}

// Close the Manager and its Transport. All queued datagrams are discarded.
func (m *Manager) Close() (errs error) {
	for _, c := range m.conns {
		if c.Queue().NumSend() > 0 {
			log.WithFields(log.Fields{
				"connection": c.ID(),
				"queue":      c.Queue(),
			}).Debug("Discarding outstanding datagrams")
		}
	}
	m.conns = nil
	m.cursor = 0

	if err := m.tr.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("closing transport: %w", err))
	}

	log.Info("Closed channel manager")
	return
}
