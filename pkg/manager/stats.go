// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package manager

import (
	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/queue"
)

// SendOverflow counts rejected sends over all channels, deleted Connections
// included.
func (m *Manager) SendOverflow() uint64 {
	n := m.retiredSendOverflow + m.broadcast.Queue().SendOverflow()
	for _, c := range m.conns {
		n += c.Queue().SendOverflow()
	}
	return n
}

// ReceiveOverflow counts dropped received datagrams over all channels,
// deleted Connections included.
func (m *Manager) ReceiveOverflow() uint64 {
	n := m.retiredReceiveOverflow + m.broadcast.Queue().ReceiveOverflow()
	for _, c := range m.conns {
		n += c.Queue().ReceiveOverflow()
	}
	return n
}

// AvgResponseTime of a single Connection.
func (m *Manager) AvgResponseTime(id channel.ID) (uint64, error) {
	c, err := m.connection(id)
	if err != nil {
		return 0, err
	}
	return c.Queue().AvgResponseTime(), nil
}

// MaxAvgResponseTime is the highest average response time over all channels.
func (m *Manager) MaxAvgResponseTime() (max uint64) {
	max = m.broadcast.Queue().AvgResponseTime()
	for _, c := range m.conns {
		if avg := c.Queue().AvgResponseTime(); avg > max {
			max = avg
		}
	}
	return
}

// ResetResponseTime discards the response time samples of all channels.
func (m *Manager) ResetResponseTime() {
	m.broadcast.Queue().ResetResponseTime()
	for _, c := range m.conns {
		c.Queue().ResetResponseTime()
	}
}

// ChannelStats describes one channel's queue.
type ChannelStats struct {
	ID      channel.ID `json:"id"`
	Name    string     `json:"name,omitempty"`
	Address string     `json:"address"`

	NumSend    int `json:"num_send"`
	MaxSend    int `json:"max_send"`
	NumReceive int `json:"num_receive"`
	MaxReceive int `json:"max_receive"`

	SendOverflow    uint64 `json:"send_overflow"`
	ReceiveOverflow uint64 `json:"receive_overflow"`

	AvgResponseTime uint64       `json:"avg_response_time"`
	Timing          queue.Timing `json:"timing"`
}

func newChannelStats(id channel.ID, name, address string, q *queue.Queue) ChannelStats {
	return ChannelStats{
		ID:              id,
		Name:            name,
		Address:         address,
		NumSend:         q.NumSend(),
		MaxSend:         q.MaxSend(),
		NumReceive:      q.NumReceive(),
		MaxReceive:      q.MaxReceive(),
		SendOverflow:    q.SendOverflow(),
		ReceiveOverflow: q.ReceiveOverflow(),
		AvgResponseTime: q.AvgResponseTime(),
		Timing:          q.Timing(),
	}
}

// Snapshot is a serializable view of a Manager's state.
type Snapshot struct {
	Tick    uint64 `json:"tick"`
	Product string `json:"product"`

	Broadcast   ChannelStats   `json:"broadcast"`
	Connections []ChannelStats `json:"connections"`

	BadConnection channel.ID `json:"bad_connection"`

	SendOverflow       uint64 `json:"send_overflow"`
	ReceiveOverflow    uint64 `json:"receive_overflow"`
	MaxAvgResponseTime uint64 `json:"max_avg_response_time"`
}

// Snapshot the Manager's current state.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Tick:               m.now,
		Product:            m.conf.Product.String(),
		Broadcast:          newChannelStats(channel.NoneID, "broadcast", "broadcast", m.broadcast.Queue()),
		Connections:        make([]ChannelStats, 0, len(m.conns)),
		BadConnection:      m.badConn,
		SendOverflow:       m.SendOverflow(),
		ReceiveOverflow:    m.ReceiveOverflow(),
		MaxAvgResponseTime: m.MaxAvgResponseTime(),
	}

	for _, c := range m.conns {
		s.Connections = append(s.Connections, newChannelStats(c.ID(), c.Name(), c.Address().String(), c.Queue()))
	}
	return s
}
