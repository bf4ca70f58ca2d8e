// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"

	"github.com/dtn7/dgram-go/pkg/packet"
)

// Config of a discovery Manager.
type Config struct {
	// Interval between two announcements.
	Interval time.Duration

	// IPv4 and IPv6 enable announcing and listening on the respective
	// multicast address.
	IPv4 bool
	IPv6 bool

	// Port is the multicast UDP port, DefaultPort if zero.
	Port int

	// Buffer is the capacity of the Discovered channel.
	Buffer int
}

// Discovery is a received Announcement of another node together with its
// transport Address.
type Discovery struct {
	Announcement
	Address packet.Address
}

func (d Discovery) String() string {
	return fmt.Sprintf("Discovery(%v,%v)", d.Announcement, d.Address)
}

// Manager publishes this node's Announcement and receives the other nodes'.
// Discoveries are offered on a channel to be drained by the owner's tick loop.
type Manager struct {
	self Announcement

	discovered chan Discovery

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for Announcements will be created and started.
func NewManager(self Announcement, conf Config) (*Manager, error) {
	if conf.Port == 0 {
		conf.Port = DefaultPort
	}
	if conf.Buffer <= 0 {
		conf.Buffer = 16
	}

	var manager = &Manager{
		self:       self,
		discovered: make(chan Discovery, conf.Buffer),
	}
	if conf.IPv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if conf.IPv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":     conf.Interval,
		"IPv4":         conf.IPv4,
		"IPv6":         conf.IPv6,
		"announcement": self,
	}).Info("Starting discovery")

	msg, err := MarshalAnnouncements([]Announcement{self})
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
	}{
		{conf.IPv4, address4, manager.stopChan4, peerdiscovery.IPv4},
		{conf.IPv6, address6, manager.stopChan6, peerdiscovery.IPv6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", conf.Port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            conf.Interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           manager.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

// Discovered offers other nodes' Announcements. Discoveries are dropped while
// this channel is full.
func (manager *Manager) Discovered() <-chan Discovery {
	return manager.discovered
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"peer": discovered.Address,
		}).Warn("Peer discovery failed to parse incoming package")

		return
	}

	ip, err := netip.ParseAddr(discovered.Address)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Peer discovery received invalid address")
		return
	}

	for _, announcement := range announcements {
		manager.handleDiscovery(announcement, ip)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, ip netip.Addr) {
	logger := log.WithFields(log.Fields{
		"peer":    ip,
		"message": announcement,
	})

	if !manager.accepts(announcement) {
		logger.Trace("Peer discovery ignores announcement")
		return
	}

	d := Discovery{
		Announcement: announcement,
		Address:      packet.AddressFromAddrPort(netip.AddrPortFrom(ip.WithZone(""), uint16(announcement.Port))),
	}

	select {
	case manager.discovered <- d:
		logger.Debug("Peer discovery received a message")
	default:
		logger.Debug("Peer discovery dropped a message, channel is full")
	}
}

// accepts checks if an Announcement belongs to another node of this product.
func (manager *Manager) accepts(announcement Announcement) bool {
	return announcement.Product == manager.self.Product && announcement.ID != manager.self.ID
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
