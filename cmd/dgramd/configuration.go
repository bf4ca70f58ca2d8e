// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/discovery"
	"github.com/dtn7/dgram-go/pkg/manager"
	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/transport"
	"github.com/dtn7/dgram-go/pkg/transport/quicd"
	"github.com/dtn7/dgram-go/pkg/transport/rf95"
	"github.com/dtn7/dgram-go/pkg/transport/udp"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Timing    queue.Timing
	Transport transportConf
	Discovery discoveryConf
	Monitor   monitorConf
	Replay    replayConf
	Peer      []peerConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Product        uint16
	Id             int
	Name           string
	Tick           string
	MaxConnections int `toml:"max-connections"`
	MaxSend        int `toml:"max-send"`
	MaxReceive     int `toml:"max-receive"`
	DedupWindow    int `toml:"dedup-window"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// transportConf selects and configures one Transport.
type transportConf struct {
	Type  string
	Udp   udp.Config
	Quicd quicd.Config
	Rf95  rf95.Config
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
	Port     int
}

// monitorConf describes the Monitor-configuration block.
type monitorConf struct {
	Listen string
}

// replayConf describes the Replay-configuration block.
type replayConf struct {
	Store string
}

// peerConf describes a statically configured Connection.
type peerConf struct {
	Id      int
	Name    string
	Address string
}

// defaultTick is used for an empty core.tick.
const defaultTick = 100 * time.Millisecond

// parseConfig reads the TOML file. Unset [core] and [timing] values fall back
// to manager.DefaultConfig.
func parseConfig(filename string) (conf tomlConfig, err error) {
	defaults := manager.DefaultConfig()
	conf.Core = coreConf{
		Product:        uint16(defaults.Product),
		MaxConnections: defaults.MaxConnections,
		MaxSend:        defaults.MaxSend,
		MaxReceive:     defaults.MaxReceive,
		DedupWindow:    defaults.DedupWindow,
	}
	conf.Timing = defaults.Timing

	_, err = toml.DecodeFile(filename, &conf)
	return
}

// parseTiming reads only the [timing] block, used on configuration reloads.
// Each of its keys must be present, which also rejects partially written files.
func parseTiming(filename string) (timing queue.Timing, err error) {
	var conf tomlConfig
	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return
	}

	for _, key := range []string{"retry-delta", "max-retries", "timeout"} {
		if !md.IsDefined("timing", key) {
			err = fmt.Errorf("timing.%s is missing", key)
			return
		}
	}

	timing = conf.Timing
	err = timing.CheckValid()
	return
}

// setupLogging configures logrus from the Logging-configuration block.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// managerConfig derives the manager.Config.
func (conf tomlConfig) managerConfig() manager.Config {
	return manager.Config{
		Product:        packet.Magic(conf.Core.Product),
		MaxConnections: conf.Core.MaxConnections,
		MaxSend:        conf.Core.MaxSend,
		MaxReceive:     conf.Core.MaxReceive,
		DedupWindow:    conf.Core.DedupWindow,
		Timing:         conf.Timing,
	}
}

// tickInterval parses core.tick.
func (conf tomlConfig) tickInterval() (time.Duration, error) {
	if conf.Core.Tick == "" {
		return defaultTick, nil
	}

	d, err := time.ParseDuration(conf.Core.Tick)
	if err != nil {
		return 0, err
	} else if d <= 0 {
		return 0, fmt.Errorf("core.tick %v must be positive", d)
	}
	return d, nil
}

// validID checks if an ID survives manager.PrefixID.
func validID(id int) bool {
	return id >= 0 && int64(id) <= manager.MaxPrefixID
}

// checkValid returns all problems of a configuration.
func (conf tomlConfig) checkValid() (errs error) {
	if !validID(conf.Core.Id) {
		errs = multierror.Append(errs, fmt.Errorf("core.id %d is outside [0, %d]", conf.Core.Id, manager.MaxPrefixID))
	}
	if _, err := conf.tickInterval(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := conf.managerConfig().CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	ids := make(map[int]struct{})
	for _, peer := range conf.Peer {
		if !validID(peer.Id) || peer.Id == conf.Core.Id {
			errs = multierror.Append(errs, fmt.Errorf("peer %q has an invalid id %d", peer.Name, peer.Id))
		} else if _, known := ids[peer.Id]; known {
			errs = multierror.Append(errs, fmt.Errorf("peer id %d is used twice", peer.Id))
		}
		ids[peer.Id] = struct{}{}

		if _, err := packet.ParseAddress(peer.Address); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("peer %q: %w", peer.Name, err))
		}
	}
	return
}

// listenPort extracts the port a Transport is reachable on, announced by
// the discovery.
func listenPort(endpoint string) (port uint, err error) {
	var portStr string
	if _, portStr, err = net.SplitHostPort(endpoint); err != nil {
		return
	}

	var portInt int
	if portInt, err = strconv.Atoi(portStr); err == nil {
		port = uint(portInt)
	}
	return
}

// parseTransport opens the configured Transport and returns the port to be
// announced, zero if the Transport cannot be discovered.
func parseTransport(conf transportConf) (tr transport.Transport, port uint, err error) {
	switch conf.Type {
	case "", "udp":
		if port, err = listenPort(conf.Udp.Listen); err != nil {
			return
		}

		var t *udp.Transport
		if t, err = udp.New(conf.Udp); err == nil {
			tr = t
		}

	case "quicd":
		if port, err = listenPort(conf.Quicd.Listen); err != nil {
			return
		}

		var t *quicd.Transport
		if t, err = quicd.New(conf.Quicd); err == nil {
			tr = t
		}

	case "rf95":
		var t *rf95.Transport
		if t, err = rf95.Open(conf.Rf95); err == nil {
			tr = t
		}

	default:
		err = fmt.Errorf("unknown transport.type %q", conf.Type)
	}
	return
}

// parseDiscovery derives the discovery.Config, and false if it is disabled.
func parseDiscovery(conf discoveryConf) (discovery.Config, bool) {
	if !conf.IPv4 && !conf.IPv6 {
		return discovery.Config{}, false
	}
	if conf.Interval == 0 {
		conf.Interval = 10
	}

	return discovery.Config{
		Interval: time.Duration(conf.Interval) * time.Second,
		IPv4:     conf.IPv4,
		IPv6:     conf.IPv6,
		Port:     conf.Port,
	}, true
}

// registerPeers creates a Connection for each configured peer.
func registerPeers(m *manager.Manager, peers []peerConf) (errs error) {
	for _, peer := range peers {
		addr, err := packet.ParseAddress(peer.Address)
		if err == nil {
			err = m.CreateConnection(channel.ID(peer.Id), peer.Name, addr)
		}

		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("peer %q: %w", peer.Name, err))
		} else {
			log.WithFields(log.Fields{
				"id":      peer.Id,
				"name":    peer.Name,
				"address": addr,
			}).Info("Registered configured peer")
		}
	}
	return
}
