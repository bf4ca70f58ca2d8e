// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/discovery"
	"github.com/dtn7/dgram-go/pkg/manager"
	"github.com/dtn7/dgram-go/pkg/monitor"
	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
	"github.com/dtn7/dgram-go/pkg/replay"
)

// daemon owns a Manager and drives it from a single tick loop. Every other
// component hands its events to this loop through channels.
type daemon struct {
	self     channel.ID
	interval time.Duration
	now      uint64

	mgr    *manager.Manager
	static map[channel.ID]peerConf

	store    *replay.Store
	recorder *replay.Recorder

	disco      *discovery.Manager
	mon        *monitor.Monitor
	httpServer *http.Server
	reload     *reloader

	input chan string
}

// newDaemon creates all configured components. On error, the already
// created ones are closed again.
func newDaemon(filename string, conf tomlConfig) (d *daemon, err error) {
	if err = conf.checkValid(); err != nil {
		return
	}

	d = &daemon{
		self:   channel.ID(conf.Core.Id),
		static: make(map[channel.ID]peerConf),
	}
	d.interval, _ = conf.tickInterval()

	defer func() {
		if err != nil {
			_ = d.Close()
			d = nil
		}
	}()

	tr, port, err := parseTransport(conf.Transport)
	if err != nil {
		return
	}

	if conf.Replay.Store != "" {
		if d.store, err = replay.NewStore(conf.Replay.Store); err != nil {
			_ = tr.Close()
			return
		}
		d.recorder = replay.NewRecorder(tr, d.store)
		tr = d.recorder

		log.WithField("store", conf.Replay.Store).Info("Recording datagrams")
	}

	// A restarted daemon continues with higher Sequences than its previous run.
	mconf := conf.managerConfig()
	mconf.SequenceBase = uint32(time.Now().UnixMilli())

	if d.mgr, err = manager.NewManager(tr, mconf); err != nil {
		_ = tr.Close()
		return
	}
	d.mgr.SetRecognizer(manager.IDPrefixRecognizer())

	for _, peer := range conf.Peer {
		d.static[channel.ID(peer.Id)] = peer
	}
	if err = registerPeers(d.mgr, conf.Peer); err != nil {
		return
	}

	if discoConf, ok := parseDiscovery(conf.Discovery); ok && port != 0 {
		self := discovery.Announcement{
			Product: d.mgr.Config().Product,
			ID:      d.self,
			Name:    conf.Core.Name,
			Port:    port,
		}
		if d.disco, err = discovery.NewManager(self, discoConf); err != nil {
			return
		}
	}

	if conf.Monitor.Listen != "" {
		router := mux.NewRouter()
		d.mon = monitor.NewMonitor(router)
		d.httpServer = &http.Server{
			Addr:    conf.Monitor.Listen,
			Handler: router,
		}

		go func() {
			if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Monitor's HTTP server errored")
			}
		}()
	}

	if d.reload, err = newReloader(filename); err != nil {
		return
	}

	return
}

// readInput offers each line of the reader on the input channel.
func (d *daemon) readInput(r io.Reader) {
	d.input = make(chan string)

	go func() {
		defer close(d.input)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			d.input <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("Reading input errored")
		}
	}()
}

// run the tick loop until a signal is received.
func (d *daemon) run(closeChan <-chan os.Signal) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var discovered <-chan discovery.Discovery
	if d.disco != nil {
		discovered = d.disco.Discovered()
	}

	input := d.input

	for {
		select {
		case <-closeChan:
			log.Info("Received interrupt signal")
			return

		case <-ticker.C:
			d.tick()

		case timing := <-d.reload.Timings():
			d.setTiming(timing)

		case disc := <-discovered:
			d.handleDiscovery(disc)

		case line, ok := <-input:
			if !ok {
				log.Debug("Input was closed")
				input = nil
				continue
			}
			d.handleLine(line)
		}
	}
}

// tick advances the Manager by one tick.
func (d *daemon) tick() {
	d.now++

	if d.recorder != nil {
		d.recorder.Advance(d.now)
	}
	d.mgr.Poll(d.now)

	for {
		data, id, ok := d.mgr.ReceiveAny()
		if !ok {
			break
		}

		logger := log.WithField("connection", id)
		if sender, payload, ok := manager.SplitID(data); ok {
			logger.WithFields(log.Fields{
				"sender":  sender,
				"message": string(payload),
			}).Info("Received message")
		} else {
			logger.WithField("length", len(data)).Info("Received unprefixed message")
		}
	}

	for {
		data, from, product, ok := d.mgr.ReceiveBroadcast()
		if !ok {
			break
		}

		log.WithFields(log.Fields{
			"from":    from,
			"product": product,
			"message": string(data),
		}).Info("Received broadcast")
	}

	if bad := d.mgr.BadConnection(); bad != channel.NoneID {
		d.resetConnection(bad)
		d.mgr.ResetBadConnection()
	}

	if d.mon != nil {
		d.mon.Publish(d.mgr.Snapshot())
	}
}

// resetConnection replaces a failing Connection by a fresh one to the same
// peer, dropping its outstanding datagrams.
func (d *daemon) resetConnection(id channel.ID) {
	name, _ := d.mgr.ConnectionName(id)
	addr, err := d.mgr.ConnectionAddress(id)
	if err != nil {
		return
	}

	logger := log.WithFields(log.Fields{
		"connection": id,
		"name":       name,
		"address":    addr,
	})

	if err := d.mgr.DeleteConnection(id); err != nil {
		logger.WithError(err).Warn("Deleting bad connection failed")
		return
	}

	if _, static := d.static[id]; !static {
		logger.Warn("Deleted bad discovered connection")
		return
	}

	if err := d.mgr.CreateConnection(id, name, addr); err != nil {
		logger.WithError(err).Warn("Recreating bad connection failed")
	} else {
		logger.Warn("Recreated bad connection")
	}
}

func (d *daemon) setTiming(timing queue.Timing) {
	if err := d.mgr.SetTiming(timing); err != nil {
		log.WithError(err).Warn("Applying reloaded timing failed")
	} else {
		log.WithField("timing", timing).Info("Applied reloaded timing")
	}
}

// handleDiscovery creates a Connection for a newly discovered peer.
func (d *daemon) handleDiscovery(disc discovery.Discovery) {
	logger := log.WithField("discovery", disc)

	if addr, err := d.mgr.ConnectionAddress(disc.ID); err == nil {
		if addr != disc.Address {
			logger.WithField("address", addr).Debug("Discovered known peer at another address")
		}
		return
	}

	if err := d.mgr.CreateConnection(disc.ID, disc.Name, disc.Address); err != nil {
		logger.WithError(err).Warn("Creating connection for discovered peer failed")
	} else {
		logger.Info("Created connection for discovered peer")
	}
}

// handleLine sends a message from the input. Lines are addressed as
// "id message", "* message" for all Connections or "! message" for a
// broadcast.
func (d *daemon) handleLine(line string) {
	target, msg, found := strings.Cut(strings.TrimSpace(line), " ")
	if !found || msg == "" {
		log.WithField("line", line).Warn("Input must be \"id|*|! message\"")
		return
	}

	var err error
	switch target {
	case "!":
		err = d.mgr.SendBroadcast([]byte(msg), true, packet.Address{})

	case "*":
		err = d.mgr.SendToAll(manager.PrefixID(d.self, []byte(msg)), true)

	default:
		var id int
		if id, err = strconv.Atoi(target); err == nil {
			err = d.mgr.SendTo(channel.ID(id), manager.PrefixID(d.self, []byte(msg)), true)
		}
	}

	if err != nil {
		log.WithError(err).WithField("target", target).Warn("Sending message failed")
	}
}

// Close all components.
func (d *daemon) Close() (errs error) {
	if d.reload != nil {
		if err := d.reload.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if d.disco != nil {
		d.disco.Close()
	}
	if d.httpServer != nil {
		if err := d.httpServer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if d.mon != nil {
		d.mon.Close()
	}
	if d.mgr != nil {
		if err := d.mgr.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if d.recorder != nil {
		if err := d.recorder.Err(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("recording: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return
}
