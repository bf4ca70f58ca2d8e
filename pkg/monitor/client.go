// SPDX-FileCopyrightText: 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/manager"
)

// wsClient receives each published Snapshot. A slow client skips stale
// Snapshots instead of blocking Publish.
type wsClient struct {
	conn    *websocket.Conn
	updates chan manager.Snapshot
	closeCh chan struct{}

	shutdownOnce sync.Once
}

func newWsClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:    conn,
		updates: make(chan manager.Snapshot, 1),
		closeCh: make(chan struct{}),
	}
}

// push the latest Snapshot, replacing an unsent one.
func (client *wsClient) push(s manager.Snapshot) {
	for {
		select {
		case client.updates <- s:
			return
		default:
		}

		select {
		case <-client.updates:
		default:
		}
	}
}

// start blocks until the connection is closed.
func (client *wsClient) start() {
	go client.handleConn()
	client.handleUpdates()
}

func (client *wsClient) shutdown() {
	client.shutdownOnce.Do(func() {
		log.WithField("monitor client", client.conn.RemoteAddr().String()).Debug("Reached shutdown")

		close(client.closeCh)
		_ = client.conn.Close()
	})
}

// handleConn reads and discards client messages to process control frames.
func (client *wsClient) handleConn() {
	defer client.shutdown()

	for {
		if _, _, err := client.conn.NextReader(); err != nil {
			log.WithField("monitor client", client.conn.RemoteAddr().String()).WithError(err).Debug("Reading errored")
			return
		}
	}
}

func (client *wsClient) handleUpdates() {
	defer client.shutdown()

	for {
		select {
		case <-client.closeCh:
			return

		case s := <-client.updates:
			if err := client.conn.WriteJSON(s); err != nil {
				log.WithField("monitor client", client.conn.RemoteAddr().String()).WithError(err).Warn("Sending snapshot errored")
				return
			}
		}
	}
}
