// SPDX-FileCopyrightText: 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/channel"
	"github.com/dtn7/dgram-go/pkg/manager"
)

// Monitor serves published Snapshots.
type Monitor struct {
	router   *mux.Router
	upgrader websocket.Upgrader

	mutex    sync.Mutex
	snapshot manager.Snapshot
	clients  map[*wsClient]struct{}
	closed   bool
}

// NewMonitor registers its handlers on the router.
func NewMonitor(router *mux.Router) (m *Monitor) {
	m = &Monitor{
		router:  router,
		clients: make(map[*wsClient]struct{}),
		snapshot: manager.Snapshot{
			BadConnection: channel.NoneID,
			Connections:   []manager.ChannelStats{},
		},
	}

	m.router.HandleFunc("/stats", m.handleStats).Methods(http.MethodGet)
	m.router.HandleFunc("/connections", m.handleConnections).Methods(http.MethodGet)
	m.router.HandleFunc("/connections/{id:-?[0-9]+}", m.handleConnection).Methods(http.MethodGet)
	m.router.HandleFunc("/ws", m.handleWebSocket)

	return
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// Publish a new Snapshot to be served and pushed to all WebSocket clients.
func (m *Monitor) Publish(s manager.Snapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return
	}

	m.snapshot = s
	for client := range m.clients {
		client.push(s)
	}
}

// Snapshot returns the latest published Snapshot.
func (m *Monitor) Snapshot() manager.Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.snapshot
}

// Close disconnects all WebSocket clients. Later Publish calls are ignored.
func (m *Monitor) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	for client := range m.clients {
		client.shutdown()
		delete(m.clients, client)
	}
}

func writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write monitor response")
	}
}

// handleStats processes /stats GET requests.
func (m *Monitor) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJson(w, http.StatusOK, m.Snapshot())
}

// handleConnections processes /connections GET requests.
func (m *Monitor) handleConnections(w http.ResponseWriter, _ *http.Request) {
	writeJson(w, http.StatusOK, m.Snapshot().Connections)
}

// handleConnection processes /connections/{id} GET requests.
func (m *Monitor) handleConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	for _, stats := range m.Snapshot().Connections {
		if stats.ID == channel.ID(id) {
			writeJson(w, http.StatusOK, stats)
			return
		}
	}

	writeJson(w, http.StatusNotFound, map[string]string{"error": manager.ErrNotFound.Error()})
}

// handleWebSocket upgrades /ws requests and registers a new client.
func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, connErr := m.upgrader.Upgrade(w, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := newWsClient(conn)

	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		client.shutdown()
		return
	}
	m.clients[client] = struct{}{}
	client.push(m.snapshot)
	m.mutex.Unlock()

	client.start()

	m.mutex.Lock()
	delete(m.clients, client)
	m.mutex.Unlock()
}
