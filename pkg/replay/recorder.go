// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/transport"
)

// Recorder is a Transport which persists every datagram passing through the
// wrapped Transport into a Store. Its tick must be advanced before each Poll.
type Recorder struct {
	tr    transport.Transport
	store *Store

	mutex sync.Mutex
	tick  uint64
	err   error
}

// NewRecorder wraps a Transport. The Store is not closed by the Recorder.
func NewRecorder(tr transport.Transport, store *Store) *Recorder {
	return &Recorder{
		tr:    tr,
		store: store,
	}
}

// Advance sets the tick of all subsequently recorded Events.
func (r *Recorder) Advance(now uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.tick = now
}

func (r *Recorder) record(dir Direction, addr packet.Address, data []byte, ok bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e := Event{
		Tick:      r.tick,
		Direction: dir,
		Address:   addr,
		Data:      data,
		Ok:        ok,
	}
	if _, err := r.store.Push(e); err != nil {
		log.WithFields(log.Fields{
			"recorder": r,
			"error":    err,
		}).Warn("Recording an event failed")

		r.err = multierror.Append(r.err, err)
	}
}

// Send the datagram through the wrapped Transport and record it.
func (r *Recorder) Send(data []byte, addr packet.Address) bool {
	ok := r.tr.Send(data, addr)
	r.record(Outbound, addr, data, ok)
	return ok
}

// Receive from the wrapped Transport and record a received datagram.
func (r *Recorder) Receive() (data []byte, from packet.Address, ok bool) {
	if data, from, ok = r.tr.Receive(); ok {
		r.record(Inbound, from, data, true)
	}
	return
}

// Available checks the wrapped Transport.
func (r *Recorder) Available() bool {
	return r.tr.Available()
}

// Close the wrapped Transport.
func (r *Recorder) Close() error {
	return r.tr.Close()
}

// Err returns all errors which occurred while recording.
func (r *Recorder) Err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.err
}

func (r *Recorder) String() string {
	return fmt.Sprintf("Recorder(%v)", r.tr)
}
