// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"os"
	"path"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// Store persists Events. It may be used concurrently.
type Store struct {
	bh *badgerhold.Store

	mutex  sync.Mutex
	nextId uint64

	badgerDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
// Events of an existing Store are kept and new Events are appended.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	bh, bhErr := badgerhold.Open(opts)
	if bhErr != nil {
		err = bhErr
		return
	}

	s = &Store{
		bh:        bh,
		badgerDir: badgerDir,
	}

	if events, evErr := s.Events(); evErr != nil {
		_ = bh.Close()
		s, err = nil, evErr
	} else if len(events) > 0 {
		s.nextId = events[len(events)-1].Id + 1
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Push a new Event to the Store. Its Id is assigned by the Store.
func (s *Store) Push(e Event) (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e.Id = s.nextId
	if err := s.bh.Insert(e.Id, e); err != nil {
		return 0, err
	}

	s.nextId++

	log.WithFields(log.Fields{
		"event": e,
	}).Trace("Store pushed event")

	return e.Id, nil
}

// Events returns all stored Events in their recording order.
func (s *Store) Events() (events []Event, err error) {
	err = s.bh.Find(&events, badgerhold.Where("Tick").Ge(uint64(0)))
	sortEvents(events)
	return
}

// Range returns the Events recorded within the ticks [from, to].
func (s *Store) Range(from, to uint64) (events []Event, err error) {
	err = s.bh.Find(&events, badgerhold.Where("Tick").Ge(from).And("Tick").Le(to))
	sortEvents(events)
	return
}

// Len is the amount of stored Events.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return int(s.nextId)
}

// Clear deletes all Events.
func (s *Store) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	events, err := s.Events()
	if err != nil {
		return err
	}

	for _, e := range events {
		if err := s.bh.Delete(e.Id, Event{}); err != nil {
			return err
		}
	}

	s.nextId = 0
	log.WithField("events", len(events)).Info("Store cleared")
	return nil
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Id < events[j].Id
	})
}
