// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/queue"
)

// reloader watches the configuration file and offers its [timing] block after
// each change. Only the latest unconsumed Timing is kept.
type reloader struct {
	filename string
	watcher  *fsnotify.Watcher
	timings  chan queue.Timing
}

// newReloader starts watching a configuration file. The parent directory is
// watched because editors tend to replace files instead of writing them.
func newReloader(filename string) (r *reloader, err error) {
	if filename, err = filepath.Abs(filename); err != nil {
		return
	}

	r = &reloader{
		filename: filename,
		timings:  make(chan queue.Timing, 1),
	}

	if r.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = r.watcher.Add(filepath.Dir(filename)); err != nil {
		_ = r.watcher.Close()
		return nil, err
	}

	go r.handler()
	return
}

func (r *reloader) handler() {
	for {
		select {
		case e, ok := <-r.watcher.Events:
			if !ok {
				log.Debug("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != r.filename {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				log.Debug("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
		}
	}
}

func (r *reloader) reload() {
	timing, err := parseTiming(r.filename)
	if err != nil {
		log.WithError(err).WithField("file", r.filename).Warn("Reloading timing failed, keeping the current one")
		return
	}

	select {
	case <-r.timings:
	default:
	}
	r.timings <- timing

	log.WithField("timing", timing).Debug("Reloaded timing")
}

// Timings offers reloaded Timings.
func (r *reloader) Timings() <-chan queue.Timing {
	return r.timings
}

// Close stops watching.
func (r *reloader) Close() error {
	return r.watcher.Close()
}
