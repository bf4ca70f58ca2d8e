// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// dgramd runs a Manager over a configured transport. Lines read from stdin are
// sent as messages; received messages are logged.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	setupLogging(conf.Logging)

	d, err := newDaemon(os.Args[1], conf)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to start daemon")
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	d.readInput(os.Stdin)
	d.run(closeChan)

	log.Info("Shutting down..")

	if err := d.Close(); err != nil {
		log.WithError(err).Warn("Closing daemon errored")
	}
}
