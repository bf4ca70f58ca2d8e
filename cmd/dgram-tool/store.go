// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dgram-go/pkg/replay"
)

// exportStore for the "export" CLI option.
func exportStore(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	var (
		storeDir = args[0]
		output   = args[1]

		err   error
		f     io.WriteCloser
		store *replay.Store
	)

	if store, err = replay.NewStore(storeDir); err != nil {
		printFatal(err, "Opening store errored")
	}
	defer store.Close()

	if output == "-" {
		f = os.Stdout
	} else if f, err = os.Create(output); err != nil {
		printFatal(err, "Creating file errored")
	}

	if err = replay.ExportStore(store, f); err != nil {
		printFatal(err, "Exporting events errored")
	}
	if err = f.Close(); err != nil {
		printFatal(err, "Closing file errored")
	}

	log.WithFields(log.Fields{
		"store":  storeDir,
		"events": store.Len(),
	}).Info("Exported events")
}

// importStore for the "import" CLI option.
func importStore(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	var (
		input    = args[0]
		storeDir = args[1]

		err   error
		f     io.ReadCloser
		store *replay.Store
		n     int
	)

	if input == "-" {
		f = os.Stdin
	} else if f, err = os.Open(input); err != nil {
		printFatal(err, "Opening file for reading errored")
	}

	if store, err = replay.NewStore(storeDir); err != nil {
		printFatal(err, "Opening store errored")
	}
	defer store.Close()

	if n, err = replay.ImportStore(store, f); err != nil {
		printFatal(err, "Importing events errored")
	}
	if err = f.Close(); err != nil {
		printFatal(err, "Closing file errored")
	}

	log.WithFields(log.Fields{
		"store":  storeDir,
		"events": n,
	}).Info("Imported events")
}
