// SPDX-FileCopyrightText: 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// dgram-tool inspects datagram sessions recorded by dgramd.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of dgram-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s export|import|show:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s export store-directory -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Exports all events of a replay store to stdout (-) or the given file.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s import -|filename store-directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Appends exported events from stdin (-) or the given file to a replay store.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s show -|filename [from-tick [to-tick]]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints a human-readable version of exported events, optionally limited\n")
	_, _ = fmt.Fprintf(os.Stderr, "  to a range of ticks.\n\n")

	os.Exit(1)
}

// printFatal logs the error and exits.
func printFatal(err error, msg string) {
	log.WithError(err).Fatal(msg)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "export":
		exportStore(os.Args[2:])

	case "import":
		importStore(os.Args[2:])

	case "show":
		showEvents(os.Args[2:])

	default:
		printUsage()
	}
}
