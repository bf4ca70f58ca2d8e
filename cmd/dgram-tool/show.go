// SPDX-FileCopyrightText: 2020 Alvar Penning
// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/replay"
)

// describeEvent as a single line, decoding the datagram if possible.
func describeEvent(e replay.Event) string {
	line := fmt.Sprintf("%6d %-3v %-40v", e.Tick, e.Direction, e.Address)

	if p, err := packet.ParsePacket(e.Data); err != nil {
		line += fmt.Sprintf(" undecodable (%d bytes): %v", len(e.Data), err)
	} else {
		line += " " + p.String()
	}

	if e.Direction == replay.Outbound && !e.Ok {
		line += " [send failed]"
	}
	return line
}

// parseTickRange parses the optional from-tick and to-tick arguments.
func parseTickRange(args []string) (from, to uint64, err error) {
	to = math.MaxUint64

	if len(args) > 0 {
		if from, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			return
		}
	}
	if len(args) > 1 {
		if to, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			return
		}
	}
	if from > to {
		err = fmt.Errorf("from-tick %d exceeds to-tick %d", from, to)
	}
	return
}

// showEvents for the "show" CLI option.
func showEvents(args []string) {
	if len(args) < 1 || len(args) > 3 {
		printUsage()
	}

	var (
		input = args[0]

		err      error
		f        io.ReadCloser
		events   []replay.Event
		from, to uint64
	)

	if from, to, err = parseTickRange(args[1:]); err != nil {
		printFatal(err, "Parsing tick range errored")
	}

	if input == "-" {
		f = os.Stdin
	} else if f, err = os.Open(input); err != nil {
		printFatal(err, "Opening file for reading errored")
	}

	if events, err = replay.Import(f); err != nil {
		printFatal(err, "Importing events errored")
	}
	if err = f.Close(); err != nil {
		printFatal(err, "Closing file errored")
	}

	for _, e := range events {
		if e.Tick >= from && e.Tick <= to {
			fmt.Println(describeEvent(e))
		}
	}
}
