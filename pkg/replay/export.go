// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package replay

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/ulikunitz/xz"
)

// Export Events as a xz compressed CBOR array.
func Export(events []Event, w io.Writer) error {
	xzW, err := xz.NewWriter(w)
	if err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(events)), xzW); err != nil {
		return err
	}
	for i := range events {
		if err := cboring.Marshal(&events[i], xzW); err != nil {
			return fmt.Errorf("marshalling event %d failed: %w", i, err)
		}
	}

	return xzW.Close()
}

// Import Events written by Export.
func Import(r io.Reader) (events []Event, err error) {
	xzR, xzErr := xz.NewReader(r)
	if xzErr != nil {
		err = xzErr
		return
	}
	buf := bufio.NewReader(xzR)

	if l, cErr := cboring.ReadArrayLength(buf); cErr != nil {
		err = cErr
		return
	} else {
		events = make([]Event, l)
	}

	for i := range events {
		if cErr := cboring.Unmarshal(&events[i], buf); cErr != nil {
			err = fmt.Errorf("unmarshalling event %d failed: %w", i, cErr)
			return
		}
	}
	return
}

// ExportStore exports all Events of a Store.
func ExportStore(s *Store, w io.Writer) error {
	events, err := s.Events()
	if err != nil {
		return err
	}
	return Export(events, w)
}

// ImportStore appends imported Events to a Store, assigning new Ids.
func ImportStore(s *Store, r io.Reader) (int, error) {
	events, err := Import(r)
	if err != nil {
		return 0, err
	}

	for i, e := range events {
		if _, err := s.Push(e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}
