// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package manager

import (
	"encoding/binary"
	"math"

	"github.com/dtn7/dgram-go/pkg/channel"
)

// Recognizer classifies the payload of a datagram from an unknown sender
// Address. It returns the ID of the Connection the datagram belongs to or
// channel.NoneID.
//
// A Recognizer lets a Connection survive an Address change of its peer: the
// Manager rebinds the recognized Connection to the new Address.
//
// Every datagram from an unknown Address is offered, acknowledgements
// included. Those carry an empty payload, which a payload based Recognizer
// like IDPrefixRecognizer cannot classify.
type Recognizer func(payload []byte) channel.ID

// idPrefixLen is the size of the ID prefix used by IDPrefixRecognizer.
const idPrefixLen = 4

// MaxPrefixID is the largest ID PrefixID encodes without truncation.
const MaxPrefixID = math.MaxInt32

// PrefixID prepends a sender's ID to a payload, as expected by
// IDPrefixRecognizer. IDs must lie within [channel.NoneID, MaxPrefixID].
func PrefixID(id channel.ID, payload []byte) []byte {
	data := make([]byte, idPrefixLen+len(payload))
	binary.BigEndian.PutUint32(data, uint32(int32(id)))
	copy(data[idPrefixLen:], payload)
	return data
}

// SplitID is the inverse of PrefixID.
func SplitID(data []byte) (id channel.ID, payload []byte, ok bool) {
	if len(data) < idPrefixLen {
		return channel.NoneID, nil, false
	}
	return channel.ID(int32(binary.BigEndian.Uint32(data))), data[idPrefixLen:], true
}

// IDPrefixRecognizer recognizes payloads created by PrefixID. Peers must use
// their own ID as the prefix, and the local Connection to a peer must carry
// the peer's ID.
func IDPrefixRecognizer() Recognizer {
	return func(payload []byte) channel.ID {
		if id, _, ok := SplitID(payload); ok {
			return id
		}
		return channel.NoneID
	}
}
