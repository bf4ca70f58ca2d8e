// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package manager

import (
	"bytes"
	"testing"

	"github.com/dtn7/dgram-go/pkg/channel"
)

func TestIDPrefix(t *testing.T) {
	tests := []struct {
		id      channel.ID
		payload []byte
	}{
		{0, nil},
		{1, []byte("hello")},
		{4242, []byte{0x00, 0xff}},
		{channel.NoneID, []byte("x")},
	}

	r := IDPrefixRecognizer()
	for _, test := range tests {
		data := PrefixID(test.id, test.payload)

		id, payload, ok := SplitID(data)
		if !ok || id != test.id || !bytes.Equal(payload, test.payload) {
			t.Fatalf("split %v/%v into %v/%v/%t", test.id, test.payload, id, payload, ok)
		}
		if got := r(data); got != test.id {
			t.Fatalf("recognized %v instead of %v", got, test.id)
		}
	}

	if r([]byte{1, 2}) != channel.NoneID {
		t.Fatal("recognized a too short payload")
	}
}

func TestConfigCheckValid(t *testing.T) {
	if err := DefaultConfig().CheckValid(); err != nil {
		t.Fatal(err)
	}

	conf := DefaultConfig()
	conf.MaxConnections = 0
	if err := conf.CheckValid(); err == nil {
		t.Fatal("zero connections were accepted")
	}
}
