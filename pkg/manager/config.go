// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package manager

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/dgram-go/pkg/packet"
	"github.com/dtn7/dgram-go/pkg/queue"
)

// Config of a Manager.
type Config struct {
	// Product is this node's Magic. Datagrams with another Magic than Product or
	// packet.MagicBroadcast belong to unrelated applications and are ignored.
	Product packet.Magic `toml:"product" json:"product"`

	// MaxConnections limits the amount of simultaneous Connections.
	MaxConnections int `toml:"max-connections" json:"max_connections"`

	// MaxSend and MaxReceive are each channel's queue capacities.
	MaxSend    int `toml:"max-send" json:"max_send"`
	MaxReceive int `toml:"max-receive" json:"max_receive"`

	// DedupWindow is the amount of accepted datagrams each channel remembers
	// to suppress duplicates.
	DedupWindow int `toml:"dedup-window" json:"dedup_window"`

	// Timing is the default retry policy for all channels.
	Timing queue.Timing `toml:"timing" json:"timing"`

	// SequenceBase is the Sequence all channels of a fresh Manager count
	// from. A restarted node should pick a new base, e.g., from the wall
	// clock, to keep its peers from suppressing its datagrams as duplicates.
	SequenceBase uint32 `toml:"-" json:"sequence_base"`
}

// DefaultConfig returns a Config usable for a tick rate of about 60 Hz.
func DefaultConfig() Config {
	return Config{
		Product:        0x0001,
		MaxConnections: 8,
		MaxSend:        16,
		MaxReceive:     32,
		DedupWindow:    64,
		Timing: queue.Timing{
			RetryDelta: 10,
			MaxRetries: queue.UnlimitedRetries,
			Timeout:    300,
		},
	}
}

// queueConfig derives the queue.Config for a channel.
func (c Config) queueConfig() queue.Config {
	return queue.Config{
		Timing:        c.Timing,
		MaxSend:       c.MaxSend,
		MaxReceive:    c.MaxReceive,
		DedupWindow:   c.DedupWindow,
		FirstSequence: c.SequenceBase,
	}
}

// CheckValid returns an error for an unusable Config, listing every problem.
func (c Config) CheckValid() (errs error) {
	if c.Product.IsBroadcast() {
		errs = multierror.Append(errs, fmt.Errorf("product %v is reserved", c.Product))
	}
	if c.MaxConnections <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("max connections %d must be positive", c.MaxConnections))
	}
	if err := c.queueConfig().CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}
