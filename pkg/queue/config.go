// SPDX-FileCopyrightText: 2024 The dgram-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// UnlimitedRetries disables the retry limit; only the Timeout applies.
const UnlimitedRetries = -1

// Timing is the retry policy of a Queue. All durations are ticks.
type Timing struct {
	// RetryDelta is the amount of ticks between two transmissions of the same
	// unacknowledged datagram.
	RetryDelta uint64 `toml:"retry-delta" json:"retry_delta"`

	// MaxRetries limits retransmissions per datagram; UnlimitedRetries
	// disables this limit.
	MaxRetries int `toml:"max-retries" json:"max_retries"`

	// Timeout is the amount of ticks after the first transmission attempt
	// until an unacknowledged datagram renders its Queue unhealthy.
	Timeout uint64 `toml:"timeout" json:"timeout"`
}

// CheckValid returns an error for an unusable Timing.
func (t Timing) CheckValid() (errs error) {
	if t.RetryDelta == 0 {
		errs = multierror.Append(errs, fmt.Errorf("retry delta must be positive"))
	}
	if t.MaxRetries < UnlimitedRetries {
		errs = multierror.Append(errs, fmt.Errorf("max retries %d is neither %d nor positive", t.MaxRetries, UnlimitedRetries))
	}
	if t.Timeout == 0 {
		errs = multierror.Append(errs, fmt.Errorf("timeout must be positive"))
	}
	return
}

func (t Timing) String() string {
	return fmt.Sprintf("Timing(delta: %d, retries: %d, timeout: %d)", t.RetryDelta, t.MaxRetries, t.Timeout)
}

// Config bundles a Queue's capacities and its initial Timing.
type Config struct {
	Timing

	// MaxSend and MaxReceive are the capacities of the send and receive list.
	MaxSend    int
	MaxReceive int

	// DedupWindow is the amount of recently accepted datagrams remembered to
	// suppress retransmitted duplicates. Zero disables suppression.
	DedupWindow int

	// DedupPerSender keys the duplicate suppression by sender Address and
	// Sequence. Otherwise only the Sequence is used, which survives an address
	// change of the single peer.
	DedupPerSender bool

	// FirstSequence is the counter's initial value; the first EnqueueSend
	// issues its successor. A Queue replacing another one towards the same
	// peer must start beyond its predecessor's LastSequence, otherwise the
	// peer suppresses the new datagrams as duplicates.
	FirstSequence uint32
}

// CheckValid returns an error for an unusable Config.
func (c Config) CheckValid() (errs error) {
	if err := c.Timing.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.MaxSend <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("send capacity %d must be positive", c.MaxSend))
	}
	if c.MaxReceive <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("receive capacity %d must be positive", c.MaxReceive))
	}
	if c.DedupWindow < 0 {
		errs = multierror.Append(errs, fmt.Errorf("dedup window %d must not be negative", c.DedupWindow))
	}
	return
}
