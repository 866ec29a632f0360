package mnet

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Tuning defaults. All of them can be overridden per Transport.
const (
	// DefaultMTU is the fragmentation threshold: payloads above it are
	// split into a chain of fragments.
	DefaultMTU = 1024

	// DefaultMaxSequence is the sequence value after which numbering wraps
	// back to 1. Fewer than half of it may be in flight to one peer.
	DefaultMaxSequence uint32 = 1 << 15

	// DefaultRetransmitInterval is how long a reliable packet stays
	// unacknowledged before the next Receive call resends it.
	DefaultRetransmitInterval = 2 * time.Second

	// DefaultDropTimeout is the absolute deadline after which an
	// unacknowledged packet is reported lost and discarded.
	DefaultDropTimeout = 30 * time.Second

	// DefaultDedupHorizon bounds the age of deduplication entries and of
	// acknowledged send records kept around for duplicate-ack suppression.
	DefaultDedupHorizon = 30 * time.Second
)

// LossHandler is invoked, outside the transport lock, when a reliable packet
// stays unacknowledged past the drop timeout. The transport does not retry
// further: the payload is handed back and the record discarded.
type LossHandler func(host string, seq uint32, port uint16, payload []byte)

type config struct {
	hostname     string
	medium       Medium
	channel      uint16
	mtu          int
	maxSequence  uint32
	retransmit   time.Duration
	dropTimeout  time.Duration
	dedupHorizon time.Duration
	onLoss       LossHandler
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

// Option to pass to `Create`.
type Option func(*config) error

// WithHostname sets the name under which this host is addressed on the mesh.
// For a well-behaving mesh, the name MUST be unique.
func WithHostname(hostname string) Option {
	return func(c *config) error {
		if !ValidateHostName(hostname) {
			return ErrHostInvalid
		}
		c.hostname = hostname
		return nil
	}
}

// WithMedium sets the broadcast medium the transport runs on.
func WithMedium(m Medium) Option {
	return func(c *config) error {
		if m == nil {
			return ErrNoMedium
		}
		c.medium = m
		return nil
	}
}

// WithChannel sets the shared hardware channel number. Frames heard on
// another channel are ignored, so independent meshes can share one medium.
func WithChannel(channel uint16) Option {
	return func(c *config) error {
		c.channel = channel
		return nil
	}
}

// WithMTU sets the fragmentation threshold in bytes.
func WithMTU(mtu int) Option {
	return func(c *config) error {
		if mtu == 0 {
			mtu = DefaultMTU
		}
		c.mtu = mtu
		return nil
	}
}

// WithMaxSequence sets the sequence wraparound value. It must leave room for
// a usable in-flight window, so values below 4 are rejected.
func WithMaxSequence(max uint32) Option {
	return func(c *config) error {
		if max == 0 {
			max = DefaultMaxSequence
		}
		c.maxSequence = max
		return nil
	}
}

// WithRetransmitInterval controls how long a reliable packet may stay
// unacknowledged before a Receive call resends it.
func WithRetransmitInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval == 0 {
			interval = DefaultRetransmitInterval
		}
		c.retransmit = interval
		return nil
	}
}

// WithDropTimeout controls the absolute deadline after which an
// unacknowledged packet is reported via the loss handler and discarded.
func WithDropTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultDropTimeout
		}
		c.dropTimeout = timeout
		return nil
	}
}

// WithDedupHorizon controls how long deduplication entries are remembered.
func WithDedupHorizon(horizon time.Duration) Option {
	return func(c *config) error {
		if horizon == 0 {
			horizon = DefaultDedupHorizon
		}
		c.dedupHorizon = horizon
		return nil
	}
}

// WithLossHandler registers the callback reporting permanently lost packets.
func WithLossHandler(h LossHandler) Option {
	return func(c *config) error {
		c.onLoss = h
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to choose how to collect the metrics emitted by
// the transport.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// transport.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}
