package mnet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Message is what Receive hands back to the application: one complete,
// reassembled message from one peer.
type Message struct {
	From    string
	Port    uint16
	Payload []byte
}

// Handle identifies the last packet of a reliable send, so the caller can
// later await its acknowledgment.
type Handle struct {
	Host string
	Seq  uint32
}

// Transport owns the whole protocol state of one host: sequence counters,
// send and receive records, the deduplication cache. Several transports can
// coexist in one process (each on its own medium port), which is how the
// test suite exercises multi-host topologies.
//
// All methods are safe for concurrent use, but the protocol stays
// cooperative: retransmission, acknowledgment, forwarding and eviction only
// happen inside Receive. See the package documentation.
type Transport struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink
	medium Medium

	lk      sync.Mutex
	closed  bool
	closeCh chan struct{}

	dedup       *dedupCache
	sendSeq     map[classKey]uint32
	sendRecords map[sendKey]*sendRecord
	recvRecords map[recvKey]*recvRecord
	recvStates  map[string]*peerRecvState

	// ready holds messages completed by a previous frame but not yet
	// returned: one frame can complete several buffered messages at once.
	ready []*Message
}

// classKey separates the reliable and unreliable sequence streams to one
// peer.
type classKey struct {
	host     string
	reliable bool
}

type sendKey struct {
	host string
	seq  uint32
}

type recvKey struct {
	host     string
	seq      uint32
	reliable bool
}

// Create builds a Transport. A medium and a hostname are required.
func Create(opts ...Option) (*Transport, error) {
	t := &Transport{
		closeCh:     make(chan struct{}),
		sendSeq:     make(map[classKey]uint32),
		sendRecords: make(map[sendKey]*sendRecord),
		recvRecords: make(map[recvKey]*recvRecord),
		recvStates:  make(map[string]*peerRecvState),
	}

	c := &t.cfg
	c.mtu = DefaultMTU
	c.maxSequence = DefaultMaxSequence
	c.retransmit = DefaultRetransmitInterval
	c.dropTimeout = DefaultDropTimeout
	c.dedupHorizon = DefaultDedupHorizon

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.medium == nil {
		return nil, ErrNoMedium
	}
	if !ValidateHostName(c.hostname) {
		return nil, ErrHostInvalid
	}
	if c.mtu < 1 || c.maxSequence < 4 {
		return nil, ErrInvalidCfg
	}

	if c.logHandler == nil {
		t.logger = slog.Default()
	} else {
		t.logger = slog.New(c.logHandler)
	}
	if c.msink == nil {
		t.msink = metrics.Default()
	} else {
		t.msink = c.msink
	}

	t.medium = c.medium
	t.dedup = newDedupCache(c.dedupHorizon)
	return t, nil
}

// Hostname under which this transport is addressed.
func (t *Transport) Hostname() string {
	return t.cfg.hostname
}

// Receive is the protocol pump. It first performs housekeeping — resending
// overdue reliable packets, evicting expired cache entries — and then waits
// up to timeout for one inbound frame. Frames addressed elsewhere are
// re-broadcast (flood forwarding) and yield no message; a nil Message with a
// nil error means nothing was delivered this call.
//
// Callers must keep invoking Receive in a loop, even when they expect no
// data: nothing in the protocol happens outside this call.
func (t *Transport) Receive(timeout time.Duration) (*Message, error) {
	t.lk.Lock()
	if t.closed {
		t.lk.Unlock()
		return nil, ErrClosed
	}
	losses := t.housekeeping(time.Now())
	msg := t.popReady()
	t.lk.Unlock()

	t.reportLosses(losses)
	if msg != nil {
		return msg, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-t.medium.FrameCh():
		if !ok {
			return nil, ErrMediumClosed
		}
		t.lk.Lock()
		if t.closed {
			t.lk.Unlock()
			return nil, ErrClosed
		}
		t.handleFrame(frame, time.Now())
		msg := t.popReady()
		t.lk.Unlock()
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-t.closeCh:
		return nil, ErrClosed
	}
}

// Close shuts the transport down: pending ack waiters are released with
// ErrClosed and the medium is closed. Close is idempotent.
func (t *Transport) Close() error {
	t.lk.Lock()
	if t.closed {
		t.lk.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	for key, rec := range t.sendRecords {
		if rec.payload != nil {
			rec.err = ErrClosed
			close(rec.done)
		}
		delete(t.sendRecords, key)
	}
	t.lk.Unlock()
	return t.medium.Close()
}

// handleFrame consumes exactly one inbound frame. Caller holds the lock.
func (t *Transport) handleFrame(frame []byte, now time.Time) {
	t.msink.IncrCounterWithLabels(MetricMnetFrameInCount, 1, t.cfg.metricLabels)

	p, err := decodePacket(frame)
	if err != nil {
		// Not for this protocol, or damaged on the wire. Not an error
		// from the application's point of view.
		t.logger.Debug("dropping malformed frame", LabelError.L(err))
		t.dropFrame("malformed")
		return
	}

	if p.Channel != t.cfg.channel {
		t.dropFrame("channel")
		return
	}

	if t.dedup.seen(p.ID) {
		t.msink.IncrCounterWithLabels(MetricMnetDuplicateCount, 1, t.cfg.metricLabels)
		return
	}
	t.dedup.record(p.ID, now)

	if !p.forMe(t.cfg.hostname) {
		t.forward(frame, p)
		return
	}

	if p.Flags.Ack {
		t.handleAck(p, now)
		return
	}

	t.acceptData(p, now)
}

// forward re-broadcasts a frame addressed to somebody else, unchanged. The
// dedup cache (already updated by the caller) bounds the relay loop.
func (t *Transport) forward(frame []byte, p *packet) {
	t.msink.IncrCounterWithLabels(MetricMnetForwardCount, 1, t.cfg.metricLabels)
	t.logger.Debug("flood forwarding",
		LabelPeer.L(p.Src), "dst", p.Dst, LabelSeq.L(p.Seq))
	if err := t.medium.Broadcast(frame); err != nil {
		t.logger.Warn("failed to forward frame", LabelError.L(err))
	}
}

// housekeeping runs the lazy, call-driven maintenance: the retransmit scan
// and all cache evictions. Caller holds the lock; the returned losses must be
// reported after it is released.
func (t *Transport) housekeeping(now time.Time) []lossEvent {
	losses := t.retransmitScan(now)

	if n := t.dedup.evict(now); n > 0 {
		t.msink.IncrCounterWithLabels(MetricMnetEvictionCount, float32(n),
			append(t.cfg.metricLabels, LabelCache.M("dedup")))
	}

	evicted := 0
	for key, rec := range t.recvRecords {
		if now.Sub(rec.at) > t.cfg.dropTimeout {
			delete(t.recvRecords, key)
			evicted++
		}
	}
	if evicted > 0 {
		t.msink.IncrCounterWithLabels(MetricMnetEvictionCount, float32(evicted),
			append(t.cfg.metricLabels, LabelCache.M("receive")))
	}

	t.msink.SetGaugeWithLabels(MetricMnetSendRecordsGauge,
		float32(len(t.sendRecords)), t.cfg.metricLabels)
	t.msink.SetGaugeWithLabels(MetricMnetRecvRecordsGauge,
		float32(len(t.recvRecords)), t.cfg.metricLabels)
	return losses
}

func (t *Transport) reportLosses(losses []lossEvent) {
	if t.cfg.onLoss == nil {
		return
	}
	for _, loss := range losses {
		t.cfg.onLoss(loss.host, loss.seq, loss.port, loss.payload)
	}
}

// transmit encodes and broadcasts one packet. Our own id goes straight into
// the dedup cache so the frame is ignored when the flood echoes it back to
// us. Caller holds the lock.
func (t *Transport) transmit(p *packet) {
	t.dedup.record(p.ID, time.Now())
	t.msink.IncrCounterWithLabels(MetricMnetFrameOutCount, 1, t.cfg.metricLabels)
	if err := t.medium.Broadcast(encodePacket(p)); err != nil {
		// A lossy medium is the normal case; reliability recovers it.
		t.logger.Warn("broadcast failed", LabelError.L(err), LabelSeq.L(p.Seq))
	}
}

func (t *Transport) popReady() *Message {
	if len(t.ready) == 0 {
		return nil
	}
	msg := t.ready[0]
	t.ready = t.ready[1:]
	return msg
}

func (t *Transport) deliver(host string, port uint16, payload []byte) {
	t.msink.IncrCounterWithLabels(MetricMnetDeliveredCount, 1,
		append(t.cfg.metricLabels, LabelPeer.M(host)))
	t.ready = append(t.ready, &Message{From: host, Port: port, Payload: payload})
}

func (t *Transport) dropFrame(reason string) {
	t.msink.IncrCounterWithLabels(MetricMnetFrameInDropCount, 1,
		append(t.cfg.metricLabels, LabelReason.M(reason)))
}
