package mnet

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// sendRecord is the per (peer, sequence) state kept while a reliable packet
// is unacknowledged. Once acked, the payload is cleared but the record
// lingers for a while so duplicate acknowledgments can be told apart from
// desynchronization.
type sendRecord struct {
	host string
	seq  uint32
	id   uint32
	fl   Flags
	port uint16

	// payload is nil once the packet is acknowledged.
	payload []byte

	sentAt    time.Time // first transmission, drives the drop timeout
	lastTx    time.Time // latest transmission, drives the retransmit interval
	clearedAt time.Time // acknowledgment time, drives the linger eviction

	// needResync forces the Syn flag onto the next retransmission, so a
	// peer that lost our original connection start can resynchronize.
	needResync bool

	// done is closed when the record is acknowledged, dropped or the
	// transport closes; err says which. SendWait parks on it.
	done chan struct{}
	err  error
}

type lossEvent struct {
	host    string
	seq     uint32
	port    uint16
	payload []byte
}

func newPacketID() uint32 {
	return rand.Uint32()
}

// Send hands one message to the send engine. Messages above the MTU are
// split into a chain of fragments under consecutive sequence numbers; the
// terminal fragment carries the total count. Reliable sends return a Handle
// naming the last fragment, so the caller can await its cumulative
// acknowledgment; unreliable sends return a nil Handle.
//
// Reliable delivery to the Broadcast host is a caller bug and fails
// immediately.
func (t *Transport) Send(host string, port uint16, payload []byte, reliable bool) (*Handle, error) {
	h, _, err := t.send(host, port, payload, reliable)
	return h, err
}

// SendWait performs a reliable Send and blocks until the last fragment is
// acknowledged, the transport gives up on it (ErrAckTimeout), or ctx is
// done. Another goroutine must pump Receive meanwhile: acknowledgments are
// only processed there.
func (t *Transport) SendWait(ctx context.Context, host string, port uint16, payload []byte) (*Handle, error) {
	h, rec, err := t.send(host, port, payload, true)
	if err != nil {
		return nil, err
	}

	select {
	case <-rec.done:
		if rec.err != nil {
			return nil, rec.err
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, ErrClosed
	}
}

func (t *Transport) send(host string, port uint16, payload []byte, reliable bool) (*Handle, *sendRecord, error) {
	if reliable && host == Broadcast {
		return nil, nil, ErrReliableBroadcast
	}
	if host != Broadcast && !ValidateHostName(host) {
		return nil, nil, ErrHostInvalid
	}

	frags := splitPayload(payload, t.cfg.mtu)
	if len(frags) > math.MaxUint16 || uint32(len(frags)) >= t.cfg.maxSequence/2 {
		return nil, nil, ErrMessageTooLarge
	}

	t.lk.Lock()
	defer t.lk.Unlock()
	if t.closed {
		return nil, nil, ErrClosed
	}

	key := classKey{host: host, reliable: reliable}
	_, greeted := t.sendSeq[key]
	now := time.Now()

	var last *sendRecord
	var lastSeq uint32
	for i, frag := range frags {
		seq := t.nextSeq(key)
		lastSeq = seq

		fl := Flags{RequiresAck: reliable}
		// Synchronization is lazy: no handshake, just a marker on the
		// very first packet ever sent to this peer.
		if reliable && !greeted && i == 0 {
			fl.Syn = true
		}
		if i < len(frags)-1 {
			fl.MoreFragments = true
		} else if len(frags) > 1 {
			fl.FragmentCount = uint16(len(frags))
		}

		p := &packet{
			Channel: t.cfg.channel,
			ID:      newPacketID(),
			Seq:     seq,
			Flags:   fl,
			Dst:     host,
			Src:     t.cfg.hostname,
			Port:    port,
			Payload: frag,
		}
		t.transmit(p)

		if reliable {
			rec := &sendRecord{
				host:    host,
				seq:     seq,
				id:      p.ID,
				fl:      fl,
				port:    port,
				payload: frag,
				sentAt:  now,
				lastTx:  now,
				done:    make(chan struct{}),
			}
			t.sendRecords[sendKey{host: host, seq: seq}] = rec
			last = rec
		}
	}

	if !reliable {
		return nil, nil, nil
	}
	return &Handle{Host: host, Seq: lastSeq}, last, nil
}

func (t *Transport) nextSeq(key classKey) uint32 {
	seq := seqNext(t.sendSeq[key], t.cfg.maxSequence)
	t.sendSeq[key] = seq
	return seq
}

// splitPayload cuts a message into MTU-sized fragments. An empty message is
// still one (empty) fragment: a packet has to exist to carry the send. The
// fragment must be non-nil, because a nil sendRecord payload means "acked".
func splitPayload(payload []byte, mtu int) [][]byte {
	if len(payload) <= mtu {
		if payload == nil {
			payload = []byte{}
		}
		return [][]byte{payload}
	}
	frags := make([][]byte, 0, (len(payload)+mtu-1)/mtu)
	for len(payload) > mtu {
		frags = append(frags, payload[:mtu])
		payload = payload[mtu:]
	}
	return append(frags, payload)
}

// retransmitScan walks every send record: overdue pending packets are resent
// under a fresh id (same sequence, same payload), packets past the drop
// timeout are given up on, and acknowledged records past the linger horizon
// are finally deleted. Retransmission is not timer-driven — this runs inside
// Receive only. Caller holds the lock.
func (t *Transport) retransmitScan(now time.Time) (losses []lossEvent) {
	for key, rec := range t.sendRecords {
		if rec.payload == nil {
			if now.Sub(rec.clearedAt) > t.cfg.dedupHorizon {
				delete(t.sendRecords, key)
			}
			continue
		}

		if now.Sub(rec.sentAt) > t.cfg.dropTimeout {
			t.msink.IncrCounterWithLabels(MetricMnetLossCount, 1,
				append(t.cfg.metricLabels, LabelPeer.M(rec.host)))
			t.logger.Warn("giving up on unacknowledged packet",
				LabelPeer.L(rec.host), LabelSeq.L(rec.seq), LabelPort.L(rec.port))
			rec.err = ErrAckTimeout
			close(rec.done)
			delete(t.sendRecords, key)
			losses = append(losses, lossEvent{
				host:    rec.host,
				seq:     rec.seq,
				port:    rec.port,
				payload: rec.payload,
			})
			continue
		}

		if now.Sub(rec.lastTx) >= t.cfg.retransmit {
			fl := rec.fl
			if rec.needResync {
				fl.Syn = true
			}
			rec.id = newPacketID()
			rec.lastTx = now
			t.msink.IncrCounterWithLabels(MetricMnetRetransmitCount, 1,
				append(t.cfg.metricLabels, LabelPeer.M(rec.host)))
			t.transmit(&packet{
				Channel: t.cfg.channel,
				ID:      rec.id,
				Seq:     rec.seq,
				Flags:   fl,
				Dst:     rec.host,
				Src:     t.cfg.hostname,
				Port:    rec.port,
				Payload: rec.payload,
			})
		}
	}
	return losses
}
