package mnet

import (
	"time"
)

// recvRecord is the per (peer, sequence) state of a packet that has arrived
// but is not yet part of a delivered message: an out-of-order arrival
// waiting for its predecessors, or a fragment waiting for the rest of its
// chain.
type recvRecord struct {
	at      time.Time
	fl      Flags
	port    uint16
	payload []byte
}

// peerRecvState tracks one inbound reliable stream. A peer moves from
// "never heard of" to synchronized on its first accepted Syn packet, then
// steadily advances lastDelivered.
type peerRecvState struct {
	synced bool

	// firstSeq is the sequence that opened the current logical connection.
	firstSeq uint32

	// lastDelivered is the highest in-order sequence incorporated so far;
	// it is also the value our cumulative acknowledgments carry.
	lastDelivered uint32

	// lastHeard is when the last reliable frame from the peer was
	// processed. It tells a restarted peer's fresh Syn apart from the
	// retransmission of an opener whose ack got lost: a sender gives up
	// retransmitting after its drop timeout.
	lastHeard time.Time

	// assembly buffers the in-order fragments of the chain in progress.
	assembly [][]byte
}

func (t *Transport) recvState(host string) *peerRecvState {
	st, ok := t.recvStates[host]
	if !ok {
		st = &peerRecvState{}
		t.recvStates[host] = st
	}
	return st
}

// handleAck processes a cumulative acknowledgment: the matched record and
// every earlier still-pending record for that peer are cleared. An
// acknowledgment referencing a sequence we have no record of is evidence the
// two ends are desynchronized — probably our original Syn got lost — so the
// oldest pending record is marked for resynchronization instead of being
// discarded.
func (t *Transport) handleAck(p *packet, now time.Time) {
	t.msink.IncrCounterWithLabels(MetricMnetAckInCount, 1,
		append(t.cfg.metricLabels, LabelPeer.M(p.Src)))

	ackSeq := p.Seq
	if ackSeq == 0 {
		// The peer accepted nothing in order yet. Retransmission will
		// sort it out.
		return
	}

	if _, ok := t.sendRecords[sendKey{host: p.Src, seq: ackSeq}]; !ok {
		var oldest *sendRecord
		for _, rec := range t.sendRecords {
			if rec.host != p.Src || rec.payload == nil {
				continue
			}
			if oldest == nil || rec.sentAt.Before(oldest.sentAt) {
				oldest = rec
			}
		}
		if oldest != nil && !oldest.needResync {
			// FIXME: inferred recovery for the lost-Syn and
			// simultaneous-start corner cases; revisit if it ever
			// loops.
			oldest.needResync = true
			t.msink.IncrCounterWithLabels(MetricMnetResyncCount, 1,
				append(t.cfg.metricLabels, LabelPeer.M(p.Src)))
			t.logger.Warn("peer acked unknown sequence, forcing resynchronization",
				LabelPeer.L(p.Src), LabelSeq.L(ackSeq))
		}
		return
	}

	for key, rec := range t.sendRecords {
		if rec.host != p.Src || rec.payload == nil {
			continue
		}
		if !seqCovered(rec.seq, ackSeq, t.cfg.maxSequence) {
			continue
		}
		rec.payload = nil
		rec.needResync = false
		rec.clearedAt = now
		close(rec.done)
		if rec.seq != ackSeq {
			// Only the newest cleared record lingers, for
			// duplicate-ack suppression.
			delete(t.sendRecords, key)
		}
	}
}

// acceptData runs the receive engine on one data frame addressed to us.
func (t *Transport) acceptData(p *packet, now time.Time) {
	if !p.Flags.RequiresAck {
		t.acceptUnreliable(p, now)
		return
	}

	st := t.recvState(p.Src)
	// Every processed reliable frame is answered, whatever happened to it:
	// the ack always carries the current in-order high water mark.
	defer t.sendAck(p.Src, p.Port, st)

	if st.synced && seqCovered(p.Seq, st.lastDelivered, t.cfg.maxSequence) {
		// Something already incorporated. Without a Syn this is a
		// retransmission whose ack got lost, and re-acking is all there
		// is to do. With a Syn it is only a retransmission while the
		// peer was recently alive; past the drop timeout the peer has
		// given up retransmitting, so a covered Syn must be a restarted
		// peer opening a fresh connection.
		if !p.Flags.Syn || now.Sub(st.lastHeard) <= t.cfg.dropTimeout {
			st.lastHeard = now
			return
		}
	}
	st.lastHeard = now

	if p.Flags.Syn {
		next := seqNext(st.lastDelivered, t.cfg.maxSequence)
		if st.synced && p.Seq != next {
			// A fresh logical connection replaces the current stream:
			// buffered records and the chain being assembled belong to
			// the dead one.
			st.assembly = st.assembly[:0]
			for key := range t.recvRecords {
				if key.host == p.Src && key.reliable {
					delete(t.recvRecords, key)
				}
			}
			t.logger.Debug("peer synchronized",
				LabelPeer.L(p.Src), LabelSeq.L(p.Seq))
		}
		st.synced = true
		st.firstSeq = p.Seq
		st.lastDelivered = seqPrev(p.Seq, t.cfg.maxSequence)
	}

	t.storeRecvRecord(p, now, true)

	if st.synced && p.Seq == seqNext(st.lastDelivered, t.cfg.maxSequence) {
		t.drain(st, p.Src)
	}
	// Otherwise the packet arrived early (or before the connection start
	// reached us) and stays buffered for in-order delivery.
}

// drain advances lastDelivered greedily through the buffered records that
// became contiguous, folding fragments into the assembly buffer and emitting
// every message completed on the way.
func (t *Transport) drain(st *peerRecvState, host string) {
	for {
		next := seqNext(st.lastDelivered, t.cfg.maxSequence)
		key := recvKey{host: host, seq: next, reliable: true}
		rec, ok := t.recvRecords[key]
		if !ok {
			return
		}
		st.lastDelivered = next
		delete(t.recvRecords, key)

		switch {
		case rec.fl.MoreFragments:
			st.assembly = append(st.assembly, rec.payload)
		case rec.fl.FragmentCount > 0:
			st.assembly = append(st.assembly, rec.payload)
			t.finishChain(st, host, rec)
		default:
			if len(st.assembly) > 0 {
				// A chain was cut short by a resynchronization;
				// it can never complete.
				t.logger.Warn("discarding truncated fragment chain",
					LabelPeer.L(host))
				st.assembly = st.assembly[:0]
			}
			t.deliver(host, rec.port, rec.payload)
		}
	}
}

// finishChain concatenates the assembled fragments into one message. The
// terminal fragment says how many fragments the chain had, which is our only
// way to notice a chain whose head predates the current connection.
func (t *Transport) finishChain(st *peerRecvState, host string, last *recvRecord) {
	if int(last.fl.FragmentCount) != len(st.assembly) {
		t.logger.Warn("fragment chain length mismatch, discarding",
			LabelPeer.L(host),
			"expected", last.fl.FragmentCount,
			"assembled", len(st.assembly))
		st.assembly = st.assembly[:0]
		return
	}
	size := 0
	for _, frag := range st.assembly {
		size += len(frag)
	}
	msg := make([]byte, 0, size)
	for _, frag := range st.assembly {
		msg = append(msg, frag...)
	}
	st.assembly = st.assembly[:0]
	t.deliver(host, last.port, msg)
}

// acceptUnreliable passes a frame straight through reassembly, without any
// ordering guarantee: fragments are buffered by sequence and a message is
// emitted as soon as a terminal fragment has its whole chain present.
// Incomplete chains silently age out.
func (t *Transport) acceptUnreliable(p *packet, now time.Time) {
	if !p.Flags.MoreFragments && p.Flags.FragmentCount == 0 {
		t.deliver(p.Src, p.Port, p.Payload)
		return
	}
	t.storeRecvRecord(p, now, false)
	t.assembleUnreliable(p.Src)
}

func (t *Transport) assembleUnreliable(host string) {
	maxSeq := t.cfg.maxSequence
	for key, rec := range t.recvRecords {
		if key.host != host || key.reliable || rec.fl.FragmentCount == 0 {
			continue
		}
		n := uint32(rec.fl.FragmentCount)
		parts := make([][]byte, n)
		complete := true
		for i := uint32(0); i < n; i++ {
			k := recvKey{host: host, seq: seqSub(key.seq, n-1-i, maxSeq), reliable: false}
			r, ok := t.recvRecords[k]
			if !ok {
				complete = false
				break
			}
			parts[i] = r.payload
		}
		if !complete {
			continue
		}
		size := 0
		for _, part := range parts {
			size += len(part)
		}
		msg := make([]byte, 0, size)
		for _, part := range parts {
			msg = append(msg, part...)
		}
		for i := uint32(0); i < n; i++ {
			delete(t.recvRecords, recvKey{host: host, seq: seqSub(key.seq, n-1-i, maxSeq), reliable: false})
		}
		t.deliver(host, rec.port, msg)
	}
}

// storeRecvRecord buffers a packet, keeping the first copy when a duplicate
// sequence shows up (a retransmission under a fresh id).
func (t *Transport) storeRecvRecord(p *packet, now time.Time, reliable bool) {
	key := recvKey{host: p.Src, seq: p.Seq, reliable: reliable}
	if _, ok := t.recvRecords[key]; ok {
		return
	}
	t.recvRecords[key] = &recvRecord{
		at:      now,
		fl:      p.Flags,
		port:    p.Port,
		payload: p.Payload,
	}
}

// sendAck answers a reliable packet with the current cumulative high water
// mark: 0 when nothing has been accepted in order yet.
func (t *Transport) sendAck(host string, port uint16, st *peerRecvState) {
	seq := uint32(0)
	if st.synced {
		seq = st.lastDelivered
	}
	t.msink.IncrCounterWithLabels(MetricMnetAckOutCount, 1,
		append(t.cfg.metricLabels, LabelPeer.M(host)))
	t.transmit(&packet{
		Channel: t.cfg.channel,
		ID:      newPacketID(),
		Seq:     seq,
		Flags:   Flags{Ack: true},
		Dst:     host,
		Src:     t.cfg.hostname,
		Port:    port,
	})
}
