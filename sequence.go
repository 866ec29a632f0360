package mnet

// Sequence numbers live in [1, maxSeq] and wrap back to 1; 0 never appears on
// a data packet. All arithmetic below is on that 1-based ring.

func seqNext(seq, maxSeq uint32) uint32 {
	return seq%maxSeq + 1
}

func seqPrev(seq, maxSeq uint32) uint32 {
	return (seq+maxSeq-2)%maxSeq + 1
}

// seqSub steps k backwards from seq on the ring.
func seqSub(seq, k, maxSeq uint32) uint32 {
	k %= maxSeq
	return (seq - 1 + maxSeq - k) % maxSeq + 1
}

// seqDist is the forward distance from a to b.
func seqDist(a, b, maxSeq uint32) uint32 {
	return (b + maxSeq - a) % maxSeq
}

// seqCovered reports whether a cumulative acknowledgment of ack covers seq,
// i.e. seq is at or before ack within half the sequence space. Keeping fewer
// than maxSeq/2 packets in flight per peer pair makes this unambiguous.
func seqCovered(seq, ack, maxSeq uint32) bool {
	if ack == 0 || seq == 0 {
		return false
	}
	return seqDist(seq, ack, maxSeq) < maxSeq/2
}
