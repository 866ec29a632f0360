package mnet

import "time"

// dedupCache guarantees a packet — identified by its random id, not by its
// sequence — is processed at most once, even though flooding may deliver the
// same physical frame several times over different relay paths. It is
// deliberately independent of the sequence-based reliability logic: it
// protects against flood duplication, not against application-level loss.
type dedupCache struct {
	horizon time.Duration
	entries map[uint32]time.Time
}

func newDedupCache(horizon time.Duration) *dedupCache {
	return &dedupCache{
		horizon: horizon,
		entries: make(map[uint32]time.Time),
	}
}

func (c *dedupCache) seen(id uint32) bool {
	_, ok := c.entries[id]
	return ok
}

func (c *dedupCache) record(id uint32, now time.Time) {
	c.entries[id] = now
}

// evict drops entries older than the horizon. Like every cache in the
// transport this is lazy: it only runs when a Receive call scans it.
func (c *dedupCache) evict(now time.Time) (removed int) {
	for id, at := range c.entries {
		if now.Sub(at) > c.horizon {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
