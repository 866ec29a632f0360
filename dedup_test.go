package mnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupCache(t *testing.T) {
	now := time.Now()
	c := newDedupCache(time.Minute)

	require.False(t, c.seen(7))
	c.record(7, now)
	require.True(t, c.seen(7))
	require.False(t, c.seen(8), "dedup is per id, not per peer")

	// Nothing is old enough yet.
	require.Zero(t, c.evict(now.Add(30*time.Second)))
	require.True(t, c.seen(7))

	c.record(8, now.Add(45*time.Second))
	require.Equal(t, 1, c.evict(now.Add(90*time.Second)))
	require.False(t, c.seen(7))
	require.True(t, c.seen(8))
}
