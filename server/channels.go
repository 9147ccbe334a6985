package server

import (
	"github.com/minio/highwayhash"
)

// highwayKey is a fixed 32-byte key for highwayhash.Sum64. The channel
// registry only needs a stable, fast hash for open addressing, not a
// keyed/MAC property, so a fixed key (rather than a per-process random
// one) keeps lookups deterministic across restarts — useful for tests
// that assert on channel index assignment order.
var highwayKey = make([]byte, 32)

// channelRegistry is an open-addressed hash table mapping a channel
// name to a dense index (0..max-1); the dense array doubles as a
// reverse index for fast name enumeration. The probe hash is
// github.com/minio/highwayhash for speed over the string keys.
type channelRegistry struct {
	max     int
	slots   []string // dense index -> channel name, "" if unused
	buckets []int    // open-addressing table: hash bucket -> dense index, -1 if empty
	count   int
}

func newChannelRegistry(max int) *channelRegistry {
	if max <= 0 || max > MaxSlots {
		max = MaxSlots
	}
	tableSize := max * 2 // keep load factor <= 0.5 for short probe chains
	buckets := make([]int, tableSize)
	for i := range buckets {
		buckets[i] = -1
	}
	return &channelRegistry{
		max:     max,
		slots:   make([]string, max),
		buckets: buckets,
	}
}

func (c *channelRegistry) hash(name string) uint64 {
	return highwayhash.Sum64([]byte(name), highwayKey)
}

// indexOf returns the dense index for name if present.
func (c *channelRegistry) indexOf(name string) (int, bool) {
	tableSize := len(c.buckets)
	if tableSize == 0 {
		return 0, false
	}
	h := int(c.hash(name) % uint64(tableSize))
	for i := 0; i < tableSize; i++ {
		b := (h + i) % tableSize
		idx := c.buckets[b]
		if idx == -1 {
			return 0, false
		}
		if c.slots[idx] == name {
			return idx, true
		}
	}
	return 0, false
}

// getOrCreate assigns or reuses a channel index. Returns (index, ok) —
// ok is false if the registry has reached its channel-count limit.
func (c *channelRegistry) getOrCreate(name string) (int, bool) {
	if idx, ok := c.indexOf(name); ok {
		return idx, true
	}
	if c.count >= c.max {
		return 0, false
	}
	dense := -1
	for i, s := range c.slots {
		if s == "" {
			dense = i
			break
		}
	}
	if dense == -1 {
		return 0, false
	}
	tableSize := len(c.buckets)
	h := int(c.hash(name) % uint64(tableSize))
	for i := 0; i < tableSize; i++ {
		b := (h + i) % tableSize
		if c.buckets[b] == -1 {
			c.buckets[b] = dense
			c.slots[dense] = name
			c.count++
			return dense, true
		}
	}
	return 0, false // table is full despite count < max — shouldn't happen at load factor 0.5
}

// remove deletes a channel by name, freeing its dense index for reuse.
// It uses Knuth's backward-shift deletion rather than clearing the
// bucket outright: clearing straight to -1 would break the probe chain
// for any other channel that collided with name and probed past it, so
// the freed bucket is instead backfilled from later entries in its
// cluster until the cluster's tail is reached.
func (c *channelRegistry) remove(name string) {
	tableSize := len(c.buckets)
	if tableSize == 0 {
		return
	}
	h := int(c.hash(name) % uint64(tableSize))
	i := -1
	for k := 0; k < tableSize; k++ {
		b := (h + k) % tableSize
		idx := c.buckets[b]
		if idx == -1 {
			return
		}
		if c.slots[idx] == name {
			i = b
			break
		}
	}
	if i == -1 {
		return
	}

	dense := c.buckets[i]
	c.slots[dense] = ""
	c.buckets[i] = -1
	c.count--

	j := i
	for {
		j = (j + 1) % tableSize
		idx := c.buckets[j]
		if idx == -1 {
			break
		}
		k := int(c.hash(c.slots[idx]) % uint64(tableSize))
		if !inProbeRange(i, k, j, tableSize) {
			c.buckets[i] = idx
			c.buckets[j] = -1
			i = j
		}
	}
}

// inProbeRange reports whether home position k lies in the cyclic
// range (i, j] — i.e. whether the entry currently sitting at j must
// stay there (or later) to keep its probe sequence reachable from k,
// rather than being safe to shift back into the freed slot i.
func inProbeRange(i, k, j, size int) bool {
	if i <= j {
		return i < k && k <= j
	}
	return k > i || k <= j
}

func (c *channelRegistry) size() int { return c.count }

// names enumerates all live channel names via the reverse (dense) array.
func (c *channelRegistry) names() []string {
	out := make([]string, 0, c.count)
	for _, s := range c.slots {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
