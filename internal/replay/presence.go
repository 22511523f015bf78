package replay

import (
	"sync"

	"github.com/klingon-tech/chainstate/pkg/types"
)

// presenceShards is the number of lock shards in the block-tx presence
// cache. Shard selection keys on the low bits of the block hash.
const presenceShards = 64

// presenceShardCapacity bounds each shard's entry count; a shard that fills
// up is reset wholesale rather than tracked with per-entry eviction.
const presenceShardCapacity = 4096

// presenceCache remembers, in memory, whether a block hash has a stored
// transaction entry so repeated presence probes skip storage. Sharded so
// concurrent replay and header workers do not serialize on a single lock.
type presenceCache struct {
	shards [presenceShards]presenceShard
}

type presenceShard struct {
	mu      sync.RWMutex
	entries map[types.Hash]bool
}

func newPresenceCache() *presenceCache {
	c := &presenceCache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[types.Hash]bool)
	}
	return c
}

func (c *presenceCache) shard(hash types.Hash) *presenceShard {
	return &c.shards[hash[types.HashSize-1]&(presenceShards-1)]
}

// get returns (present, known): known is false when the cache has no answer
// for hash and the caller must consult storage.
func (c *presenceCache) get(hash types.Hash) (present, known bool) {
	s := c.shard(hash)
	s.mu.RLock()
	defer s.mu.RUnlock()
	present, known = s.entries[hash]
	return present, known
}

func (c *presenceCache) put(hash types.Hash, present bool) {
	s := c.shard(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.entries[hash]; !known && len(s.entries) >= presenceShardCapacity {
		s.entries = make(map[types.Hash]bool)
	}
	s.entries[hash] = present
}
