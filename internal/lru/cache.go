// Package lru is a sharded, size bounded least recently used cache keyed by
// strings.
package lru

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

type OnEvict[V any] func(key string, value V)

type Cache[V any] struct {
	capacity uint64
	shards   []*shard[V]
}

// New creates a cache holding at most maxEntries values spread over the
// given number of shards. Every shard holds at least one entry.
func New[V any](shards, maxEntries int, onEvict OnEvict[V]) (*Cache[V], error) {
	if maxEntries < 1 {
		return nil, ErrIllegalCapacity
	}

	if shards < 1 || shards > maxEntries {
		return nil, ErrInvalidSharding
	}

	c := Cache[V]{
		capacity: uint64(shards),
		shards:   make([]*shard[V], shards),
	}

	perShard := maxEntries / shards
	for i := range c.shards {
		c.shards[i] = newShard(perShard, onEvict)
	}

	return &c, nil
}

// Add stores value under key and returns true if an eviction happened.
func (c *Cache[V]) Add(key string, value V) bool {
	return c.shardOf(key).add(key, value)
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.shardOf(key).get(key)
}

func (c *Cache[V]) Remove(key string) bool {
	return c.shardOf(key).remove(key)
}

func (c *Cache[V]) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(i int) {
			defer wg.Done()
			c.shards[i].purge()
		}(i)
	}

	wg.Wait()
}

func (c *Cache[V]) Len() int {
	var n int
	for i := range c.shards {
		n += c.shards[i].len()
	}
	return n
}

func (c *Cache[V]) Keys() []string {
	keys := make([]string, 0, c.Len())
	for i := range c.shards {
		keys = append(keys, c.shards[i].keys()...)
	}
	return keys
}

func (c *Cache[V]) shardOf(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%c.capacity]
}
