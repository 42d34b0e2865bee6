// Package envcache implements the conductor's bounded fingerprint->env
// cache, grounded on the mutex-guarded map idiom used throughout the
// teacher's worker-session bookkeeping (internal/ptybackend/worker.go's
// WorkerBackend.sessions).
package envcache

import (
	"sync"

	"github.com/warmrun/warmd/internal/protocol"
)

// DefaultCapacity is N from the spec ("capacity ≤ N, N ≈ 5").
const DefaultCapacity = 5

// Cache is a thread-safe, capacity-bounded fingerprint->env store.
// Entries are immutable once inserted; eviction is FIFO once the cache is
// full: the entry inserted first is evicted first, and a Lookup hit does
// not refresh an entry's position.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []uint64
	entries  map[uint64][]protocol.EnvPair
}

// New returns an empty cache with the given capacity. A capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint64][]protocol.EnvPair, capacity),
	}
}

// Lookup returns the cached environment for fingerprint, if present.
func (c *Cache) Lookup(fingerprint uint64) ([]protocol.EnvPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := c.entries[fingerprint]
	return env, ok
}

// Insert records env under fingerprint, evicting the oldest entry first
// if the cache is already at capacity. Re-inserting an existing
// fingerprint is a no-op: entries are immutable once inserted.
func (c *Cache) Insert(fingerprint uint64, env []protocol.EnvPair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; exists {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[fingerprint] = env
	c.order = append(c.order, fingerprint)
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
