package lru

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
)

// DefaultSize is the decision cache capacity.
const DefaultSize = 1000

// newLRU is a seam for tests.
var newLRU = func(size int) (*lru.Cache[domain.Fingerprint, bool], error) {
	return lru.New[domain.Fingerprint, bool](size)
}

// decisionCache is a bounded fingerprint → decision map. When a new key
// would push it past capacity every entry is dropped instead of evicting
// the least recently used one.
type decisionCache struct {
	mu       sync.Mutex // serializes the full-check with the insert
	lru      *lru.Cache[domain.Fingerprint, bool]
	capacity int
	hits     uint64
	misses   uint64
	purges   uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// New creates a DecisionCache with the given capacity. If size <= 0, a
// disabled no-op cache is returned that always misses.
func New(size int) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}
	cache, err := newLRU(size)
	if err != nil {
		return nil, err
	}
	return &decisionCache{lru: cache, capacity: size}, nil
}

func (c *decisionCache) Get(fp domain.Fingerprint) (bool, bool) {
	if v, ok := c.lru.Peek(fp); ok {
		atomic.AddUint64(&c.hits, 1)
		return v, true
	}
	atomic.AddUint64(&c.misses, 1)
	return false, false
}

func (c *decisionCache) Put(fp domain.Fingerprint, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lru.Contains(fp) && c.lru.Len() >= c.capacity {
		c.lru.Purge()
		atomic.AddUint64(&c.purges, 1)
	}
	c.lru.Add(fp, blocked)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

func (c *decisionCache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	atomic.AddUint64(&c.purges, 1)
}

func (c *decisionCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{
		Capacity: c.capacity,
		Size:     c.lru.Len(),
		Hits:     atomic.LoadUint64(&c.hits),
		Misses:   atomic.LoadUint64(&c.misses),
		Purges:   atomic.LoadUint64(&c.purges),
	}
}

// disabledCache implementation

func (d *disabledCache) Get(domain.Fingerprint) (bool, bool) { return false, false }

func (d *disabledCache) Put(domain.Fingerprint, bool) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() blocklist.CacheStats { return blocklist.CacheStats{} }

var _ blocklist.DecisionCache = (*decisionCache)(nil)
var _ blocklist.DecisionCache = (*disabledCache)(nil)
