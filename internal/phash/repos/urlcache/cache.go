// Package urlcache maps thumbnail URLs to fingerprints so a URL is only
// fingerprinted once. The map is bounded, insertion ordered, and persisted
// to the key-value store with debounced writes.
package urlcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/metrics"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
)

const (
	DefaultCapacity = 5000
	DefaultDebounce = time.Second

	persistTimeout = 5 * time.Second
)

const (
	errStoreRequired = "url cache: store is required"
	errLoadFailed    = "url cache: load: %w"
)

// Computer produces a fingerprint for a URL on a cache miss.
type Computer interface {
	ComputeFingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error)
}

// Options configures a Cache.
type Options struct {
	Store    kvstore.Store
	Computer Computer
	Clock    clock.Clock
	Logger   log.Logger
	Capacity int
	Debounce time.Duration
}

// Cache is the URL → fingerprint cache. Lookups never reorder or evict;
// the capacity is enforced on insert, dropping the oldest insertion first.
type Cache struct {
	entries  *lru.Cache[string, domain.Fingerprint]
	store    kvstore.Store
	computer Computer
	clock    clock.Clock
	logger   log.Logger
	debounce time.Duration

	mu        sync.Mutex
	scheduled bool
	dirty     bool
	timer     clock.Timer
}

// New builds the cache and loads any persisted entries. A store read failure
// is returned; a corrupt payload is logged and the cache starts empty.
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf(errStoreRequired)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}

	entries, err := lru.New[string, domain.Fingerprint](opts.Capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		entries:  entries,
		store:    opts.Store,
		computer: opts.Computer,
		clock:    opts.Clock,
		logger:   log.Named(opts.Logger, "urlcache"),
		debounce: opts.Debounce,
	}
	if err := c.load(ctx); err != nil {
		return nil, fmt.Errorf(errLoadFailed, err)
	}
	return c, nil
}

func (c *Cache) load(ctx context.Context) error {
	vals, err := c.store.Get(ctx, []string{kvstore.KeyURLHashCache})
	if err != nil {
		return err
	}
	loaded, err := decodeEntries(vals[kvstore.KeyURLHashCache])
	if err != nil {
		c.logger.Warn(map[string]any{"error": err}, "Discarding unreadable url cache")
		return nil
	}
	for _, e := range loaded {
		c.entries.Add(e.url, domain.Fingerprint(e.hash))
	}
	c.logger.Info(map[string]any{"entries": c.entries.Len()}, "URL cache loaded")
	return nil
}

// Lookup returns the cached fingerprint for sourceURL.
func (c *Cache) Lookup(sourceURL string) (domain.Fingerprint, bool) {
	fp, ok := c.entries.Peek(sourceURL)
	if ok {
		metrics.FingerprintCacheHits.Inc()
	} else {
		metrics.FingerprintCacheMisses.Inc()
	}
	return fp, ok
}

// Record stores the mapping and schedules a persist.
func (c *Cache) Record(sourceURL string, fp domain.Fingerprint) {
	c.entries.Add(sourceURL, fp)
	c.schedulePersist()
}

// GetOrCompute returns the cached fingerprint or computes and records it.
func (c *Cache) GetOrCompute(ctx context.Context, sourceURL string) (domain.Fingerprint, error) {
	if fp, ok := c.Lookup(sourceURL); ok {
		return fp, nil
	}
	if c.computer == nil {
		return "", fmt.Errorf("url cache: no computer configured")
	}
	fp, err := c.computer.ComputeFingerprint(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	c.Record(sourceURL, fp)
	return fp, nil
}

// Len returns the number of cached URLs.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every entry and schedules a persist of the empty cache.
func (c *Cache) Purge() {
	c.entries.Purge()
	c.schedulePersist()
}

// Flush cancels any scheduled persist and writes pending changes now.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.scheduled = false
	dirty := c.dirty
	c.dirty = false
	c.mu.Unlock()

	if !dirty {
		return nil
	}
	return c.persist(ctx)
}

// schedulePersist marks the cache dirty and arms a single flush timer.
// Further calls before the timer fires are absorbed by it.
func (c *Cache) schedulePersist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.timer = c.clock.AfterFunc(c.debounce, c.onTimer)
}

func (c *Cache) onTimer() {
	c.mu.Lock()
	if !c.scheduled {
		c.mu.Unlock()
		return
	}
	c.scheduled = false
	c.timer = nil
	c.dirty = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.persist(ctx); err != nil {
		c.logger.Warn(map[string]any{"error": err}, "URL cache persist failed")
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
	}
}

func (c *Cache) persist(ctx context.Context) error {
	keys := c.entries.Keys() // oldest → newest
	snapshot := make([]entry, 0, len(keys))
	for _, k := range keys {
		if fp, ok := c.entries.Peek(k); ok {
			snapshot = append(snapshot, entry{url: k, hash: string(fp)})
		}
	}
	data, err := encodeEntries(snapshot)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, map[string][]byte{kvstore.KeyURLHashCache: data}); err != nil {
		return err
	}
	metrics.FingerprintCachePersists.Inc()
	c.logger.Debug(map[string]any{"entries": len(snapshot)}, "URL cache persisted")
	return nil
}
