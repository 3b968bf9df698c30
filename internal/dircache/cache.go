// Package dircache implements the LRU+TTL directory listing cache and
// its pub/sub invalidation bus, spec §4.B. The TTL expiry itself is
// delegated to github.com/patrickmn/go-cache (the teacher's go.mod
// dependency for exactly this purpose); LRU ordering and the
// percentage-based prune policy are layered on top since no library
// in the retrieval pack combines TTL expiry with an LRU eviction
// policy and a configurable prune percentage.
package dircache

import (
	"container/list"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Defaults from spec §4.B.
const (
	DefaultMaxEntries     = 300
	DefaultTTL            = 300 * time.Second
	DefaultPrunePercentage = 0.20
)

// Stats are the cache's exposed counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Invalidations int64
	Size         int
}

type entry struct {
	key       string
	data      []byte
	expiresAt time.Time
}

// Cache is a process-wide LRU+TTL map of serialized directory
// listings, keyed by mount and normalized path.
type Cache struct {
	mu              sync.Mutex
	store           *gocache.Cache
	order           *list.List // front = most recently used
	elems           map[string]*list.Element
	maxEntries      int
	defaultTTL      time.Duration
	prunePercentage float64
	stats           Stats
}

// New builds a Cache with the given bounds. Zero values fall back to
// the spec defaults.
func New(maxEntries int, defaultTTL time.Duration, prunePercentage float64) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if prunePercentage <= 0 {
		prunePercentage = DefaultPrunePercentage
	}
	return &Cache{
		store:           gocache.New(defaultTTL, defaultTTL*2),
		order:           list.New(),
		elems:           make(map[string]*list.Element),
		maxEntries:      maxEntries,
		defaultTTL:      defaultTTL,
		prunePercentage: prunePercentage,
	}
}

// Key normalizes (mountID, path) into the cache key of spec §3:
// "<mountId>:base64(normalizedDirPath)" where normalizedDirPath has a
// forced trailing slash.
func Key(mountID, path string) string {
	return mountID + ":" + base64.StdEncoding.EncodeToString([]byte(normalizeDir(path)))
}

func normalizeDir(p string) string {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Get looks up a cached listing. A TTL-expired entry counts as a miss
// (spec §8: "∀ entries e older than TTL: get(e.key) = miss").
func (c *Cache) Get(mountID, path string) ([]byte, bool) {
	key := Key(mountID, path)
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, found := c.store.Get(key)
	if !found {
		c.stats.Misses++
		c.evictKeyLocked(key)
		return nil, false
	}
	e := raw.(*entry)
	if time.Now().After(e.expiresAt) {
		c.stats.Misses++
		c.evictKeyLocked(key)
		c.store.Delete(key)
		return nil, false
	}
	c.stats.Hits++
	c.touchLocked(key)
	return e.data, true
}

// Set stores a listing, pruning the LRU tail if the cache overflows.
// ttl of zero uses the cache's default TTL.
func (c *Cache) Set(mountID, path string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(mountID, path)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Set(key, &entry{key: key, data: data, expiresAt: time.Now().Add(ttl)}, ttl)
	c.touchLocked(key)

	if len(c.elems) > c.maxEntries {
		c.pruneLocked()
	}
}

// touchLocked moves key to the front of the LRU order, inserting it
// if new. Caller must hold c.mu.
func (c *Cache) touchLocked(key string) {
	if el, ok := c.elems[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(key)
	c.elems[key] = el
}

func (c *Cache) evictKeyLocked(key string) {
	if el, ok := c.elems[key]; ok {
		c.order.Remove(el)
		delete(c.elems, key)
	}
}

// pruneLocked evicts the oldest prunePercentage of entries. Caller
// must hold c.mu.
func (c *Cache) pruneLocked() {
	n := int(float64(len(c.elems)) * c.prunePercentage)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		back := c.order.Back()
		if back == nil {
			break
		}
		key := back.Value.(string)
		c.order.Remove(back)
		delete(c.elems, key)
		c.store.Delete(key)
	}
}

// Invalidate removes exactly one key.
func (c *Cache) Invalidate(mountID, path string) {
	key := Key(mountID, path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(key)
	c.evictKeyLocked(key)
	c.stats.Invalidations++
}

// InvalidatePathAndAncestors walks path up to "/" deleting every
// ancestor key, per spec §3's DirectoryCacheEntry invariant.
func (c *Cache) InvalidatePathAndAncestors(mountID, path string) {
	for _, p := range ancestorChain(path) {
		c.Invalidate(mountID, p)
	}
}

// ancestorChain returns path and every ancestor up to and including "/".
func ancestorChain(path string) []string {
	path = normalizeDir(path)
	path = strings.TrimSuffix(path, "/")
	var chain []string
	for {
		if path == "" {
			chain = append(chain, "/")
			break
		}
		chain = append(chain, path)
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			chain = append(chain, "/")
			break
		}
		path = path[:idx]
	}
	return dedupe(chain)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// InvalidateMount scans keys by the "<mountId>:" prefix and removes them.
func (c *Cache) InvalidateMount(mountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := mountID + ":"
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			c.evictKeyLocked(key)
			c.stats.Invalidations++
		}
	}
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
	c.order.Init()
	c.elems = make(map[string]*list.Element)
	c.stats.Invalidations++
}

// Statistics returns a snapshot of the cache's counters.
func (c *Cache) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.elems)
	return s
}
