// Package cache provides the identity cache that sits in front of a table.
//
// An IdentityCache maps unique IDs to the last-known in-memory instance of the
// entity with that ID. It is read-through: the store populates it after reads
// and invalidates it after writes commit. The cache is never authoritative, and
// no cache operation can fail; entries that cannot be stored are logged and
// dropped.
//
// Instances returned by Get are shared with every other caller that gets the
// same entry. Callers must not mutate them outside of the store's update
// protocol.
package cache

import (
	"fmt"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Options holds optional settings of an IdentityCache.
type Options struct {
	// Size is the maximum number of entries. If zero, rowsync.DefaultCacheSize
	// is used.
	Size int

	Logger  rowsync.Logger
	Metrics *metrics.Collectors
}

// IdentityCache is a bounded, least-recently-used cache of entity instances
// keyed by unique ID. It is safe for concurrent use.
type IdentityCache[M any] struct {
	name    string
	entries *lru.Cache[string, M]
	log     rowsync.Logger
	metrics *metrics.Collectors
}

// New creates an IdentityCache. name identifies the cache in logs and metrics
// and is usually the name of the table it fronts.
func New[M any](name string, opts Options) (*IdentityCache[M], error) {
	size := opts.Size
	if size == 0 {
		size = rowsync.DefaultCacheSize
	}
	if size < 0 {
		return nil, rowsync.NewError(fmt.Sprintf("cache size must be positive, got %d", size), rowsync.ErrBadArgument)
	}

	entries, err := lru.New[string, M](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU: %w", err)
	}

	return &IdentityCache[M]{
		name:    name,
		entries: entries,
		log:     rowsync.LoggerOrNoOp(opts.Logger),
		metrics: opts.Metrics,
	}, nil
}

// Get returns the cached instance for uniqueID.
func (c *IdentityCache[M]) Get(uniqueID string) (M, bool) {
	m, ok := c.entries.Get(uniqueID)
	c.metrics.CacheLookup(c.name, ok)
	return m, ok
}

// Put caches m as the instance for uniqueID, replacing any existing entry.
func (c *IdentityCache[M]) Put(uniqueID string, m M) {
	if uniqueID == "" {
		c.log.Warnf("%s cache: dropping entry with empty unique ID", c.name)
		return
	}
	if evicted := c.entries.Add(uniqueID, m); evicted {
		c.log.Tracef("%s cache: evicted oldest entry to make room for %q", c.name, uniqueID)
	}
}

// Invalidate removes the entry for uniqueID, if any.
func (c *IdentityCache[M]) Invalidate(uniqueID string) {
	c.entries.Remove(uniqueID)
	c.metrics.CacheInvalidated(c.name)
}

// InvalidateAll removes every entry.
func (c *IdentityCache[M]) InvalidateAll() {
	c.entries.Purge()
	c.metrics.CacheInvalidated(c.name)
	c.log.Debugf("%s cache: invalidated all entries", c.name)
}

// Len returns the number of entries in the cache.
func (c *IdentityCache[M]) Len() int {
	return c.entries.Len()
}
