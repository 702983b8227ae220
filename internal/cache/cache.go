// Package cache provides an in-process hot cache for rendered content,
// in front of the catalogue on the render fast path. The catalogue
// remains the source of truth; this only skips a SQLite read for
// identities that re-request their artifact in quick succession.
package cache

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

const (
	// ristrettoNumCounters is the number of counters for frequency
	// tracking, ~10x the expected max item count.
	ristrettoNumCounters = 1e5

	// ristrettoBufferItems is the number of keys per Get buffer.
	ristrettoBufferItems = 64

	defaultMaxSizeMB = 64
)

// RenderCache caches rendered content keyed by (template, identity).
// Only the dispatcher writes to it, so the exactly-once generation
// guarantee is unaffected.
type RenderCache struct {
	store *ristretto.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// Snapshot is the cache's point-in-time metrics view.
type Snapshot struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// New creates a cache bounded at maxSizeMB (0 selects the default).
func New(maxSizeMB int) (*RenderCache, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: ristrettoNumCounters,
		MaxCost:     int64(maxSizeMB) * 1024 * 1024,
		BufferItems: ristrettoBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RenderCache{store: store}, nil
}

func key(templateName, idValue string) string {
	return templateName + "\x00" + idValue
}

// Get returns the cached render, if present.
func (c *RenderCache) Get(templateName, idValue string) (string, bool) {
	v, ok := c.store.Get(key(templateName, idValue))
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return v.(string), true
}

// Set stores a render; cost is the content length so the MB bound
// tracks actual memory. Admission is best-effort (ristretto may drop).
func (c *RenderCache) Set(templateName, idValue, content string) {
	c.store.Set(key(templateName, idValue), content, int64(len(content)))
}

// Snapshot returns hit/miss counters for the metrics endpoint.
func (c *RenderCache) Snapshot() Snapshot {
	return Snapshot{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close releases ristretto's internal goroutines.
func (c *RenderCache) Close() {
	c.store.Close()
}
