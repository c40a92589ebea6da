package lookup

import (
	"container/list"
	"time"

	"github.com/rowlink/rowlink/internal/store"
)

// cache is a bounded key -> row-list store with a fixed TTL from insertion
// and LRU capacity eviction. An empty row list is a valid cached value: it
// records a completed lookup that matched nothing and short-circuits
// re-scans until it expires. Access is single-threaded by construction (one
// executor instance per task), so no locking.
type cache struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key       string
	rows      []store.Row
	expiresAt time.Time
}

func newCache(maxEntries int, ttl time.Duration, now func() time.Time) *cache {
	if now == nil {
		now = time.Now
	}
	return &cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached rows for key. The second return distinguishes a
// cached empty list from an absent or expired entry.
func (c *cache) Get(key string) ([]store.Row, bool) {
	element, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := element.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(element)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(element)
	return entry.rows, true
}

func (c *cache) Put(key string, rows []store.Row) {
	if element, ok := c.entries[key]; ok {
		entry := element.Value.(*cacheEntry)
		entry.rows = rows
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(element)
		return
	}
	element := c.order.PushFront(&cacheEntry{
		key:       key,
		rows:      rows,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = element
	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *cache) Len() int {
	return len(c.entries)
}

func (c *cache) Clear() {
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
