package reference

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/repochat-ai/assistant-platform/internal/model"
)

// Cache is a bounded LRU over resolved file content, shared read-mostly
// across conversations. Content is immutable once fetched for a given
// key, so concurrent writes to the same key are last-write-wins.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	content   string
	size      int
	fetchedAt time.Time
}

// NewCache returns an LRU cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Key builds the cache key for a file within a repository. The branch is
// part of the key: the same path on another branch is different content.
func Key(repo model.Repository, path string) string {
	return fmt.Sprintf("%s:%s", repo.String(), path)
}

// Get returns the cached content for key and marks it recently used.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).content, true
}

// Put stores content under key, evicting the least recently used entry
// once the capacity is exceeded.
func (c *Cache) Put(key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.content = content
		entry.size = len(content)
		entry.fetchedAt = time.Now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		content:   content,
		size:      len(content),
		fetchedAt: time.Now(),
	})
	c.items[key] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}
