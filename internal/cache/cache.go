package cache

import (
	"github.com/catatsuy/ramcache/internal/model"
)

// Cache is the in-memory key/value store behind a server.
//
// Cache is not safe for concurrent use. A server hands it to a single loop
// goroutine and every read or write runs there.
type Cache struct {
	items     map[string]*model.Item
	usedBytes int64
	nextCAS   uint64
}

func NewCache() *Cache {
	return &Cache{
		items:   make(map[string]*model.Item),
		nextCAS: 1,
	}
}

// Get returns the stored item. The returned value must not be modified.
func (c *Cache) Get(key string) (*model.Item, bool) {
	item, ok := c.items[key]
	return item, ok
}

// Set stores value verbatim under key, replacing any previous item.
func (c *Cache) Set(key string, flags uint32, expUnix int64, value []byte) *model.Item {
	size := entrySize(key, value)
	if prev, ok := c.items[key]; ok {
		c.usedBytes -= prev.Size
	}

	item := &model.Item{
		Key:     key,
		Value:   value,
		Flags:   flags,
		Size:    size,
		CAS:     c.allocCAS(),
		ExpUnix: expUnix,
	}
	c.items[key] = item
	c.usedBytes += size
	return item
}

// Len returns the number of stored items.
func (c *Cache) Len() int {
	return len(c.items)
}

// Bytes returns the logical size of all keys and values.
func (c *Cache) Bytes() int64 {
	return c.usedBytes
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

func (c *Cache) allocCAS() uint64 {
	v := c.nextCAS
	c.nextCAS++
	if c.nextCAS == 0 {
		c.nextCAS = 1
	}
	return v
}
