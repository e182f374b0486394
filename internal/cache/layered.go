package cache

import "time"

// LayeredCache fronts the disk page cache with memory. With no directory it
// is memory only.
type LayeredCache struct {
	memory    *MemoryCache
	memoryTTL time.Duration
	disk      *DiskCache // nil when memory only
}

// NewLayeredCache creates a layered cache. Memory entries never outlive
// the disk entry they mirror.
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	if diskDir != "" && diskTTL > 0 && memoryTTL > diskTTL {
		memoryTTL = diskTTL
	}
	c := &LayeredCache{
		memory:    NewMemoryCache(memoryTTL, 10*time.Minute),
		memoryTTL: memoryTTL,
	}
	if diskDir != "" {
		c.disk = NewDiskCache(diskDir, diskTTL)
	}
	return c
}

// Get checks memory first, then disk, promoting disk hits
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}
	if c.disk == nil {
		return nil, false
	}

	val, found := c.disk.Get(key)
	if !found {
		return nil, false
	}
	_ = c.memory.Set(key, val, 0)
	return val, true
}

// Set stores value in both layers. ttl bounds the disk entry; the memory
// entry gets the shorter of ttl and the memory TTL.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	memTTL := c.memoryTTL
	if ttl > 0 && (memTTL <= 0 || ttl < memTTL) {
		memTTL = ttl
	}
	if err := c.memory.Set(key, value, memTTL); err != nil {
		return err
	}
	if c.disk == nil {
		return nil
	}
	return c.disk.Set(key, value, ttl)
}

// Delete removes key from both layers
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	if c.disk == nil {
		return nil
	}
	if err := c.disk.Delete(key); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// Clear removes every entry from both layers
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	if c.disk == nil {
		return nil
	}
	return c.disk.Clear()
}
