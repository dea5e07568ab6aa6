package service

import (
	"context"
	"sync"
)

// MemoryMediaCache keeps file ids for the lifetime of the process.
type MemoryMediaCache struct {
	mu  sync.RWMutex
	ids map[int]string
}

// NewMemoryMediaCache creates an empty cache.
func NewMemoryMediaCache() *MemoryMediaCache {
	return &MemoryMediaCache{ids: make(map[int]string)}
}

func (c *MemoryMediaCache) Get(_ context.Context, unit int) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[unit]
	return id, ok, nil
}

func (c *MemoryMediaCache) Set(_ context.Context, unit int, fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[unit] = fileID
	return nil
}

func (c *MemoryMediaCache) Forget(_ context.Context, unit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, unit)
	return nil
}
