package redis

import (
	"context"
	"errors"
	"strconv"
)

// MediaCache remembers the Telegram file_id returned for an uploaded unit.
type MediaCache struct {
	cache *Cache
}

// NewMediaCache creates a MediaCache.
func NewMediaCache(cache *Cache) *MediaCache {
	return &MediaCache{cache: cache}
}

func mediaKey(unit int) string {
	return PrefixMediaFileID + strconv.Itoa(unit)
}

// Get returns the cached file id for unit. A miss is ("", false, nil).
func (m *MediaCache) Get(ctx context.Context, unit int) (string, bool, error) {
	id, err := m.cache.GetString(ctx, mediaKey(unit))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// Set stores fileID for unit.
func (m *MediaCache) Set(ctx context.Context, unit int, fileID string) error {
	return m.cache.SetString(ctx, mediaKey(unit), fileID, TTLMediaFileID)
}

// Forget drops the cached id, e.g. after Telegram rejected it.
func (m *MediaCache) Forget(ctx context.Context, unit int) error {
	return m.cache.Delete(ctx, mediaKey(unit))
}
