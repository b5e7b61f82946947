// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"container/list"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// localCache is the in-process LRU in front of the distributed store. It
// keeps the model tier off the hot path for repeated queries within one
// replica even when Redis is slow or absent.
//
// Thread Safety: This type is safe for concurrent use.
type localCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recent
	entries map[string]*list.Element
}

type localCacheEntry struct {
	key       string
	result    datatypes.ClassificationResult
	expiresAt time.Time
}

func newLocalCache(maxSize int, ttl time.Duration) *localCache {
	return &localCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns a copy of the cached result, or nil on miss or expiry.
func (c *localCache) get(key string) *datatypes.ClassificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := elem.Value.(*localCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil
	}
	c.order.MoveToFront(elem)
	result := entry.result
	return &result
}

func (c *localCache) put(key string, result datatypes.ClassificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*localCacheEntry)
		entry.result = result
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*localCacheEntry).key)
	}

	c.entries[key] = c.order.PushFront(&localCacheEntry{
		key:       key,
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *localCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
