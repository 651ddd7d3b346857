// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// DefaultMessageCacheCapacity bounds the in-memory message cache. The
// cache is read-mostly and never the source of truth; Weaviate is.
const DefaultMessageCacheCapacity = 1024

// MessageCache is a bounded, thread-safe LRU cache of persisted messages
// keyed by message ID.
//
// # Description
//
// Avoids redundant store lookups for recently touched messages. A fixed
// capacity with least-recently-used eviction keeps memory bounded no
// matter how long the process runs or how many sessions it serves.
// Hit/miss/eviction counters are atomic so observability can read them
// without taking the lock.
type MessageCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // Front = most recent, Back = least recent

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	key   string
	value datatypes.ChatMessage
}

// NewMessageCache creates a message cache with the given capacity.
// Non-positive capacities fall back to DefaultMessageCacheCapacity.
func NewMessageCache(capacity int) *MessageCache {
	if capacity <= 0 {
		capacity = DefaultMessageCacheCapacity
	}
	return &MessageCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached message for an ID and marks it recently used.
func (c *MessageCache) Get(messageID string) (datatypes.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[messageID]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*cacheEntry).value, true
	}

	c.misses.Add(1)
	return datatypes.ChatMessage{}, false
}

// Put stores a message, evicting the least recently used entry when at
// capacity.
func (c *MessageCache) Put(msg datatypes.ChatMessage) {
	if msg.MessageID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[msg.MessageID]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = msg
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
			c.evictions.Add(1)
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: msg.MessageID, value: msg})
	c.items[msg.MessageID] = elem
}

// Delete removes a message from the cache.
func (c *MessageCache) Delete(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[messageID]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, messageID)
	return true
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit, miss, and eviction counts since creation. A high
// eviction count relative to capacity means the cache is undersized.
func (c *MessageCache) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}
