package engine

import (
	"container/list"
	"context"
	"time"
)

// DBIdempotencyChecker is the persistence-backed fallback consulted on LRU miss.
type DBIdempotencyChecker interface {
	IsProcessed(ctx context.Context, idempotencyKey string) (bool, error)
}

// IdempotencyChecker layers an in-memory LRU over the database check.
// The LRU answers for recently processed keys; anything older falls
// through to the database.
type IdempotencyChecker struct {
	lru *IdempotencyLRU
	db  DBIdempotencyChecker
}

func NewIdempotencyChecker(lruSize int, db DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru: NewIdempotencyLRU(lruSize),
		db:  db,
	}
}

// IsDuplicate returns true if the key has already been processed.
// On a database error the key is conservatively treated as a duplicate:
// skipping a fresh event is recoverable by redelivery, double-applying
// is not.
func (c *IdempotencyChecker) IsDuplicate(ctx context.Context, key string) bool {
	if c.lru.Contains(key) {
		return true
	}

	if c.db == nil {
		return false
	}

	processed, err := c.db.IsProcessed(ctx, key)
	if err != nil {
		return true
	}
	if processed {
		c.lru.Add(key)
	}
	return processed
}

// MarkProcessed records the key after the event has been fully applied.
func (c *IdempotencyChecker) MarkProcessed(key string) {
	c.lru.Add(key)
}

// WarmFromKeys preloads the LRU after a snapshot restore.
func (c *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, k := range keys {
		c.lru.Add(k)
	}
}

// RecentKeys returns the LRU contents, newest first, for snapshotting.
func (c *IdempotencyChecker) RecentKeys() []string {
	return c.lru.Keys()
}

// IdempotencyLRU is a fixed-capacity recently-seen set.
type IdempotencyLRU struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

type lruEntry struct {
	key  string
	seen time.Time
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (l *IdempotencyLRU) Contains(key string) bool {
	if el, ok := l.index[key]; ok {
		l.ll.MoveToFront(el)
		return true
	}
	return false
}

func (l *IdempotencyLRU) Add(key string) {
	if el, ok := l.index[key]; ok {
		l.ll.MoveToFront(el)
		return
	}

	el := l.ll.PushFront(&lruEntry{key: key, seen: time.Now()})
	l.index[key] = el

	for l.ll.Len() > l.capacity {
		oldest := l.ll.Back()
		if oldest == nil {
			break
		}
		l.ll.Remove(oldest)
		delete(l.index, oldest.Value.(*lruEntry).key)
	}
}

func (l *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, l.ll.Len())
	for el := l.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry).key)
	}
	return keys
}

func (l *IdempotencyLRU) Len() int {
	return l.ll.Len()
}
