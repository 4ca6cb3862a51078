package storage

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached document is served without a remote read.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	typ      reflect.Type
	data     json.RawMessage
	version  int64
	storedAt time.Time
}

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupExpired
	lookupMismatch
)

func (l lookup) String() string {
	switch l {
	case lookupHit:
		return "hit"
	case lookupExpired:
		return "expired"
	case lookupMismatch:
		return "mismatch"
	default:
		return "miss"
	}
}

// docCache holds decoded-type tagged JSON bodies. Entries are valid for ttl after
// their last write or fetch.
type docCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Key]cacheEntry
}

func newDocCache(ttl time.Duration, now func() time.Time) *docCache {
	return &docCache{ttl: ttl, now: now, entries: make(map[Key]cacheEntry)}
}

func (c *docCache) get(key Key, typ reflect.Type) (cacheEntry, lookup) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, lookupMiss
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return cacheEntry{}, lookupExpired
	}
	if e.typ != typ {
		return e, lookupMismatch
	}
	return e, lookupHit
}

// put stores a body unless a newer version of the same document is already cached.
func (c *docCache) put(key Key, typ reflect.Type, data json.RawMessage, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[key]; ok && version > 0 && cur.version > version && c.now().Sub(cur.storedAt) < c.ttl {
		return
	}
	c.entries[key] = cacheEntry{typ: typ, data: data, version: version, storedAt: c.now()}
}

func (c *docCache) evict(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// evictIfStale drops the entry when it is older than version.
func (c *docCache) evictIfStale(key Key, version int64) {
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur.version < version {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

func (c *docCache) clear() {
	c.mu.Lock()
	c.entries = make(map[Key]cacheEntry)
	c.mu.Unlock()
}

func (c *docCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyLocks serializes read-modify-write cycles per document.
type keyLocks struct {
	mu    sync.Mutex
	locks map[Key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[Key]*refMutex)}
}

func (l *keyLocks) lock(key Key) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &refMutex{}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func typeOf(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
