package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemCache is an in-process LRU provider.
// Recency is only updated by Set; Peek never promotes.
//
// The LRU is created without a TTL: with one, expirable starts a cleanup
// goroutine that cannot be stopped. Expiry is checked on read instead, and
// expired entries at the least recently used end are dropped on Set.
// Since Set both promotes and stamps StoredAt, that end holds the oldest entries.
type MemCache struct {
	lru    *expirable.LRU[string, Entry]
	maxAge time.Duration
	// serializes Set with the removal of expired entries
	writeMutex sync.Mutex
}

func NewMemCache(config Config) *MemCache {
	return &MemCache{
		lru:    expirable.NewLRU[string, Entry](config.MaxEntries, nil, 0),
		maxAge: config.MaxAge,
	}
}

func (m *MemCache) Peek(key string) (Entry, bool) {
	entry, ok := m.lru.Peek(key)
	if !ok || m.expired(entry, time.Now()) {
		return Entry{}, false
	}
	return entry, true
}

func (m *MemCache) Set(key string, entry Entry) error {
	now := time.Now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now
	}
	m.writeMutex.Lock()
	defer m.writeMutex.Unlock()
	m.lru.Add(key, entry)
	m.removeExpired(now)
	return nil
}

// removeExpired drops expired entries from the least recently used end.
func (m *MemCache) removeExpired(now time.Time) {
	for {
		key, entry, ok := m.lru.GetOldest()
		if !ok || !m.expired(entry, now) {
			return
		}
		m.lru.Remove(key)
	}
}

func (m *MemCache) Len() int {
	return m.lru.Len()
}

func (m *MemCache) Keys() []string {
	now := time.Now()
	keys := make([]string, 0, m.lru.Len())
	for _, key := range m.lru.Keys() {
		if entry, ok := m.lru.Peek(key); ok && !m.expired(entry, now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close drops all entries. No goroutines are left behind.
func (m *MemCache) Close() error {
	m.lru.Purge()
	return nil
}

func (m *MemCache) expired(entry Entry, now time.Time) bool {
	return m.maxAge > 0 && now.Sub(entry.StoredAt) > m.maxAge
}
