package cache

import (
	"fmt"
	"time"
)

// Provider is an interface for a cache provider.
// It stores complete upstream response bodies under their canonical cache key,
// together with the content encoding the body was sent with.
// Entries are never loaded on a miss: population happens only through Set.
//
// Implementations must be thread-safe!
type Provider interface {
	// Peek returns the entry stored under the given key, if it exists.
	// It does not change the recency of the entry, so a peeked entry is
	// evicted as if it had never been read.
	// Entries older than the configured max age are reported as absent,
	// even if they have not been physically removed yet.
	Peek(key string) (Entry, bool)
	// Set stores the entry under the given key, replacing any previous entry.
	// The entry becomes the most recently used one.
	// If the count bound is exceeded, the least recently used entry is evicted.
	Set(key string, entry Entry) error
	// Len returns the number of stored entries (expired ones included
	// until they are removed).
	Len() int
	// Keys returns the keys of all live entries, least recently used first.
	Keys() []string
	// Close releases the resources held by the provider.
	Close() error
}

// Entry is a complete, immutable cached response body.
type Entry struct {
	// Body as it was sent to the client (i.e. after compression).
	Body []byte
	// Value of the Content-Encoding header the body was sent with.
	// Empty for identity encoding.
	Encoding string
	// Time of the commit. Set by the provider if zero.
	StoredAt time.Time
}

// Config bounds a cache provider.
type Config struct {
	// Maximum number of entries. Zero means unbounded.
	MaxEntries int
	// Maximum age of an entry. Zero means entries never expire.
	MaxAge time.Duration
}

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
)

// New creates the provider with the given name.
func New(provider string, config Config) (Provider, error) {
	switch provider {
	case ProviderMemory, "":
		return NewMemCache(config), nil
	case ProviderSQLite:
		return NewSQLiteCache(config)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", provider)
	}
}
