package settings

import (
	"time"

	"github.com/gregjones/httpcache"
	"github.com/jellydator/ttlcache/v3"
)

// ResponseStore holds raw settings service responses keyed by request URL,
// as the HTTP cache reads and writes them. Implementations must be safe for
// concurrent use.
type ResponseStore = httpcache.Cache

// DefaultMemoryCapacity bounds a MemoryStore; the least recently used
// response is evicted first.
const DefaultMemoryCapacity = 10_000

// MemoryStore is a process-local ResponseStore. Entries are dropped ttl
// after being written; freshness itself is judged by the HTTP cache.
type MemoryStore struct {
	entries *ttlcache.Cache[string, []byte]
}

// NewMemoryStore creates an empty store. A non-positive ttl uses DefaultMaxAge.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	return &MemoryStore{entries: ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
		ttlcache.WithCapacity[string, []byte](DefaultMemoryCapacity),
	)}
}

// Get returns a stored response.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	item := s.entries.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Set stores a response.
func (s *MemoryStore) Set(key string, resp []byte) {
	s.entries.Set(key, resp, ttlcache.DefaultTTL)
}

// Delete drops a response.
func (s *MemoryStore) Delete(key string) {
	s.entries.Delete(key)
}

// Len returns the number of stored responses.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
