package settings

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultAccessRetention is how long a lookup key is remembered without being used.
const DefaultAccessRetention = 5 * time.Minute

// maxTrackedLookups bounds the tracker; the least recently used key goes first.
const maxTrackedLookups = 100_000

// RefreshTracker decides when a settings lookup must bypass the response
// cache. It remembers when each (setting, scopes, priorities) key was last
// looked up successfully; a settings change newer than that forces a
// network refresh. Keys unused for the retention period are forgotten.
type RefreshTracker struct {
	accesses *ttlcache.Cache[string, time.Time]
	now      func() time.Time
}

// NewRefreshTracker creates a tracker. now defaults to time.Now.
func NewRefreshTracker(retention time.Duration, now func() time.Time) *RefreshTracker {
	if now == nil {
		now = time.Now
	}
	if retention <= 0 {
		retention = DefaultAccessRetention
	}
	return &RefreshTracker{
		accesses: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](retention),
			ttlcache.WithCapacity[string, time.Time](maxTrackedLookups),
		),
		now: now,
	}
}

// ShouldRefresh reports whether the lookup identified by key must skip the cache.
// Without a last-updated time the cache is always used. With one, the cache is
// bypassed when the key has no recorded access or the update is newer than it.
func (t *RefreshTracker) ShouldRefresh(key string, lastUpdated *time.Time) bool {
	if lastUpdated == nil {
		return false
	}
	item := t.accesses.Get(key)
	if item == nil {
		return true
	}
	return lastUpdated.After(item.Value())
}

// RecordAccess stamps key with the current time.
func (t *RefreshTracker) RecordAccess(key string) {
	t.accesses.Set(key, t.now(), ttlcache.DefaultTTL)
}
