package cache

import (
	"sync"
	"time"
)

// CachedName is a resolved username and when it was resolved.
type CachedName struct {
	Name      string
	Timestamp time.Time
}

// Names caches user id -> username lookups. With a ttl, entries older than
// ttl are treated as missing so a renamed user is picked up again.
type Names struct {
	entries  sync.Map
	inflight sync.Map
	ttl      time.Duration
	now      func() time.Time
}

// NewNames creates an empty cache whose entries never expire.
func NewNames() *Names {
	return NewExpiringNames(0)
}

// NewExpiringNames creates an empty cache whose entries expire after ttl.
// A ttl <= 0 disables expiry.
func NewExpiringNames(ttl time.Duration) *Names {
	return &Names{ttl: ttl, now: time.Now}
}

// Load returns the cached name for id. Expired entries are dropped.
func (n *Names) Load(id string) (string, bool) {
	val, ok := n.entries.Load(id)
	if !ok {
		return "", false
	}
	entry := val.(CachedName)
	if n.expired(entry) {
		n.entries.CompareAndDelete(id, entry)
		return "", false
	}
	return entry.Name, true
}

// Store caches name for id.
func (n *Names) Store(id, name string) {
	n.entries.Store(id, CachedName{Name: name, Timestamp: n.now()})
	n.inflight.Delete(id)
}

// Claim marks id as being resolved. It returns false if id is cached or
// another caller already claimed it, so at most one lookup runs per id.
func (n *Names) Claim(id string) bool {
	if _, ok := n.Load(id); ok {
		return false
	}
	_, loaded := n.inflight.LoadOrStore(id, struct{}{})
	return !loaded
}

// Release drops a claim without caching a result, so a later lookup may retry.
func (n *Names) Release(id string) {
	n.inflight.Delete(id)
}

func (n *Names) expired(entry CachedName) bool {
	return n.ttl > 0 && n.now().Sub(entry.Timestamp) >= n.ttl
}
