// Package hostmeta implements the host-meta crawler and cache: a
// single-writer/multi-reader store of each running service's parsed
// .well-known/host-meta.json document.
package hostmeta

import (
	"sync/atomic"
	"time"

	"github.com/prevant-go/prevant/internal/model"
)

// cacheKey identifies one running service instance.
type cacheKey struct {
	App       model.AppName
	ServiceID string
}

// cacheValue pairs a probed WebHostMeta with the timestamp it was inserted
// at, used by the purge step to detect a service restarted after its entry
// was cached.
type cacheValue struct {
	Timestamp time.Time
	Meta      model.WebHostMeta
}

// Cache is the reader half: lock-free Get via an atomically swapped map,
// an idiomatic Go substitute for the single-writer/multi-reader map the
// crawler's source algorithm uses.
type Cache struct {
	m atomic.Pointer[map[cacheKey]cacheValue]
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	c := &Cache{}
	empty := map[cacheKey]cacheValue{}
	c.m.Store(&empty)
	return c
}

// Get returns the cached WebHostMeta for (app, serviceID), ok=false if no
// probe result has been published for that key yet.
func (c *Cache) Get(app model.AppName, serviceID string) (model.WebHostMeta, bool) {
	snapshot := *c.m.Load()
	v, ok := snapshot[cacheKey{App: app, ServiceID: serviceID}]
	if !ok {
		return model.WebHostMeta{}, false
	}
	return v.Meta, true
}

func (c *Cache) snapshot() map[cacheKey]cacheValue {
	return *c.m.Load()
}

// publish atomically swaps in next as the cache's entire visible state.
// Readers either see the old map or the new one in full, never a torn
// key/value pair.
func (c *Cache) publish(next map[cacheKey]cacheValue) {
	c.m.Store(&next)
}
