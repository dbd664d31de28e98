package trino

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the capability cache, sized for fleets of coordinators
// behind one client process.
const (
	DefaultCapabilityCacheSize = 1024
	DefaultCapabilityCacheTTL  = time.Hour
)

// CapabilityCache records, per coordinator host, whether the legacy
// PREPARE/EXECUTE/DEALLOCATE PREPARE dialect must be used instead of a
// single EXECUTE IMMEDIATE. The answer is learned from a failed attempt
// and remembered so the probe is not repeated. Entries expire after a
// fixed TTL and the least-recently-used entry is evicted over capacity.
type CapabilityCache struct {
	lru *expirable.LRU[string, bool]
}

// NewCapabilityCache builds a cache with the given capacity and TTL.
// Non-positive arguments fall back to the defaults.
func NewCapabilityCache(capacity int, ttl time.Duration) *CapabilityCache {
	if capacity <= 0 {
		capacity = DefaultCapabilityCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCapabilityCacheTTL
	}
	return &CapabilityCache{lru: expirable.NewLRU[string, bool](capacity, nil, ttl)}
}

// Get returns the recorded flag for a host. Expired entries are treated
// as absent.
func (c *CapabilityCache) Get(host string) (legacy bool, ok bool) {
	return c.lru.Get(host)
}

// Put records the flag for a host.
func (c *CapabilityCache) Put(host string, legacy bool) {
	c.lru.Add(host, legacy)
}
