package trino

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityCachePutGet(t *testing.T) {
	c := NewCapabilityCache(4, time.Minute)

	_, ok := c.Get("coordinator-a")
	assert.False(t, ok)

	c.Put("coordinator-a", true)
	legacy, ok := c.Get("coordinator-a")
	require.True(t, ok)
	assert.True(t, legacy)

	c.Put("coordinator-b", false)
	legacy, ok = c.Get("coordinator-b")
	require.True(t, ok)
	assert.False(t, legacy)
}

func TestCapabilityCacheTTLExpiry(t *testing.T) {
	c := NewCapabilityCache(4, 30*time.Millisecond)
	c.Put("coordinator-a", true)

	_, ok := c.Get("coordinator-a")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("coordinator-a")
	assert.False(t, ok)
}

func TestCapabilityCacheEviction(t *testing.T) {
	c := NewCapabilityCache(2, time.Minute)
	c.Put("a", true)
	c.Put("b", true)
	c.Put("c", true)

	// The least recently used entry makes room for the newest one.
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCapabilityCacheDefaults(t *testing.T) {
	c := NewCapabilityCache(0, 0)
	c.Put("a", true)
	legacy, ok := c.Get("a")
	require.True(t, ok)
	assert.True(t, legacy)
}
