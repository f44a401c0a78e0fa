package embedding

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(8, time.Minute)

	vec := []float32{0.1, 0.2, 0.3}
	c.Put("hello", vec)

	got, ok := c.Get("hello")
	require.True(t, ok, "expected cache hit")
	assert.Equal(t, vec, got)

	_, ok = c.Get("other")
	assert.False(t, ok, "expected cache miss for unknown text")
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(8, 0)

	vec := []float32{1, 2, 3}
	c.Put("text", vec)

	// Mutating the original must not change the cached value
	vec[0] = 99
	got, ok := c.Get("text")
	require.True(t, ok)
	assert.Equal(t, float32(1), got[0])

	// Mutating the returned slice must not change the cached value either
	got[1] = 99
	again, ok := c.Get("text")
	require.True(t, ok)
	assert.Equal(t, float32(2), again[1])
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(8, 15*time.Millisecond)

	c.Put("short-lived", []float32{1})
	_, ok := c.Get("short-lived")
	require.True(t, ok, "expected hit before expiry")

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get("short-lived")
	assert.False(t, ok, "expected miss after TTL expiry")
	assert.Equal(t, 0, c.Len(), "expired entry should be removed")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewCache(8, 0)
	c.Put("persistent", []float32{1})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("persistent")
	assert.True(t, ok, "entries must not expire with ttl=0")
}

func TestCache_CapacityEviction(t *testing.T) {
	c := NewCache(4, 0)
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
	}
	assert.Equal(t, 4, c.Len(), "cache must stay at capacity")
}

func TestCache_UpdateExistingDoesNotEvict(t *testing.T) {
	c := NewCache(2, 0)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})

	// Overwriting an existing key at capacity must not evict anything
	c.Put("a", []float32{10})

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, float32(10), got[0])
	_, ok = c.Get("b")
	assert.True(t, ok, "b should survive an overwrite of a")
}

func TestCache_Stats(t *testing.T) {
	c := NewCache(8, 0)
	c.Put("known", []float32{1})

	c.Get("known")
	c.Get("known")
	c.Get("unknown")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
