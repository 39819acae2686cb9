package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGetDelete(t *testing.T) {
	c := NewTTLCache[int](time.Minute, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 7, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, c.Len())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[string](time.Minute, time.Minute)
	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheFlush(t *testing.T) {
	c := NewTTLCache[string](time.Minute, time.Minute)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Flush()
	assert.Equal(t, 0, c.Len())
}
