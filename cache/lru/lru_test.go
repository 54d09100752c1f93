package lru

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byteSize(v []byte) uint64 { return uint64(len(v)) }

func TestSetGetRoundTrip(t *testing.T) {
	c := New[string, []byte](1024, byteSize)

	c.Set("a", []byte("hello"), 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
}

func TestEvictsSmallestLastAccessed(t *testing.T) {
	c := New[string, []byte](10, byteSize)

	c.Set("a", []byte("12345"), 0)
	c.Set("b", []byte("12345"), 0)
	// touch a so b becomes the least-recently-accessed entry
	_, _ = c.Get("a")

	c.Set("c", []byte("12345"), 0)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should have been evicted as least recently accessed")
	assert.True(t, cOK)
}

func TestExpiredEntryIsEvictedOnGet(t *testing.T) {
	c := New[string, []byte](1024, byteSize)

	c.Set("a", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestDeletePrefix(t *testing.T) {
	c := New[string, []byte](1024, byteSize)
	c.Set("http://x/a:0:10", []byte("1"), 0)
	c.Set("http://x/a:11:20", []byte("2"), 0)
	c.Set("http://y/b:0:10", []byte("3"), 0)

	n := c.DeletePrefix(func(k string) bool { return len(k) >= 11 && k[:11] == "http://x/a:" })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New[string, []byte](16, byteSize)
	for i := 0; i < 50; i++ {
		c.Set(string(rune('a'+i%26))+"x", []byte("12345678"), 0)
	}
	assert.LessOrEqual(t, c.Stats().Bytes, uint64(16))
}
