package tiered

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/cache/filestore"
	"github.com/sluiceproxy/sluice/cache/sharedkv"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	l2, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	c := New(1<<20, l2, time.Hour, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "http://x/a.bin:0:99", Key("http://x/a.bin", 0, 99))
	assert.Equal(t, "cache:http://x/a.bin", WholeKey("http://x/a.bin"))
}

func TestStoreThenLookupHitsL1(t *testing.T) {
	c := newTestCache(t)

	c.Store("http://x/a.bin", "k1", []byte("hello"))
	v, ok, err := c.Lookup("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
	assert.EqualValues(t, 1, c.Stats().L1Hits)
}

func TestLookupPromotesFromL2AfterL1Eviction(t *testing.T) {
	l2, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	// 1-byte L1: the 10-byte value exceeds capacity and is evicted from L1 as soon as it is stored
	c := New(1, l2, time.Hour, nil)
	defer func() { _ = c.Close() }()

	c.Store("http://x/a.bin", "k1", []byte("0123456789"))
	c.l1.Clear() // simulate L1 eviction without waiting on the async writer

	time.Sleep(20 * time.Millisecond) // let the async L2 write land
	v, ok, err := c.Lookup("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789"), v)
}

func TestLookupMultipleReturnsOnlyHits(t *testing.T) {
	c := newTestCache(t)
	c.Store("http://x/a", "a", []byte("1"))
	c.Store("http://x/c", "c", []byte("3"))

	got := c.LookupMultiple([]string{"a", "b", "c"})
	assert.Equal(t, []byte("1"), got[0])
	_, hasB := got[1]
	assert.False(t, hasB)
	assert.Equal(t, []byte("3"), got[2])
}

func TestPurgeRemovesFromL1(t *testing.T) {
	c := newTestCache(t)
	c.Store("http://x/a", "k1", []byte("x"))
	c.Purge("k1")

	_, ok, err := c.Lookup("k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgePrefixCountsMatches(t *testing.T) {
	c := newTestCache(t)
	c.Store("http://x/a", "http://x/a:0:10", []byte("1"))
	c.Store("http://x/a", "http://x/a:11:20", []byte("2"))
	c.Store("http://y/b", "http://y/b:0:10", []byte("3"))

	n := c.PurgePrefix("http://x/a:")
	assert.Equal(t, 2, n)
}

func TestPurgeAllClearsL1(t *testing.T) {
	c := newTestCache(t)
	c.Store("http://x/a", "k1", []byte("x"))
	c.Store("http://x/b", "k2", []byte("y"))
	c.PurgeAll()

	assert.Equal(t, 0, c.Stats().L1Entries)
}

func newIndexedTestCache(t *testing.T) *Cache {
	t.Helper()
	l2, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	idx, err := sharedkv.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	c := New(1<<20, l2, time.Hour, idx)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPurgeURLWithIndexRemovesWholeObjectAndSlices(t *testing.T) {
	c := newIndexedTestCache(t)
	const url = "http://proxy/movie.mp4"
	c.Store(url, WholeKey(url), []byte("whole"))
	c.Store(url, Key(url, 0, 9), []byte("slice0"))
	c.Store(url, Key(url, 10, 19), []byte("slice1"))
	time.Sleep(20 * time.Millisecond) // let the async writer index every key

	n := c.PurgeURL(url)
	assert.Equal(t, 3, n)

	_, hit, _ := c.Lookup(WholeKey(url))
	assert.False(t, hit)
	_, hit, _ = c.Lookup(Key(url, 0, 9))
	assert.False(t, hit)
}

func TestPurgePrefixWithIndexMatchesByURL(t *testing.T) {
	c := newIndexedTestCache(t)
	c.Store("http://proxy/videos/a", WholeKey("http://proxy/videos/a"), []byte("1"))
	c.Store("http://proxy/videos/b", WholeKey("http://proxy/videos/b"), []byte("2"))
	c.Store("http://proxy/images/c", WholeKey("http://proxy/images/c"), []byte("3"))
	time.Sleep(20 * time.Millisecond)

	n := c.PurgePrefix("http://proxy/videos")
	assert.Equal(t, 2, n)

	_, hit, _ := c.Lookup(WholeKey("http://proxy/images/c"))
	assert.True(t, hit)
}
