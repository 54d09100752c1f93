package sharedkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestIndexKeyAndKeys(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.IndexKey("http://origin/a.bin", "http://origin/a.bin:0:99"))
	require.NoError(t, kv.IndexKey("http://origin/a.bin", "http://origin/a.bin:100:199"))
	// re-indexing the same key is a no-op, not a duplicate
	require.NoError(t, kv.IndexKey("http://origin/a.bin", "http://origin/a.bin:0:99"))

	keys, err := kv.Keys("http://origin/a.bin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://origin/a.bin:0:99", "http://origin/a.bin:100:199"}, keys)
}

func TestKeysMissIsEmptyNotError(t *testing.T) {
	kv := openTestKV(t)

	keys, err := kv.Keys("http://origin/missing.bin")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRemoveURL(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.IndexKey("http://origin/a.bin", "k1"))
	require.NoError(t, kv.RemoveURL("http://origin/a.bin"))

	keys, err := kv.Keys("http://origin/a.bin")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIncrDomainAccumulates(t *testing.T) {
	kv := openTestKV(t)

	n, err := kv.IncrDomain("origin.example", 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	n, err = kv.IncrDomain("origin.example", -1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	got, err := kv.DomainCount("origin.example")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got)
}

func TestIncrDomainFloorsAtZero(t *testing.T) {
	kv := openTestKV(t)

	n, err := kv.IncrDomain("origin.example", -5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestIteratePrefix(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.IndexKey("http://origin/images/a.bin", "ka"))
	require.NoError(t, kv.IndexKey("http://origin/images/b.bin", "kb"))
	require.NoError(t, kv.IndexKey("http://origin/other/c.bin", "kc"))

	var urls []string
	err := kv.IteratePrefix("http://origin/images/", func(url string, keys []string) error {
		urls = append(urls, url)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://origin/images/a.bin", "http://origin/images/b.bin"}, urls)
}
