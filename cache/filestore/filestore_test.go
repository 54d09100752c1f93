package filestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLookupRoundTrip(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	err = b.Store("http://origin/a.bin:0:99", []byte("payload"), time.Now().Add(time.Hour))
	require.NoError(t, err)

	body, ok, err := b.Lookup("http://origin/a.bin:0:99")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), body)
}

func TestLookupMiss(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, ok, err := b.Lookup("missing-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredEntryEvictedOnLookup(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Store("k", []byte("v"), time.Now().Add(-time.Minute)))

	_, ok, err := b.Lookup("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveToleratesMissingFile(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.NoError(t, b.Remove("never-stored"))
}
