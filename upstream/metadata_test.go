package upstream

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

func TestFetchMetadataParsesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	meta, err := c.FetchMetadata(t.Context(), "/a.mp4", time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, meta.ContentLength)
	assert.True(t, meta.SupportsRange)
	assert.Equal(t, "video/mp4", meta.ContentType)
	assert.Equal(t, `"abc"`, meta.ETag)
}

func TestFetchMetadataMissingContentLengthIsMetadataFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchMetadata(t.Context(), "/a.mp4", time.Second)
	require.Error(t, err)
	assert.True(t, rangeerr.Is(err, rangeerr.MetadataFetch))
}

func TestFetchMetadata4xxIsOriginClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchMetadata(t.Context(), "/missing.mp4", time.Second)
	require.Error(t, err)
	assert.True(t, rangeerr.Is(err, rangeerr.OriginClient))
}

func TestFetchMetadata5xxIsOriginServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchMetadata(t.Context(), "/a.mp4", time.Second)
	require.Error(t, err)
	assert.True(t, rangeerr.Is(err, rangeerr.OriginServer))
}

func TestFetchMetadataSupportsRangeFalseWhenHeaderAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	meta, err := c.FetchMetadata(t.Context(), "/a.mp4", time.Second)
	require.NoError(t, err)
	assert.False(t, meta.SupportsRange)
}
