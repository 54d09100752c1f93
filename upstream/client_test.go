package upstream

import (
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/conf"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return New(&conf.Upstream{Address: u.Host})
}

func TestDoDecompressesGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("plain text body"))
		_ = gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	req, err := c.NewRequest(t.Context(), http.MethodGet, "/a", "")
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "plain text body", string(buf[:n]))
}

func TestDoDecompressesBrotliBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(http.StatusOK)
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte("brotli body"))
		_ = bw.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	req, err := c.NewRequest(t.Context(), http.MethodGet, "/a", "")
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "brotli body", string(buf[:n]))
}

func TestDoPassesThroughUncompressedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("raw"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	req, err := c.NewRequest(t.Context(), http.MethodGet, "/a", "")
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "raw", string(buf[:n]))
}

func TestNewRequestSetsRangeHeaderOnlyWhenGiven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, srv)

	withRange, err := c.NewRequest(t.Context(), http.MethodGet, "/a", "bytes=0-99")
	require.NoError(t, err)
	assert.Equal(t, "bytes=0-99", withRange.Header.Get("Range"))

	withoutRange, err := c.NewRequest(t.Context(), http.MethodGet, "/a", "")
	require.NoError(t, err)
	assert.Empty(t, withoutRange.Header.Get("Range"))
}
