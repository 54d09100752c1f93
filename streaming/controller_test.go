package streaming

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/cache/filestore"
	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/conf"
	"github.com/sluiceproxy/sluice/metrics"
	"github.com/sluiceproxy/sluice/upstream"
)

func newTestController(t *testing.T, srv *httptest.Server, cacheEnabled bool) *Controller {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := upstream.New(&conf.Upstream{Address: u.Host})
	l2, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	cache := tiered.New(1<<20, l2, time.Hour, nil)
	t.Cleanup(func() { _ = cache.Close() })

	reg := metrics.New(nil)
	return NewController(client, cache, reg, cacheEnabled, DefaultSizeCap)
}

func TestServeStreamsUpstreamBodyOnMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	ctrl := newTestController(t, srv, true)
	req := httptest.NewRequest(http.MethodGet, "http://proxy/a.txt", nil)
	rec := httptest.NewRecorder()

	ctrl.Serve(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, cacheStatusMiss, rec.Header().Get("X-Cache"))
}

func TestServeSecondRequestHitsCache(t *testing.T) {
	var upstreamHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("cached body"))
	}))
	defer srv.Close()

	ctrl := newTestController(t, srv, true)

	req1 := httptest.NewRequest(http.MethodGet, "http://proxy/a.txt", nil)
	rec1 := httptest.NewRecorder()
	ctrl.Serve(rec1, req1)
	require.Equal(t, "cached body", rec1.Body.String())

	req2 := httptest.NewRequest(http.MethodGet, "http://proxy/a.txt", nil)
	rec2 := httptest.NewRecorder()
	ctrl.Serve(rec2, req2)

	assert.Equal(t, "cached body", rec2.Body.String())
	assert.Equal(t, cacheStatusHit, rec2.Header().Get("X-Cache"))
	assert.Equal(t, 1, upstreamHits, "second request must be served from cache, not upstream")
}

func TestServeDisabledCacheSkipsStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("no cache"))
	}))
	defer srv.Close()

	ctrl := newTestController(t, srv, false)
	req := httptest.NewRequest(http.MethodGet, "http://proxy/a.txt", nil)
	rec := httptest.NewRecorder()

	ctrl.Serve(rec, req)
	assert.Equal(t, cacheStatusDisabled, rec.Header().Get("X-Cache"))
}

func TestServeUpstreamErrorReturns502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // closed before use: Do() will fail to connect

	ctrl := newTestController(t, srv, true)
	req := httptest.NewRequest(http.MethodGet, "http://proxy/a.txt", nil)
	rec := httptest.NewRecorder()

	ctrl.Serve(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
