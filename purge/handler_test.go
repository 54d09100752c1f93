package purge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/cache/filestore"
	"github.com/sluiceproxy/sluice/cache/tiered"
)

func newTestCache(t *testing.T) *tiered.Cache {
	t.Helper()
	l2, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	cache := tiered.New(1<<20, l2, time.Hour, nil)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func passthrough(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func TestWrapPassesNonPurgeMethodsThrough(t *testing.T) {
	h := NewHandler(newTestCache(t), "")
	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWrapRejectsUnauthorizedWhenTokenConfigured(t *testing.T) {
	h := NewHandler(newTestCache(t), "secret")
	req := httptest.NewRequest(Method, "/a", nil)
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrapAcceptsPurgeTokenHeader(t *testing.T) {
	cache := newTestCache(t)
	cache.Store("http://proxy/a", tiered.WholeKey("http://proxy/a"), []byte("x"))

	h := NewHandler(cache, "secret")
	req := httptest.NewRequest(Method, "http://proxy/a", nil)
	req.Header.Set("X-Purge-Token", "secret")
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, hit, _ := cache.Lookup(tiered.WholeKey("http://proxy/a"))
	assert.False(t, hit)
}

func TestWrapAcceptsBearerAuthorizationHeader(t *testing.T) {
	h := NewHandler(newTestCache(t), "secret")
	req := httptest.NewRequest(Method, "http://proxy/a", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPurgeAllClearsEverything(t *testing.T) {
	cache := newTestCache(t)
	cache.Store("http://proxy/a", tiered.WholeKey("http://proxy/a"), []byte("x"))
	cache.Store("http://proxy/b", tiered.WholeKey("http://proxy/b"), []byte("y"))

	h := NewHandler(cache, "")
	req := httptest.NewRequest(Method, "/", nil)
	req.Header.Set("X-Purge-All", "true")
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, hit, _ := cache.Lookup(tiered.WholeKey("http://proxy/a"))
	assert.False(t, hit)
	_, hit, _ = cache.Lookup(tiered.WholeKey("http://proxy/b"))
	assert.False(t, hit)
}

func TestPurgePatternRemovesOnlyMatchingKeys(t *testing.T) {
	cache := newTestCache(t)
	cache.Store("http://proxy/videos/a", tiered.WholeKey("http://proxy/videos/a"), []byte("x"))
	cache.Store("http://proxy/images/b", tiered.WholeKey("http://proxy/images/b"), []byte("y"))

	h := NewHandler(cache, "")
	req := httptest.NewRequest(Method, "/", nil)
	req.Header.Set("X-Purge-Pattern", "cache:http://proxy/videos")
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, hit, _ := cache.Lookup(tiered.WholeKey("http://proxy/videos/a"))
	assert.False(t, hit)
	_, hit, _ = cache.Lookup(tiered.WholeKey("http://proxy/images/b"))
	assert.True(t, hit)
}

func TestPurgeSingleKeyUsesRequestURL(t *testing.T) {
	cache := newTestCache(t)
	cache.Store("http://proxy/only", tiered.WholeKey("http://proxy/only"), []byte("z"))

	h := NewHandler(cache, "")
	req := httptest.NewRequest(Method, "http://proxy/only", nil)
	rec := httptest.NewRecorder()

	h.Wrap(passthrough)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, hit, _ := cache.Lookup(tiered.WholeKey("http://proxy/only"))
	assert.False(t, hit)
}
