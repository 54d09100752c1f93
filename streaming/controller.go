// Package streaming is the streaming proxy state machine (spec §4.9):
// a per-request hook pipeline that forwards upstream bytes to the
// client in real time while buffering them for a single write-through
// cache commit at end-of-stream.
package streaming

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/internal/constants"
	"github.com/sluiceproxy/sluice/metrics"
	"github.com/sluiceproxy/sluice/upstream"
)

// DefaultSizeCap is the streaming path's size cap (spec §4.9): bodies
// larger than this are never buffered for caching.
const DefaultSizeCap = 1 << 30 // 1 GiB

const (
	cacheStatusHit          = "HIT"
	cacheStatusMiss         = "MISS"
	cacheStatusSkip         = "SKIP"
	cacheStatusSkipTooLarge = "SKIP-TOO-LARGE"
	cacheStatusDisabled     = "DISABLED"
)

// Controller runs the streaming path for requests the slice
// controller declined (no Range split; whole-object cache key).
type Controller struct {
	client       *upstream.Client
	cache        *tiered.Cache
	metrics      *metrics.Registry
	cacheEnabled bool
	sizeCap      int64
	flight       singleflight.Group
}

func NewController(client *upstream.Client, c *tiered.Cache, m *metrics.Registry, cacheEnabled bool, sizeCap int64) *Controller {
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCap
	}
	return &Controller{client: client, cache: c, metrics: m, cacheEnabled: cacheEnabled, sizeCap: sizeCap}
}

// requestState is the per-request context threaded through the hook
// pipeline (spec §4.9 "per-request hooks").
type requestState struct {
	url          string
	cacheKey     string
	cacheHit     bool
	cacheEnabled bool
	cacheError   bool
	bytesReceived int64
}

// Serve runs request_filter -> upstream_request_filter ->
// upstream_response_filter -> response_body_filter -> logging in
// order, writing the response to w.
func (c *Controller) Serve(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	st := &requestState{url: req.URL.String(), cacheKey: tiered.WholeKey(req.URL.String())}

	var cachedBody []byte
	if c.requestFilter(st, &cachedBody) {
		c.respondFromCache(w, st, cachedBody)
		c.logLine(st, nil)
		c.metrics.AddRequestDuration(time.Since(start))
		return
	}

	upReq, err := c.client.NewRequest(req.Context(), http.MethodGet, req.URL.Path, req.Header.Get("Range"))
	if err != nil {
		c.failToConnect(w, st, err)
		return
	}
	c.upstreamRequestFilter(upReq, req)

	resp, err := c.client.Do(upReq)
	if err != nil {
		c.failToConnect(w, st, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	status := c.upstreamResponseFilter(st, w.Header(), resp)
	w.WriteHeader(status)

	if err := c.responseBodyFilter(st, w, resp.Body); err != nil {
		log.Errorf("streaming controller: error_while_proxy for %s: %v", st.url, err)
	}

	c.logLine(st, nil)
	c.metrics.AddRequestDuration(time.Since(start))
}

// requestFilter attempts a whole-object lookup under the cache key.
// Concurrent misses for the same URL each go upstream; only their
// end-of-stream cache commits are collapsed (see responseBodyFilter).
// Returns true (with cachedBody populated) on hit.
func (c *Controller) requestFilter(st *requestState, cachedBody *[]byte) bool {
	if !c.cacheEnabled {
		return false
	}

	body, ok, err := c.cache.Lookup(st.cacheKey)
	if err != nil {
		st.cacheError = true
		c.metrics.RecordCacheError()
		log.Errorf("streaming controller: cache_error for %s: %v", st.url, err)
	}
	if ok {
		st.cacheHit = true
		*cachedBody = body
		return true
	}

	st.cacheEnabled = true
	return false
}

func (c *Controller) upstreamRequestFilter(upReq *http.Request, clientReq *http.Request) {
	upReq.Header.Set("User-Agent", clientReq.Header.Get("User-Agent"))
}

// upstreamResponseFilter decides cacheability and sets X-Cache,
// returning the status to write.
func (c *Controller) upstreamResponseFilter(st *requestState, h http.Header, resp *http.Response) int {
	if st.cacheHit {
		h.Set(constants.ProtocolCacheStatusKey, cacheStatusHit)
		return http.StatusOK
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	if !c.cacheEnabled {
		h.Set(constants.ProtocolCacheStatusKey, cacheStatusDisabled)
		st.cacheEnabled = false
		return resp.StatusCode
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.Set(constants.ProtocolCacheStatusKey, cacheStatusSkip)
		st.cacheEnabled = false
		return resp.StatusCode
	}
	if resp.ContentLength > c.sizeCap {
		h.Set(constants.ProtocolCacheStatusKey, cacheStatusSkipTooLarge)
		st.cacheEnabled = false
		return resp.StatusCode
	}

	h.Set(constants.ProtocolCacheStatusKey, cacheStatusMiss)
	return resp.StatusCode
}

// responseBodyFilter streams body to w chunk-by-chunk, buffering an
// immutable chunk list when cacheEnabled, and commits the whole-object
// write-through at end-of-stream.
func (c *Controller) responseBodyFilter(st *requestState, w http.ResponseWriter, body io.Reader) error {
	if st.cacheHit {
		return nil // already served by respondFromCache
	}

	var chunks [][]byte
	buf := make([]byte, 64*1024)
	flusher, _ := w.(http.Flusher)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			st.bytesReceived += int64(n)
			c.metrics.RecordBytesFromOrigin(uint64(n))

			if _, werr := w.Write(chunk); werr != nil {
				return werr
			}
			c.metrics.RecordBytesToClient(uint64(n))
			if flusher != nil {
				flusher.Flush()
			}

			if st.cacheEnabled {
				if st.bytesReceived > c.sizeCap {
					st.cacheEnabled = false
					chunks = nil
				} else {
					chunks = append(chunks, chunk)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			st.cacheEnabled = false
			return err
		}
	}

	if st.cacheEnabled && len(chunks) > 0 {
		total := 0
		for _, chunk := range chunks {
			total += len(chunk)
		}
		whole := make([]byte, 0, total)
		for _, chunk := range chunks {
			whole = append(whole, chunk...)
		}
		// Collapse concurrent EOS commits for the same key (two requests
		// racing to populate a cold whole-object entry) into one store.
		_, _, _ = c.flight.Do(st.cacheKey, func() (interface{}, error) {
			c.cache.Store(st.url, st.cacheKey, whole)
			return nil, nil
		})
	}
	return nil
}

func (c *Controller) respondFromCache(w http.ResponseWriter, st *requestState, body []byte) {
	c.metrics.RecordCacheHit(uint64(len(body)))
	w.Header().Set(constants.ProtocolCacheStatusKey, cacheStatusHit)
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(body)
	c.metrics.RecordBytesToClient(uint64(n))
}

func (c *Controller) failToConnect(w http.ResponseWriter, st *requestState, err error) {
	c.metrics.RecordCacheError()
	log.Errorf("streaming controller: fail_to_connect for %s: %v", st.url, err)
	w.Header().Set(constants.ProtocolCacheStatusKey, cacheStatusDisabled)
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
	c.logLine(st, err)
}

func (c *Controller) logLine(st *requestState, err error) {
	if err != nil {
		log.Warnf("streaming %s cache_hit=%v cache_enabled=%v cache_error=%v bytes=%d error=%v", st.url, st.cacheHit, st.cacheEnabled, st.cacheError, st.bytesReceived, err)
		return
	}
	log.Debugf("streaming %s cache_hit=%v cache_enabled=%v cache_error=%v bytes=%d", st.url, st.cacheHit, st.cacheEnabled, st.cacheError, st.bytesReceived)
}
