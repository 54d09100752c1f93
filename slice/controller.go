package slice

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/contrib/log"
	"github.com/sluiceproxy/sluice/metrics"
	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
	"github.com/sluiceproxy/sluice/upstream"
)

// Admit decides whether req is eligible for the slice controller
// (spec §4.8 NEW -> classify): non-GET requests, requests already
// carrying a client Range header, and URLs matching none of patterns
// (when patterns is non-empty) are routed to passthrough/streaming
// instead.
func Admit(req *http.Request, patterns []string) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Range") != "" {
		return false
	}
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, req.URL.Path); err == nil && ok {
			return true
		}
	}
	return false
}

// Controller orchestrates C4-C7 plus the tiered cache for a single
// sliced request (spec §4.8).
type Controller struct {
	client     *upstream.Client
	manager    *Manager
	cache      *tiered.Cache
	metrics    *metrics.Registry
	sliceSize  uint64
	metaTimeout time.Duration
}

func NewController(client *upstream.Client, manager *Manager, c *tiered.Cache, m *metrics.Registry, sliceSize uint64) *Controller {
	return &Controller{client: client, manager: manager, cache: c, metrics: m, sliceSize: sliceSize, metaTimeout: upstream.DefaultMetadataTimeout}
}

// ErrPassthrough signals the caller to fall back to the streaming
// controller instead of failing the client.
var ErrPassthrough = rangeerr.New(rangeerr.MetadataFetch)

// Serve runs the full CALC_SLICES -> LOOKUP_CACHE -> FETCH_UNCACHED ->
// ASSEMBLE -> RESPOND -> WRITE-THROUGH pipeline and writes the
// response to w. Returns ErrPassthrough when the caller should retry
// via the streaming controller instead (metadata fetch failed or the
// origin doesn't support ranges).
func (c *Controller) Serve(ctx context.Context, w http.ResponseWriter, req *http.Request, url string) error {
	meta, err := c.client.FetchMetadata(ctx, req.URL.Path, c.metaTimeout)
	if err != nil {
		if re, ok := err.(*rangeerr.Error); ok {
			if re.Kind == rangeerr.OriginClient {
				w.WriteHeader(re.HTTPStatus())
				return nil
			}
			return ErrPassthrough
		}
		return ErrPassthrough
	}
	if !meta.SupportsRange {
		return ErrPassthrough
	}

	var clientRange *byterange.ByteRange
	specs, err := Calculate(meta.ContentLength, c.sliceSize, clientRange)
	if err != nil {
		return ErrPassthrough
	}
	if len(specs) == 0 {
		return ErrPassthrough
	}

	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = tiered.Key(url, s.Range.Start, s.Range.End)
	}
	hits := c.cache.LookupMultiple(keys)
	cached := make(map[int][]byte, len(hits))
	for i, body := range hits {
		specs[i].Cached = true
		cached[specs[i].Index] = body
		c.metrics.RecordCacheHit(uint64(len(body)))
	}
	for _, s := range specs {
		if !s.Cached {
			c.metrics.RecordCacheMiss()
		}
	}

	subStart := time.Now()
	fetched, err := c.manager.FetchSlices(ctx, req.URL.Path, specs)
	c.metrics.AddSubrequestDuration(time.Since(subStart))
	if err != nil {
		if sf, ok := err.(*SubrequestFailed); ok {
			c.metrics.RecordSubrequest(true, sf.Attempts > 1)
			w.WriteHeader(http.StatusBadGateway)
			return nil
		}
		return err
	}
	for _, r := range fetched {
		c.metrics.RecordSubrequest(false, r.Retried)
	}

	for _, r := range fetched {
		c.cache.Store(url, tiered.Key(url, r.Range.Start, r.Range.End), r.Body)
	}

	asmStart := time.Now()
	body, err := Assemble(len(specs), cached, fetched)
	c.metrics.AddAssemblyDuration(time.Since(asmStart))
	if err != nil {
		log.Errorf("slice controller: assembly failed for %s: %v", url, err)
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}

	status, err := ApplyHeaders(w.Header(), meta, clientRange)
	if err != nil {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	w.WriteHeader(status)
	n, _ := w.Write(body)
	c.metrics.RecordBytesToClient(uint64(n))
	return nil
}
