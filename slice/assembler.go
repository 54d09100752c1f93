package slice

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/kelindar/bitmap"

	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

// Assemble orders cached and freshly-fetched results by slice index,
// verifies every index 0..N-1 is present, and concatenates their
// bodies (spec §4.7).
func Assemble(n int, cached map[int][]byte, fetched []SubrequestResult) ([]byte, error) {
	byIndex := make(map[int][]byte, n)
	var coverage bitmap.Bitmap
	for i, b := range cached {
		byIndex[i] = b
		coverage.Set(uint32(i))
	}
	for _, r := range fetched {
		byIndex[r.Index] = r.Body
		coverage.Set(uint32(r.Index))
	}

	for i := 0; i < n; i++ {
		if !coverage.Contains(uint32(i)) {
			return nil, rangeerr.New(rangeerr.Assembly).WithCause(fmt.Errorf("missing slice at %d", i))
		}
	}

	total := 0
	for i := 0; i < n; i++ {
		total += len(byIndex[i])
	}
	out := make([]byte, 0, total)
	for i := 0; i < n; i++ {
		out = append(out, byIndex[i]...)
	}
	return out, nil
}

// ApplyHeaders builds the 200/206/416 response headers for an
// assembled body (spec §4.7). Status is also returned so the caller
// can set it on the ResponseWriter before any header mutation that
// must precede WriteHeader.
func ApplyHeaders(h http.Header, meta byterange.FileMetadata, clientRange *byterange.ByteRange) (status int, err error) {
	h.Set("Accept-Ranges", "bytes")
	if meta.ContentType != "" {
		h.Set("Content-Type", meta.ContentType)
	}
	if meta.ETag != "" {
		h.Set("ETag", meta.ETag)
	}
	if meta.LastModified != "" {
		h.Set("Last-Modified", meta.LastModified)
	}

	if clientRange == nil {
		h.Set("Content-Length", strconv.FormatUint(meta.ContentLength, 10))
		return http.StatusOK, nil
	}

	if clientRange.Start >= int64(meta.ContentLength) || clientRange.End >= int64(meta.ContentLength) {
		return 0, rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("range %s unsatisfiable for content length %d", clientRange, meta.ContentLength))
	}

	h.Set("Content-Length", strconv.FormatInt(clientRange.Size(), 10))
	h.Set("Content-Range", clientRange.ContentRange(meta.ContentLength))
	return http.StatusPartialContent, nil
}
