package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

// DefaultMetadataTimeout is the HEAD request timeout when none is
// configured (spec §5).
const DefaultMetadataTimeout = 10 * time.Second

// FetchMetadata issues HEAD against path and builds a FileMetadata from
// the response (spec §4.4). A missing or non-numeric Content-Length is
// a MetadataFetch error, which callers must treat as "fall back to
// normal proxy mode" rather than a client-visible failure.
func (c *Client) FetchMetadata(ctx context.Context, path string, timeout time.Duration) (byterange.FileMetadata, error) {
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.NewRequest(ctx, http.MethodHead, path, "")
	if err != nil {
		return byterange.FileMetadata{}, rangeerr.New(rangeerr.MetadataFetch).WithCause(err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return byterange.FileMetadata{}, rangeerr.New(rangeerr.MetadataFetch).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return byterange.FileMetadata{}, rangeerr.NewWithStatus(rangeerr.OriginClient, resp.StatusCode)
	case resp.StatusCode >= 500:
		return byterange.FileMetadata{}, rangeerr.NewWithStatus(rangeerr.OriginServer, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return byterange.FileMetadata{}, rangeerr.NewWithStatus(rangeerr.MetadataFetch, resp.StatusCode)
	}

	cl := resp.Header.Get("Content-Length")
	length, err := strconv.ParseUint(cl, 10, 64)
	if cl == "" || err != nil {
		return byterange.FileMetadata{}, rangeerr.New(rangeerr.MetadataFetch).WithCause(
			fmt.Errorf("missing or non-numeric Content-Length %q", cl))
	}

	return byterange.FileMetadata{
		ContentLength: length,
		SupportsRange: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
	}, nil
}
