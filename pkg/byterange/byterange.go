// Package byterange holds the typed range, metadata, and slice-spec
// model shared by every cache and proxy component (spec §3, §4.1).
package byterange

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

// ByteRange is an inclusive [Start, End] span in bytes.
type ByteRange struct {
	Start int64
	End   int64
}

// New validates and constructs a ByteRange. Start must be <= End.
func New(start, end int64) (ByteRange, error) {
	if start < 0 || end < start {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("inverted or negative range [%d, %d]", start, end))
	}
	return ByteRange{Start: start, End: end}, nil
}

// Size is the number of bytes the range spans.
func (r ByteRange) Size() int64 {
	return r.End - r.Start + 1
}

// Equal is structural equality.
func (r ByteRange) Equal(o ByteRange) bool {
	return r.Start == o.Start && r.End == o.End
}

// String renders the range back to its "bytes=S-E" wire form.
func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ContentRange renders the response "Content-Range: bytes S-E/total" value.
func (r ByteRange) ContentRange(total uint64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// FromHeader parses exactly "bytes=S-E" (whitespace tolerated around the
// tokens). Any other form, including open-ended or multi-range headers,
// fails with an InvalidRange error — byte-range subrequests issued by
// this module are always single, closed ranges.
func FromHeader(header string) (ByteRange, error) {
	header = strings.TrimSpace(header)
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("range header %q missing %q prefix", header, prefix))
	}

	body := strings.TrimSpace(header[len(prefix):])
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("range header %q is not of the form S-E", header))
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])
	if startStr == "" || endStr == "" {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("range header %q is open-ended, only closed S-E accepted", header))
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return ByteRange{}, rangeerr.New(rangeerr.InvalidRange).WithCause(err)
	}

	return New(start, end)
}

// FileMetadata is the upstream object's shape as learned from a HEAD
// request (spec §3).
type FileMetadata struct {
	ContentLength uint64
	SupportsRange bool
	ContentType   string
	ETag          string
	LastModified  string
}

// SliceSpec is one slice of a sliced request (spec §3). Index is dense
// and contiguous from 0; Cached is a view flag set by the lookup phase,
// not a persisted property of the slice itself.
type SliceSpec struct {
	Index  int
	Range  ByteRange
	Cached bool
}

// ApplyHeaders sets the standard byte-range response headers on h given
// the metadata and (optionally) the client's requested sub-range. When
// clientRange is nil the response describes the whole object (200); when
// non-nil and satisfiable it describes a partial response (206).
func ApplyHeaders(h http.Header, meta FileMetadata, clientRange *ByteRange) error {
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
		return nil
	}

	if clientRange.Start >= int64(meta.ContentLength) || clientRange.End >= int64(meta.ContentLength) {
		return rangeerr.New(rangeerr.InvalidRange).WithCause(
			fmt.Errorf("range %s unsatisfiable for content length %d", clientRange, meta.ContentLength))
	}

	h.Set("Content-Length", strconv.FormatInt(clientRange.Size(), 10))
	h.Set("Content-Range", clientRange.ContentRange(meta.ContentLength))
	return nil
}
