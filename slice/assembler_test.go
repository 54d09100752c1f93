package slice

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

func TestAssembleOrdersByIndexRegardlessOfArrivalOrder(t *testing.T) {
	cached := map[int][]byte{0: []byte("AAA")}
	fetched := []SubrequestResult{
		{Index: 2, Body: []byte("CCC")},
		{Index: 1, Body: []byte("BBB")},
	}

	body, err := Assemble(3, cached, fetched)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAABBBCCC"), body)
}

func TestAssembleMissingSliceErrors(t *testing.T) {
	cached := map[int][]byte{0: []byte("AAA")}
	fetched := []SubrequestResult{{Index: 1, Body: []byte("BBB")}}

	_, err := Assemble(3, cached, fetched) // index 2 missing
	require.Error(t, err)
	assert.True(t, rangeerr.Is(err, rangeerr.Assembly))
}

func TestApplyHeadersWholeObjectIs200(t *testing.T) {
	h := http.Header{}
	meta := byterange.FileMetadata{ContentLength: 100, ContentType: "video/mp4"}

	status, err := ApplyHeaders(h, meta, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", h.Get("Content-Length"))
	assert.Equal(t, "video/mp4", h.Get("Content-Type"))
}

func TestApplyHeadersPartialIs206(t *testing.T) {
	h := http.Header{}
	meta := byterange.FileMetadata{ContentLength: 100}
	rng, err := byterange.New(10, 19)
	require.NoError(t, err)

	status, err := ApplyHeaders(h, meta, &rng)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, status)
	assert.Equal(t, "10", h.Get("Content-Length"))
	assert.Equal(t, "bytes 10-19/100", h.Get("Content-Range"))
}

func TestApplyHeadersUnsatisfiableRangeIs416(t *testing.T) {
	h := http.Header{}
	meta := byterange.FileMetadata{ContentLength: 100}
	rng, err := byterange.New(200, 300)
	require.NoError(t, err)

	_, err = ApplyHeaders(h, meta, &rng)
	require.Error(t, err)
	assert.True(t, rangeerr.Is(err, rangeerr.InvalidRange))
}
