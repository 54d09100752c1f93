// Package slice implements the sliced-fetch path (spec §4.5-§4.8): split
// a large object into fixed-size range specs, fetch the uncached ones
// concurrently with retry, and reassemble them in order.
package slice

import (
	"fmt"

	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
)

// Calculate splits [0, fileSize-1] (or clientRange, if given) into a
// dense, contiguous sequence of SliceSpec of sliceSize bytes each; the
// last slice may be short (spec §4.5).
func Calculate(fileSize uint64, sliceSize uint64, clientRange *byterange.ByteRange) ([]byterange.SliceSpec, error) {
	if fileSize == 0 {
		return nil, nil
	}
	if sliceSize == 0 {
		return nil, fmt.Errorf("slice: sliceSize must be > 0")
	}

	lo, hi := uint64(0), fileSize-1
	if clientRange != nil {
		if clientRange.Start < 0 || uint64(clientRange.Start) >= fileSize {
			return nil, rangeerr.New(rangeerr.InvalidRange).WithCause(
				fmt.Errorf("range start %d >= file size %d", clientRange.Start, fileSize))
		}
		lo = uint64(clientRange.Start)
		hi = uint64(clientRange.End)
		if hi >= fileSize {
			hi = fileSize - 1
		}
	}

	var specs []byterange.SliceSpec
	idx := 0
	for start := lo; start <= hi; start += sliceSize {
		end := start + sliceSize - 1
		if end > hi {
			end = hi
		}
		r, err := byterange.New(int64(start), int64(end))
		if err != nil {
			return nil, err
		}
		specs = append(specs, byterange.SliceSpec{Index: idx, Range: r})
		idx++
	}
	return specs, nil
}
