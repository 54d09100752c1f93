package slice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sluiceproxy/sluice/pkg/byterange"
	"github.com/sluiceproxy/sluice/pkg/rangeerr"
	"github.com/sluiceproxy/sluice/upstream"
)

// SubrequestResult is one slice fetched from origin (slices already
// marked Cached are not fetched and get no result). Attempts is how many times
// fetchWithRetry called the origin before succeeding; Retried is true
// whenever Attempts > 1 (spec §8 scenario 4: retried_subrequests).
type SubrequestResult struct {
	Index    int
	Range    byterange.ByteRange
	Body     []byte
	Attempts int
	Retried  bool
}

const (
	initialBackoff = 100 * time.Millisecond
	maxRetryWait   = 5 * time.Second
	defaultTimeout = 30 * time.Second
)

// SubrequestFailed is returned by FetchSlices the moment one slice
// exhausts its retry budget (spec §4.6).
type SubrequestFailed struct {
	SliceIndex int
	Attempts   int
	cause      error
}

func (e *SubrequestFailed) Error() string {
	return fmt.Sprintf("slice: subrequest for slice %d failed after %d attempts: %v", e.SliceIndex, e.Attempts, e.cause)
}
func (e *SubrequestFailed) Unwrap() error { return e.cause }

// Manager fetches uncached slices from the upstream with bounded
// concurrency and a per-slice retry budget (spec §4.6).
type Manager struct {
	client         *upstream.Client
	maxConcurrent  int64
	maxRetries     int
	requestTimeout time.Duration
}

func NewManager(client *upstream.Client, maxConcurrent, maxRetries int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		client:         client,
		maxConcurrent:  int64(maxConcurrent),
		maxRetries:     maxRetries,
		requestTimeout: defaultTimeout,
	}
}

// FetchSlices concurrently fetches every spec not already marked
// Cached against path, returning results sorted by slice index. The
// moment any slice exhausts its retry budget, the whole call fails:
// the shared context is cancelled, so in-flight fetches abort and no
// new ones start, and the call waits for them and discards their
// results.
func (m *Manager) FetchSlices(ctx context.Context, path string, specs []byterange.SliceSpec) ([]SubrequestResult, error) {
	toFetch := make([]byterange.SliceSpec, 0, len(specs))
	for _, s := range specs {
		if !s.Cached {
			toFetch = append(toFetch, s)
		}
	}
	if len(toFetch) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(m.maxConcurrent)
	results := make([]SubrequestResult, len(toFetch))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)

	for i, spec := range toFetch {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, spec byterange.SliceSpec) {
			defer wg.Done()
			defer sem.Release(1)

			body, attempts, err := m.fetchWithRetry(ctx, path, spec.Range)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = &SubrequestFailed{SliceIndex: spec.Index, Attempts: attempts, cause: err}
					cancel()
				}
				mu.Unlock()
				return
			}
			results[i] = SubrequestResult{Index: spec.Index, Range: spec.Range, Body: body, Attempts: attempts, Retried: attempts > 1}
		}(i, spec)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func (m *Manager) fetchWithRetry(ctx context.Context, path string, r byterange.ByteRange) ([]byte, int, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= m.maxRetries+1; attempt++ {
		body, err := m.fetchOnce(ctx, path, r)
		if err == nil {
			return body, attempt, nil
		}
		lastErr = err

		re, ok := err.(*rangeerr.Error)
		if !ok || !re.ShouldRetry() || attempt == m.maxRetries+1 {
			return nil, attempt, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryWait {
			backoff = maxRetryWait
		}
	}
	return nil, m.maxRetries + 1, lastErr
}

func (m *Manager) fetchOnce(ctx context.Context, path string, r byterange.ByteRange) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	req, err := m.client.NewRequest(reqCtx, http.MethodGet, path, r.String())
	if err != nil {
		return nil, rangeerr.New(rangeerr.IO).WithCause(err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, rangeerr.New(rangeerr.Timeout).WithCause(ctxErr)
		}
		return nil, rangeerr.New(rangeerr.OriginServer).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, classifyStatus(resp.StatusCode)
	}

	if err := validateContentRange(resp.Header.Get("Content-Range"), r); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rangeerr.New(rangeerr.IO).WithCause(err)
	}
	return body, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 400 && status < 500:
		return rangeerr.NewWithStatus(rangeerr.OriginClient, status)
	case status >= 500:
		return rangeerr.NewWithStatus(rangeerr.OriginServer, status)
	default:
		return rangeerr.NewWithStatus(rangeerr.ContentRangeMismatch, status)
	}
}

// validateContentRange enforces spec §4.6: the response is valid iff
// Content-Range parses as "bytes S-E/T" with S and E exactly matching
// the requested range.
func validateContentRange(header string, want byterange.ByteRange) error {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return rangeerr.New(rangeerr.ContentRangeMismatch).WithCause(fmt.Errorf("malformed Content-Range %q", header))
	}
	rest := strings.TrimPrefix(header, prefix)
	rangePart, _, ok := strings.Cut(rest, "/")
	if !ok {
		return rangeerr.New(rangeerr.ContentRangeMismatch).WithCause(fmt.Errorf("malformed Content-Range %q", header))
	}
	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return rangeerr.New(rangeerr.ContentRangeMismatch).WithCause(fmt.Errorf("malformed Content-Range %q", header))
	}
	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)
	if err1 != nil || err2 != nil {
		return rangeerr.New(rangeerr.ContentRangeMismatch).WithCause(fmt.Errorf("malformed Content-Range %q", header))
	}
	if start != want.Start || end != want.End {
		return rangeerr.New(rangeerr.ContentRangeMismatch).WithCause(
			fmt.Errorf("Content-Range %d-%d does not match requested %s", start, end, want))
	}
	return nil
}
