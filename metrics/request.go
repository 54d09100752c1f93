package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sluiceproxy/sluice/internal/constants"
)

type requestMetricKey struct{}

// RequestMetric carries the per-request bookkeeping the access-log
// and dispatch layers fill in as a request is served.
type RequestMetric struct {
	StartAt           time.Time
	RequestID         string
	RecvReq           uint64
	SentResp          uint64
	StoreUrl          string
	CacheStatus       string
	RemoteAddr        string
	FirstResponseTime time.Time
}

// WithRequestMetric returns req carrying a fresh RequestMetric in its
// context, along with the metric itself so the caller can fill it in
// as the request is served.
func WithRequestMetric(req *http.Request) (*http.Request, *RequestMetric) {
	metric := &RequestMetric{
		StartAt:   time.Now(),
		RequestID: MustParseRequestID(req.Header),
	}
	return req.WithContext(newContext(req.Context(), metric)), metric
}

func FromContext(ctx context.Context) *RequestMetric {
	if v, ok := ctx.Value(requestMetricKey{}).(*RequestMetric); ok {
		return v
	}
	return &RequestMetric{}
}

func newContext(ctx context.Context, metric *RequestMetric) context.Context {
	return context.WithValue(ctx, requestMetricKey{}, metric)
}

// MustParseRequestID returns the client-supplied request ID header, or
// generates a new uuid v4 when absent.
func MustParseRequestID(h http.Header) string {
	id := h.Get(constants.ProtocolRequestIDKey)
	if id == "" {
		return uuid.NewString()
	}
	return id
}
