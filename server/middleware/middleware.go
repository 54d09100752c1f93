package middleware

import (
	"net/http"

	"github.com/sluiceproxy/sluice/pkg/mapstruct"
)

// Config is one configured middleware entry in the chain (conf.yaml's
// server.middlewares list).
type Config struct {
	Name     string         `json:"name" yaml:"name"`
	Required bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Options  map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Unmarshal decodes Options into in, for factories with their own
// option struct.
func (m *Config) Unmarshal(in any) error {
	return mapstruct.Decode(m.Options, in)
}

// Factory is a middleware factory.
type Factory func(*Config) (middleware Middleware, cleanup func(), err error)

// Middleware is handler middleware.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc is an adapter to allow the use of
// ordinary functions as HTTP RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(req).
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain returns a Middleware that specifies the chained handler for endpoint.
func Chain(m ...Middleware) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		for i := len(m) - 1; i >= 0; i-- {
			next = m[i](next)
		}
		return next
	}
}

var EmptyMiddleware = func(tripper http.RoundTripper) http.RoundTripper { return tripper }
var EmptyCleanup = func() {}
