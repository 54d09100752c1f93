// Package upstream owns the single-origin HTTP client this proxy
// fronts (spec §6: a single upstream_address, no multi-node selection)
// plus the metadata (HEAD) fetch used by the slice path.
package upstream

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/sluiceproxy/sluice/conf"
)

// Client wraps a tuned http.Client bound to exactly one upstream
// address, transparently decompressing gzip/br responses the same way
// a browser would.
type Client struct {
	addr   string
	scheme string
	hc     *http.Client
}

// New builds a Client for cfg.Upstream. addr may be "host:port" with
// no scheme; requests are always issued over http to that address —
// TLS termination is out of scope (spec §1).
func New(cfg *conf.Upstream) *Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	if dialer.Timeout == 0 {
		dialer.Timeout = 10 * time.Second
	}

	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 1000
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost == 0 {
		maxIdlePerHost = 100
	}
	maxConnsPerHost := cfg.MaxConnsPerServer
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 100
	}
	respHeaderTimeout := cfg.ResponseHeaderTimeout
	if respHeaderTimeout == 0 {
		respHeaderTimeout = 30 * time.Second
	}

	return &Client{
		addr:   cfg.Address,
		scheme: "http",
		hc: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxConnsPerHost:       maxConnsPerHost,
				MaxIdleConns:          maxIdle,
				MaxIdleConnsPerHost:   maxIdlePerHost,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
				ResponseHeaderTimeout: respHeaderTimeout,
				DisableCompression:    true,
				DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, network, cfg.Address)
				},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewRequest builds a request against the upstream for the given
// method, path, and optional Range header value.
func (c *Client) NewRequest(ctx context.Context, method, path, rangeHeader string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.scheme+"://"+c.addr+path, nil)
	if err != nil {
		return nil, err
	}
	req.Host = c.addr
	req.Header.Set("User-Agent", "sluice-proxy")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}

// Do issues req and transparently decompresses a gzip/br response
// body, the same handling the teacher's single-node proxy applied.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return uncompress(c.hc.Do(req))
}

func uncompress(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return resp, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return resp, gzErr
		}
		resp.ContentLength = -1
		resp.Body = struct {
			io.Reader
			io.Closer
		}{Reader: reader, Closer: resp.Body}
	case "br":
		reader := brotli.NewReader(resp.Body)
		resp.ContentLength = -1
		resp.Body = struct {
			io.Reader
			io.Closer
		}{Reader: reader, Closer: resp.Body}
	}
	return resp, nil
}
