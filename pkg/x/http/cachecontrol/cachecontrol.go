// Package cachecontrol parses the Cache-Control response header into the
// directives that matter for overriding the configured static cache TTL.
package cachecontrol

import (
	"strconv"
	"strings"
	"time"
)

// Directives is a parsed Cache-Control header. Unknown directives are
// ignored; unparseable values are treated as absent.
type Directives struct {
	maxAge        time.Duration
	hasMaxAge     bool
	noStore       bool
	noCache       bool
	private       bool
	mustRevalidate bool
}

// Parse splits header on commas and recognizes no-store, no-cache,
// private, must-revalidate and max-age=N. An empty or unrecognized
// header parses to the zero value (Cacheable() true, MaxAge() 0).
func Parse(header string) Directives {
	var d Directives
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch name {
		case "no-store":
			d.noStore = true
		case "no-cache":
			d.noCache = true
		case "private":
			d.private = true
		case "must-revalidate":
			d.mustRevalidate = true
		case "max-age":
			if secs, err := strconv.Atoi(value); err == nil {
				if secs < 0 {
					secs = 0
				}
				d.maxAge = time.Duration(secs) * time.Second
				d.hasMaxAge = true
			}
		}
	}
	return d
}

// MaxAge returns the parsed max-age as a duration, or 0 if absent.
func (d Directives) MaxAge() time.Duration {
	return d.maxAge
}

// HasMaxAge reports whether a max-age directive was present.
func (d Directives) HasMaxAge() bool {
	return d.hasMaxAge
}

// Cacheable reports whether the response may be cached at all.
func (d Directives) Cacheable() bool {
	return !d.noStore && !d.noCache
}

// MustRevalidate reports whether a cached entry must be revalidated
// with the origin before reuse past its freshness lifetime.
func (d Directives) MustRevalidate() bool {
	return d.mustRevalidate
}
