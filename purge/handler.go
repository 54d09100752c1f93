// Package purge is the PURGE method handler (spec §4.11): invalidates
// the tiered cache by single key, key prefix, or everything, gated by
// an optional bearer token.
package purge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sluiceproxy/sluice/cache/tiered"
	"github.com/sluiceproxy/sluice/contrib/log"
)

const Method = "PURGE"

// Handler wraps next, intercepting the synthetic PURGE method.
type Handler struct {
	cache *tiered.Cache
	token string // empty disables auth
}

func NewHandler(c *tiered.Cache, token string) *Handler {
	return &Handler{cache: c, token: token}
}

type response struct {
	Success     bool   `json:"success"`
	PurgedCount int    `json:"purged_count"`
	URL         string `json:"url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Wrap returns next unchanged for any non-PURGE method, and handles
// PURGE itself otherwise.
func (h *Handler) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != Method {
			next(w, req)
			return
		}

		if h.token != "" && !h.authorized(req) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(response{Success: false, Message: "unauthorized"})
			return
		}

		h.handlePurge(w, req)
	}
}

func (h *Handler) authorized(req *http.Request) bool {
	if v := req.Header.Get("X-Purge-Token"); v != "" {
		return v == h.token
	}
	if v := req.Header.Get("Authorization"); v != "" {
		return strings.TrimPrefix(v, "Bearer ") == h.token
	}
	return false
}

func (h *Handler) handlePurge(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if req.Header.Get("X-Purge-All") == "true" {
		h.cache.PurgeAll()
		log.Infof("purge: wiped entire cache")
		writeJSON(w, response{Success: true, Message: "purged all"})
		return
	}

	if prefix := req.Header.Get("X-Purge-Pattern"); prefix != "" {
		n := h.cache.PurgePrefix(prefix)
		log.Infof("purge: prefix %q matched %d keys", prefix, n)
		writeJSON(w, response{Success: true, PurgedCount: n, Message: "purged by pattern"})
		return
	}

	url := req.URL.String()
	n := h.cache.PurgeURL(url)
	log.Infof("purge: url %q removed %d keys", url, n)
	writeJSON(w, response{Success: true, PurgedCount: n, URL: url})
}

func writeJSON(w http.ResponseWriter, r response) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(r)
}
