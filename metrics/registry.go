// Package metrics is the proxy's counter set (spec §4.10): a fixed
// collection of atomic counters exposed both as a plain snapshot and,
// via prometheus/client_golang, on the /metrics endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter named in spec §4.10 plus the raw-disk
// mirrors. All increments are relaxed atomics; Snapshot takes an
// independent copy of each with no cross-counter consistency.
type Registry struct {
	TotalRequests       atomic.Uint64
	SlicedRequests      atomic.Uint64
	PassthroughRequests atomic.Uint64

	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
	CacheErrors atomic.Uint64

	TotalSubrequests   atomic.Uint64
	FailedSubrequests  atomic.Uint64
	RetriedSubrequests atomic.Uint64

	BytesFromOrigin atomic.Uint64
	BytesFromCache  atomic.Uint64
	BytesToClient   atomic.Uint64

	TotalRequestDurationUs    atomic.Uint64
	TotalSubrequestDurationUs atomic.Uint64
	TotalAssemblyDurationUs   atomic.Uint64

	// Raw-disk mirrors (spec §4.10 "raw-disk-specific counters").
	DiskStores     atomic.Uint64
	DiskLookups    atomic.Uint64
	DiskRemoves    atomic.Uint64
	DiskErrors     atomic.Uint64
	DiskFreeBlocks atomic.Uint64
	DiskUsedBlocks atomic.Uint64

	// Tiered-cache layer gauges, set periodically from tiered.Cache.Stats().
	CacheL1Hits    atomic.Uint64
	CacheL2Hits    atomic.Uint64
	CacheL1Entries atomic.Uint64
	CacheL1Bytes   atomic.Uint64

	requestRate    *ratecounter.RateCounter
	subrequestRate *ratecounter.RateCounter

	promCounters map[string]prometheus.Counter
}

// New builds a Registry and registers its prometheus counters against
// reg (pass prometheus.DefaultRegisterer for the process default).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requestRate:    ratecounter.NewRateCounter(time.Second),
		subrequestRate: ratecounter.NewRateCounter(time.Second),
		promCounters:   make(map[string]prometheus.Counter),
	}

	names := []string{
		"total_requests", "sliced_requests", "passthrough_requests",
		"cache_hits", "cache_misses", "cache_errors",
		"total_subrequests", "failed_subrequests", "retried_subrequests",
		"bytes_from_origin", "bytes_from_cache", "bytes_to_client",
		"disk_stores", "disk_lookups", "disk_removes", "disk_errors",
	}
	for _, name := range names {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "proxy",
			Name:      name,
			Help:      name + " cumulative counter",
		})
		if reg != nil {
			reg.MustRegister(c)
		}
		r.promCounters[name] = c
	}
	return r
}

// RecordRequest bumps total_requests (and, depending on admission,
// sliced or passthrough) plus the rolling requests/s counter.
func (r *Registry) RecordRequest(sliced bool) {
	r.TotalRequests.Add(1)
	r.promCounters["total_requests"].Inc()
	r.requestRate.Incr(1)
	if sliced {
		r.SlicedRequests.Add(1)
		r.promCounters["sliced_requests"].Inc()
	} else {
		r.PassthroughRequests.Add(1)
		r.promCounters["passthrough_requests"].Inc()
	}
}

func (r *Registry) RecordCacheHit(bytes uint64) {
	r.CacheHits.Add(1)
	r.BytesFromCache.Add(bytes)
	r.promCounters["cache_hits"].Inc()
}

func (r *Registry) RecordCacheMiss() {
	r.CacheMisses.Add(1)
	r.promCounters["cache_misses"].Inc()
}

func (r *Registry) RecordCacheError() {
	r.CacheErrors.Add(1)
	r.promCounters["cache_errors"].Inc()
}

func (r *Registry) RecordSubrequest(failed, retried bool) {
	r.TotalSubrequests.Add(1)
	r.promCounters["total_subrequests"].Inc()
	r.subrequestRate.Incr(1)
	if failed {
		r.FailedSubrequests.Add(1)
		r.promCounters["failed_subrequests"].Inc()
	}
	if retried {
		r.RetriedSubrequests.Add(1)
		r.promCounters["retried_subrequests"].Inc()
	}
}

func (r *Registry) RecordBytesFromOrigin(n uint64) {
	r.BytesFromOrigin.Add(n)
	r.promCounters["bytes_from_origin"].Add(float64(n))
}

func (r *Registry) RecordBytesToClient(n uint64) {
	r.BytesToClient.Add(n)
}

func (r *Registry) RecordDiskStore(failed bool) {
	r.DiskStores.Add(1)
	r.promCounters["disk_stores"].Inc()
	if failed {
		r.DiskErrors.Add(1)
		r.promCounters["disk_errors"].Inc()
	}
}

func (r *Registry) RecordDiskLookup() {
	r.DiskLookups.Add(1)
	r.promCounters["disk_lookups"].Inc()
}

func (r *Registry) RecordDiskRemove() {
	r.DiskRemoves.Add(1)
	r.promCounters["disk_removes"].Inc()
}

func (r *Registry) SetDiskBlockGauges(free, used uint64) {
	r.DiskFreeBlocks.Store(free)
	r.DiskUsedBlocks.Store(used)
}

// SetCacheLayerStats overwrites the L1/L2 gauge set from a
// tiered.Cache.Stats() snapshot; unlike the Record* counters these are
// absolute, not cumulative.
func (r *Registry) SetCacheLayerStats(l1Hits, l2Hits uint64, l1Entries int, l1Bytes uint64) {
	r.CacheL1Hits.Store(l1Hits)
	r.CacheL2Hits.Store(l2Hits)
	r.CacheL1Entries.Store(uint64(l1Entries))
	r.CacheL1Bytes.Store(l1Bytes)
}

func (r *Registry) AddRequestDuration(d time.Duration)    { r.TotalRequestDurationUs.Add(uint64(d.Microseconds())) }
func (r *Registry) AddSubrequestDuration(d time.Duration) { r.TotalSubrequestDurationUs.Add(uint64(d.Microseconds())) }
func (r *Registry) AddAssemblyDuration(d time.Duration)   { r.TotalAssemblyDurationUs.Add(uint64(d.Microseconds())) }

// Snapshot is an independent copy of every counter, safe to serialize.
type Snapshot struct {
	TotalRequests, SlicedRequests, PassthroughRequests       uint64
	CacheHits, CacheMisses, CacheErrors                      uint64
	TotalSubrequests, FailedSubrequests, RetriedSubrequests  uint64
	BytesFromOrigin, BytesFromCache, BytesToClient            uint64
	TotalRequestDurationUs, TotalSubrequestDurationUs, TotalAssemblyDurationUs uint64
	DiskStores, DiskLookups, DiskRemoves, DiskErrors          uint64
	DiskFreeBlocks, DiskUsedBlocks                            uint64
	CacheL1Hits, CacheL2Hits, CacheL1Entries, CacheL1Bytes    uint64
	RequestsPerSecond, SubrequestsPerSecond                  int64
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:             r.TotalRequests.Load(),
		SlicedRequests:            r.SlicedRequests.Load(),
		PassthroughRequests:       r.PassthroughRequests.Load(),
		CacheHits:                 r.CacheHits.Load(),
		CacheMisses:               r.CacheMisses.Load(),
		CacheErrors:               r.CacheErrors.Load(),
		TotalSubrequests:          r.TotalSubrequests.Load(),
		FailedSubrequests:         r.FailedSubrequests.Load(),
		RetriedSubrequests:        r.RetriedSubrequests.Load(),
		BytesFromOrigin:           r.BytesFromOrigin.Load(),
		BytesFromCache:            r.BytesFromCache.Load(),
		BytesToClient:             r.BytesToClient.Load(),
		TotalRequestDurationUs:    r.TotalRequestDurationUs.Load(),
		TotalSubrequestDurationUs: r.TotalSubrequestDurationUs.Load(),
		TotalAssemblyDurationUs:   r.TotalAssemblyDurationUs.Load(),
		DiskStores:                r.DiskStores.Load(),
		DiskLookups:               r.DiskLookups.Load(),
		DiskRemoves:               r.DiskRemoves.Load(),
		DiskErrors:                r.DiskErrors.Load(),
		DiskFreeBlocks:            r.DiskFreeBlocks.Load(),
		DiskUsedBlocks:            r.DiskUsedBlocks.Load(),
		CacheL1Hits:               r.CacheL1Hits.Load(),
		CacheL2Hits:               r.CacheL2Hits.Load(),
		CacheL1Entries:            r.CacheL1Entries.Load(),
		CacheL1Bytes:              r.CacheL1Bytes.Load(),
		RequestsPerSecond:         r.requestRate.Rate(),
		SubrequestsPerSecond:      r.subrequestRate.Rate(),
	}
}
