// Package tiered is the tiered cache (spec §3, §4.3): an L1 in-memory
// LRU layered over a pluggable L2Backend, with asynchronous
// write-behind to L2 so request-path latency never waits on disk I/O.
package tiered

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sluiceproxy/sluice/cache"
	"github.com/sluiceproxy/sluice/cache/lru"
	"github.com/sluiceproxy/sluice/cache/sharedkv"
	"github.com/sluiceproxy/sluice/contrib/log"
)

// Key builds the tiered cache's internal key for a (url, range) pair:
// "{url}:{start}:{end}". Streaming whole-object entries use WholeKey
// instead.
func Key(url string, start, end int64) string {
	var b strings.Builder
	b.WriteString(url)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(start, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(end, 10))
	return b.String()
}

// WholeKey builds the streaming path's whole-object key: "cache:{url}".
func WholeKey(url string) string { return "cache:" + url }

type opKind int

const (
	opWrite opKind = iota
	opDelete
	opDeletePrefix
	opDeleteAll
	opShutdown
)

type writerOp struct {
	kind   opKind
	url    string
	key    string
	prefix string
	body   []byte
	ttl    time.Duration
}

// Cache is the C3 tiered cache: L1 LRU fronting a pluggable L2Backend,
// with an optional sharedkv index that turns purge-by-URL and
// purge-by-prefix from an L1-only linear scan into an indexed lookup.
type Cache struct {
	l1  *lru.Cache[string, []byte]
	l2  cache.L2Backend
	idx *sharedkv.KV
	ttl time.Duration

	ops  chan writerOp
	done chan struct{}

	l1Hits     atomic.Uint64
	l2Hits     atomic.Uint64
	misses     atomic.Uint64
	diskWrites atomic.Uint64
	diskErrors atomic.Uint64
}

// New starts a Cache with L1 bounded at l1CapacityBytes and the given
// L2 backend (nil disables L2 entirely: L1-only mode). ttl is the
// default entry lifetime applied on store and on L2→L1 promotion. idx
// may be nil, in which case PurgePrefix falls back to a linear L1 scan
// and PurgeURL falls back to purging only the whole-object key.
func New(l1CapacityBytes uint64, l2 cache.L2Backend, ttl time.Duration, idx *sharedkv.KV) *Cache {
	c := &Cache{
		l1:   lru.New[string, []byte](l1CapacityBytes, func(v []byte) uint64 { return uint64(len(v)) }),
		l2:   l2,
		idx:  idx,
		ttl:  ttl,
		ops:  make(chan writerOp, 1024),
		done: make(chan struct{}),
	}
	go c.runWriter()
	return c
}

// Lookup checks L1 first, then L2 on miss, promoting an L2 hit back
// into L1 with a fresh TTL. A non-nil error means the L2 backend
// itself failed (spec's "L1/L2 lookup error" degradation row) and is
// distinct from a clean miss (ok == false, err == nil).
func (c *Cache) Lookup(key string) ([]byte, bool, error) {
	if v, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		return v, true, nil
	}

	if c.l2 == nil {
		c.misses.Add(1)
		return nil, false, nil
	}

	body, ok, err := c.l2.Lookup(key)
	if err != nil {
		log.Errorf("tiered cache: l2 lookup %q: %v", key, err)
		return nil, false, err
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	c.l2Hits.Add(1)
	c.l1.Set(key, body, c.ttl)
	return body, true, nil
}

// LookupMultiple is the batch form used by the slice path: it returns
// only the keys that hit (in either tier), keyed by their position in
// keys. L2 errors are treated as misses here since a sliced request
// has no single "error" slot to surface per-key failures into.
func (c *Cache) LookupMultiple(keys []string) map[int][]byte {
	out := make(map[int][]byte, len(keys))
	for i, k := range keys {
		if v, ok, _ := c.Lookup(k); ok {
			out[i] = v
		}
	}
	return out
}

// Store inserts into L1 synchronously and enqueues an async L2 write
// plus, when an index is configured, an async sharedkv entry recording
// that key was derived from url. url is the plain object URL for both
// whole-object and slice keys, letting PurgeURL find every key ever
// stored for it regardless of which controller wrote it.
func (c *Cache) Store(url, key string, body []byte) {
	c.l1.Set(key, body, c.ttl)
	if c.l2 == nil {
		return
	}
	select {
	case c.ops <- writerOp{kind: opWrite, url: url, key: key, body: body, ttl: c.ttl}:
	default:
		log.Warnf("tiered cache: writer queue full, dropping write for %q", key)
	}
}

// Purge removes key from both tiers.
func (c *Cache) Purge(key string) {
	c.l1.Delete(key)
	if c.l2 == nil {
		return
	}
	c.ops <- writerOp{kind: opDelete, key: key}
}

// PurgeURL removes every key ever stored for url — the whole-object
// entry and every slice — and returns how many keys were purged. With
// no index configured it purges only the whole-object key, matching
// the pre-index behavior.
func (c *Cache) PurgeURL(url string) int {
	if c.idx == nil {
		c.Purge(WholeKey(url))
		return 1
	}

	keys, err := c.idx.Keys(url)
	if err != nil {
		log.Errorf("tiered cache: sharedkv keys lookup for %q: %v", url, err)
		c.Purge(WholeKey(url))
		return 1
	}
	if len(keys) == 0 {
		c.Purge(WholeKey(url))
		return 1
	}
	for _, k := range keys {
		c.Purge(k)
	}
	if err := c.idx.RemoveURL(url); err != nil {
		log.Errorf("tiered cache: sharedkv remove url %q: %v", url, err)
	}
	return len(keys)
}

// PurgePrefix removes keys from both tiers and returns how many keys
// were purged. With a sharedkv index configured, prefix is matched
// against indexed URLs and every key stored for a matching URL is
// purged. Without one, prefix is matched against the cache keys
// resident in L1 (a linear scan) and each match is removed from L1 and
// L2; entries held only in L2 (already evicted from L1) are not found
// and stay in L2.
func (c *Cache) PurgePrefix(prefix string) int {
	if c.idx == nil {
		var removed []string
		n := c.l1.DeletePrefix(func(k string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			removed = append(removed, k)
			return true
		})
		if c.l2 != nil {
			for _, k := range removed {
				c.ops <- writerOp{kind: opDelete, key: k}
			}
		}
		return n
	}

	n := 0
	err := c.idx.IteratePrefix(prefix, func(url string, keys []string) error {
		for _, k := range keys {
			c.Purge(k)
			n++
		}
		return c.idx.RemoveURL(url)
	})
	if err != nil {
		log.Errorf("tiered cache: sharedkv iterate prefix %q: %v", prefix, err)
	}
	return n
}

// PurgeAll clears L1 and enqueues an L2 delete for every key it can
// find: the keys that were resident in L1 and, with a sharedkv index
// configured, every indexed key. Without an index, entries held only
// in L2 (already evicted from L1) are not found and stay in L2.
func (c *Cache) PurgeAll() {
	var keys []string
	c.l1.DeletePrefix(func(k string) bool {
		keys = append(keys, k)
		return true
	})
	if c.l2 == nil {
		return
	}
	if c.idx != nil {
		if err := c.idx.IteratePrefix("", func(url string, indexed []string) error {
			keys = append(keys, indexed...)
			return c.idx.RemoveURL(url)
		}); err != nil {
			log.Errorf("tiered cache: sharedkv iterate all: %v", err)
		}
	}
	for _, k := range keys {
		c.ops <- writerOp{kind: opDelete, key: k}
	}
}

// Close closes the writer queue, waits for the async writer to drain
// it and exit, then closes L2.
func (c *Cache) Close() error {
	close(c.ops)
	<-c.done
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func (c *Cache) runWriter() {
	defer close(c.done)
	for op := range c.ops {
		switch op.kind {
		case opWrite:
			if err := c.l2.Store(op.key, op.body, time.Now().Add(op.ttl)); err != nil {
				c.diskErrors.Add(1)
				log.Errorf("tiered cache: l2 store %q: %v", op.key, err)
				continue
			}
			c.diskWrites.Add(1)
			if c.idx != nil && op.url != "" {
				if err := c.idx.IndexKey(op.url, op.key); err != nil {
					log.Errorf("tiered cache: sharedkv index %q -> %q: %v", op.url, op.key, err)
				}
			}
		case opDelete:
			if err := c.l2.Remove(op.key); err != nil {
				c.diskErrors.Add(1)
				log.Errorf("tiered cache: l2 remove %q: %v", op.key, err)
			}
		case opDeleteAll, opDeletePrefix:
			// The flat L2Backend interface has no bulk-delete primitive;
			// PurgeAll/PurgePrefix enqueue one opDelete for every key the
			// index or the L1 scan found, so these kinds are never sent.
		case opShutdown:
			return
		}
		if err := c.l2.SaveMetadata(); err != nil {
			log.Errorf("tiered cache: l2 save metadata: %v", err)
		}
	}
}

// Stats is a point-in-time snapshot of C3's counters (spec §4.3, §4.10).
type Stats struct {
	L1Hits     uint64
	L2Hits     uint64
	Misses     uint64
	DiskWrites uint64
	DiskErrors uint64
	L1Entries  int
	L1Bytes    uint64
}

func (c *Cache) Stats() Stats {
	l1 := c.l1.Stats()
	return Stats{
		L1Hits:     c.l1Hits.Load(),
		L2Hits:     c.l2Hits.Load(),
		Misses:     c.misses.Load(),
		DiskWrites: c.diskWrites.Load(),
		DiskErrors: c.diskErrors.Load(),
		L1Entries:  l1.Entries,
		L1Bytes:    l1.Bytes,
	}
}
