// Package sharedkv is a small pebble-backed side index the tiered cache
// consults for operations an LRU and a flat L2 backend can't answer on
// their own: "which keys belong to this URL" (purge_prefix) and "how
// many entries does this domain hold" (metrics, spec §4.10).
package sharedkv

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

var ErrKeyNotFound = errors.New("sharedkv: key not found")

const (
	indexPrefix   = "idx:" // idx:<url> -> newline-joined cache keys derived from <url>
	counterPrefix = "cnt:" // cnt:<domain> -> uint32 entry count
)

// KV is the inverted-index-plus-counters side store. All methods are
// safe for concurrent use (pebble handles its own locking).
type KV struct {
	db *pebble.DB
}

// Open creates an in-memory pebble instance when dir is empty, or a
// persistent one rooted at dir otherwise.
func Open(dir string) (*KV, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &KV{db: db}, nil
}

func (kv *KV) Close() error { return kv.db.Close() }

// IndexKey records that cacheKey was derived from url, so RemoveURL can
// find every slice/whole-object entry belonging to it later.
func (kv *KV) IndexKey(url, cacheKey string) error {
	existing, err := kv.lookupIndex(url)
	if err != nil {
		return err
	}
	for _, k := range existing {
		if k == cacheKey {
			return nil
		}
	}
	existing = append(existing, cacheKey)
	return kv.db.Set([]byte(indexPrefix+url), encodeList(existing), pebble.NoSync)
}

// Keys returns every cache key previously indexed under url.
func (kv *KV) Keys(url string) ([]string, error) {
	return kv.lookupIndex(url)
}

// RemoveURL drops the inverted-index entry for url. Callers are
// responsible for removing the underlying cache entries themselves.
func (kv *KV) RemoveURL(url string) error {
	return kv.db.Delete([]byte(indexPrefix+url), pebble.NoSync)
}

func (kv *KV) lookupIndex(url string) ([]string, error) {
	val, closer, err := kv.db.Get([]byte(indexPrefix + url))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()
	return decodeList(val), nil
}

// IncrDomain bumps the entry counter for domain by delta and returns
// the new total.
func (kv *KV) IncrDomain(domain string, delta int32) (uint32, error) {
	batch := kv.db.NewIndexedBatch()
	defer func() { _ = batch.Close() }()

	key := []byte(counterPrefix + domain)
	var counter uint32
	val, closer, err := batch.Get(key)
	if err == nil {
		counter = binary.BigEndian.Uint32(val)
		_ = closer.Close()
	}

	if delta < 0 && counter < uint32(-delta) {
		counter = 0
	} else {
		counter = uint32(int64(counter) + int64(delta))
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, counter)
	if err := batch.Set(key, buf, pebble.NoSync); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, err
	}
	return counter, nil
}

// DomainCount returns the current entry counter for domain.
func (kv *KV) DomainCount(domain string) (uint32, error) {
	val, closer, err := kv.db.Get([]byte(counterPrefix + domain))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = closer.Close() }()
	return binary.BigEndian.Uint32(val), nil
}

// IteratePrefix walks every indexed URL whose key starts with prefix,
// used by purge's pattern mode to enumerate affected URLs.
func (kv *KV) IteratePrefix(prefix string, f func(url string, keys []string) error) error {
	lower := []byte(indexPrefix + prefix)
	upper := keyUpperBound(lower)
	iter, err := kv.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		url := string(iter.Key()[len(indexPrefix):])
		value, err := iter.ValueAndErr()
		if err != nil {
			continue
		}
		if err := f(url, decodeList(value)); err != nil {
			return err
		}
	}
	return nil
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeList(keys []string) []byte {
	out := make([]byte, 0, len(keys)*16)
	for i, k := range keys {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, k...)
	}
	return out
}

func decodeList(buf []byte) []string {
	if len(buf) == 0 {
		return nil
	}
	var out []string
	start := 0
	for i, b := range buf {
		if b == '\n' {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(buf[start:]))
	return out
}
