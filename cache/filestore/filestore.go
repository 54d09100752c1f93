// Package filestore is the L2 "file" backend (spec §3, §4.2): a plain
// directory tree keyed by a stable hash of the cache key, one file per
// entry, body prefixed with an 8-byte little-endian expiry.
package filestore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/sluiceproxy/sluice/cache"
	"github.com/sluiceproxy/sluice/contrib/log"
)

type backend struct {
	base        string
	writeRate   *ratecounter.RateCounter
	readRate    *ratecounter.RateCounter
}

// New returns an L2Backend rooted at base, creating it if absent.
func New(base string) (cache.L2Backend, error) {
	if err := os.MkdirAll(base, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	return &backend{
		base:      base,
		writeRate: ratecounter.NewRateCounter(time.Second),
		readRate:  ratecounter.NewRateCounter(time.Second),
	}, nil
}

// path derives <base>/<hh1>/<hh2>/<sanitized-key> from a stable hash
// of key, so a single directory never accumulates every cached object.
func (b *backend) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexsum := hex.EncodeToString(sum[:])
	sanitized := hex.EncodeToString([]byte(key))
	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	return filepath.Join(b.base, hexsum[0:2], hexsum[2:4], sanitized)
}

func (b *backend) Store(key string, body []byte, expiresAt time.Time) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	buf := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(buf[:8], uint64(expiresAt.Unix()))
	copy(buf[8:], body)

	tmp := fmt.Sprintf("%s.%d.tmp", p, time.Now().UnixNano())
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	b.writeRate.Incr(1)
	return nil
}

func (b *backend) Lookup(key string) ([]byte, bool, error) {
	p := b.path(key)
	buf, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(buf) < 8 {
		return nil, false, nil
	}

	b.readRate.Incr(1)

	expireUnix := int64(binary.LittleEndian.Uint64(buf[:8]))
	if expireUnix > 0 && time.Now().Unix() >= expireUnix {
		_ = os.Remove(p)
		return nil, false, nil
	}
	body := make([]byte, len(buf)-8)
	copy(body, buf[8:])
	return body, true, nil
}

func (b *backend) Remove(key string) error {
	err := os.Remove(b.path(key))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SaveMetadata is a no-op: the file backend has no separate metadata
// checkpoint, every entry's expiry lives inline in its own file.
func (b *backend) SaveMetadata() error { return nil }

func (b *backend) Close() error {
	log.Debugf("filestore backend at %s closed, writes/s=%d reads/s=%d", b.base, b.writeRate.Rate(), b.readRate.Rate())
	return nil
}
