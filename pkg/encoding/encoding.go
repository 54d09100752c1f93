// Package encoding provides a registry of pluggable Codecs ("json" and
// "cbor", with json the default). It mirrors the teacher's indexdb
// option.Codec() seam. The cache backends encode their records by hand
// with encoding/binary and do not use it.
package encoding

import (
	"sync"
	"sync/atomic"
)

type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	registry   sync.Map // name -> Codec
	defaultVal atomic.Value
)

func Register(c Codec) {
	registry.Store(c.Name(), c)
}

func Get(name string) (Codec, bool) {
	v, ok := registry.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Codec), true
}

func SetDefaultCodec(c Codec) {
	defaultVal.Store(c)
}

func GetDefaultCodec() Codec {
	if v := defaultVal.Load(); v != nil {
		return v.(Codec)
	}
	return jsonCodec{}
}

func init() {
	Register(jsonCodec{})
	Register(cborCodec{})
	SetDefaultCodec(jsonCodec{})
}
