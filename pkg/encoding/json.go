package encoding

import "github.com/goccy/go-json"

// jsonCodec uses goccy/go-json, a drop-in encoding/json replacement with
// lower allocation overhead; it is registered as "json" and is the
// default codec. The purge handler and /version encode with the
// standard library's encoding/json, not with this codec.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
