package encoding

import "github.com/fxamacker/cbor/v2"

// cborCodec is the compact binary codec, registered as "cbor". The
// raw-disk and file backends write their records with encoding/binary,
// not with this codec.
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
