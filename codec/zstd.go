package codec

import (
	"errors"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses the output of another codec.
type Zstd struct {
	inner Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd wraps inner with zstd compression.
func NewZstd(inner Codec) *Zstd {
	// Neither constructor fails without options.
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Zstd{inner: inner, enc: enc, dec: dec}
}

// Encode serializes v with the inner codec and compresses the result
func (c *Zstd) Encode(v any) ([]byte, error) {
	data, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decode decompresses data and deserializes it with the inner codec
func (c *Zstd) Decode(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	return c.inner.Decode(raw, v)
}

// ContentType returns the inner content type
func (c *Zstd) ContentType() string {
	return c.inner.ContentType()
}

// Name returns the codec identifier
func (c *Zstd) Name() string {
	return c.inner.Name() + "+zstd"
}

// Compile-time check
var _ Codec = (*Zstd)(nil)
