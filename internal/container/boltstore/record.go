package boltstore

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// record is the stored form of one file.
type record struct {
	Data     []byte    `cbor:"1,keyasint"`
	Size     int64     `cbor:"2,keyasint"`
	Created  time.Time `cbor:"3,keyasint"`
	Modified time.Time `cbor:"4,keyasint"`
}

// codec packs records as CBOR with a zstd compressed payload.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *codec) encode(data []byte, created, modified time.Time) ([]byte, error) {
	rec := record{
		Size:     int64(len(data)),
		Created:  created.UTC(),
		Modified: modified.UTC(),
	}
	if len(data) > 0 {
		rec.Data = c.enc.EncodeAll(data, nil)
	}
	return cbor.Marshal(rec)
}

// decodeMeta decodes everything but the payload.
func (c *codec) decodeMeta(raw []byte) (record, error) {
	var rec record
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("corrupt record: %w", err)
	}
	return rec, nil
}

// decode returns the record and its decompressed payload.
func (c *codec) decode(raw []byte) (record, []byte, error) {
	rec, err := c.decodeMeta(raw)
	if err != nil {
		return record{}, nil, err
	}
	if len(rec.Data) == 0 {
		return rec, nil, nil
	}
	data, err := c.dec.DecodeAll(rec.Data, nil)
	if err != nil {
		return record{}, nil, fmt.Errorf("corrupt payload: %w", err)
	}
	return rec, data, nil
}
