package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// blobCodec packs vectors, indices and identifiers into zstd-compressed
// blobs. Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
type blobCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newBlobCodec() (*blobCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &blobCodec{enc: enc, dec: dec}, nil
}

func (c *blobCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *blobCodec) floats(v []float64) []byte {
	raw := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(x))
	}
	return c.enc.EncodeAll(raw, nil)
}

func (c *blobCodec) decodeFloats(b []byte, n int) ([]float64, error) {
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8*n {
		return nil, fmt.Errorf("expected %d values, got %d bytes", n, len(raw))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out, nil
}

// indices stores increasing positions as varint deltas. Codes of
// characteristics may be negative and go through signed varints.
func (c *blobCodec) indices(ix []int) []byte {
	raw := make([]byte, 0, len(ix)*2)
	prev := 0
	for _, i := range ix {
		raw = binary.AppendVarint(raw, int64(i-prev))
		prev = i
	}
	return c.enc.EncodeAll(raw, nil)
}

var errTruncated = errors.New("truncated index blob")

func (c *blobCodec) decodeIndices(b []byte, n int) ([]int, error) {
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	prev := 0
	for k := range out {
		d, w := binary.Varint(raw)
		if w <= 0 {
			return nil, errTruncated
		}
		raw = raw[w:]
		prev += int(d)
		out[k] = prev
	}
	return out, nil
}

func (c *blobCodec) idents(s []string) []byte {
	return c.enc.EncodeAll([]byte(strings.Join(s, "\x00")), nil)
}

func (c *blobCodec) decodeIdents(b []byte, n int) ([]string, error) {
	if n == 0 {
		return []string{}, nil
	}
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, err
	}
	out := strings.Split(string(raw), "\x00")
	if len(out) != n {
		return nil, fmt.Errorf("expected %d identifiers, got %d", n, len(out))
	}
	return out, nil
}
