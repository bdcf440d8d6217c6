// Package codec implements the round-trip compression contract used inside
// segment payloads. It is treated as a narrow interface (per the storage
// engine's "codec abstraction" design note) so callers can swap in an
// uncompressed codec under test without changing the segment format.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// ErrCorruptPayload is returned by Decode when the byte stream's framing is
// inconsistent: a short read, a malformed varint, or a decompression
// failure.
var ErrCorruptPayload = errors.New("codec: corrupt payload")

// TV is the (timestamp, value) pair the codec operates on. The symbol is
// deliberately absent: a segment is always single-symbol by construction,
// so the segment format carries the symbol in the filename and need not
// repeat it per point inside a compressed payload.
type TV struct {
	Timestamp int64 // microseconds since Unix epoch
	Value     float64
}

// Codec is a deterministic bijection on finite sequences of TV pairs.
// Encode and Decode must round-trip bit-exactly for all non-NaN values and
// byte-for-byte for NaN payloads (the implementation operates on the raw
// IEEE-754 bit pattern, never the float value, so NaN payload bits survive
// the round trip too).
type Codec interface {
	Encode(points []TV) ([]byte, error)
	Decode(data []byte) ([]TV, error)
}

// Delta is the default codec: it delta-codes timestamps (strictly
// ascending, so each delta is non-negative) and delta-codes the raw bit
// pattern of each value, then runs the result through zstd. Delta coding
// turns a typically slowly-varying tick stream into a stream of small
// zigzag varints, which is exactly the kind of input generic entropy
// coding does well on; the spec asks only for the round-trip property and
// a typical 5-10x size ratio on realistic data, not a particular transform.
type Delta struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewDelta builds a Delta codec with a shared zstd encoder/decoder pair.
// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one Delta
// value can be shared across goroutines the way the segment store shares
// it across readers and writers.
func NewDelta() (*Delta, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("codec: create zstd decoder: %w", err)
	}
	return &Delta{encoder: enc, decoder: dec}, nil
}

// Close releases the codec's background zstd goroutines.
func (c *Delta) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

func (c *Delta) Encode(points []TV) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(points)*6+binary.MaxVarintLen64*2)
	buf = appendVarint(buf, int64(len(points)))

	var prevTS int64
	var prevBits int64
	for i, p := range points {
		bits := int64(math.Float64bits(p.Value))
		if i == 0 {
			buf = appendVarint(buf, p.Timestamp)
			buf = appendVarint(buf, bits)
		} else {
			buf = appendVarint(buf, p.Timestamp-prevTS)
			buf = appendVarint(buf, bits-prevBits)
		}
		prevTS = p.Timestamp
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, nil), nil
}

func (c *Delta) Decode(data []byte) ([]TV, error) {
	if len(data) == 0 {
		return nil, nil
	}

	plain, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decompress: %v", ErrCorruptPayload, err)
	}

	rest := plain
	numPoints, n, err := readVarint(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if numPoints < 0 {
		return nil, fmt.Errorf("%w: negative point count", ErrCorruptPayload)
	}

	points := make([]TV, 0, numPoints)
	var prevTS int64
	var prevBits int64
	for i := int64(0); i < numPoints; i++ {
		ts, n, err := readVarint(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]

		bits, n, err := readVarint(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]

		if i > 0 {
			ts += prevTS
			bits += prevBits
		}
		prevTS, prevBits = ts, bits

		points = append(points, TV{
			Timestamp: ts,
			Value:     math.Float64frombits(uint64(bits)),
		})
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d points", ErrCorruptPayload, len(rest), numPoints)
	}

	return points, nil
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(buf []byte) (int64, int, error) {
	v, n := binary.Varint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: malformed varint", ErrCorruptPayload)
	}
	return v, n, nil
}

// Passthrough is a no-op codec that stores TV pairs as fixed 16-byte
// little-endian records with no compression. It exists so tests can
// exercise the Codec interface without depending on zstd. Segments written
// with enable_compression=false do not use it: the segment package writes
// its own fixed-record format for those.
type Passthrough struct{}

func (Passthrough) Encode(points []TV) ([]byte, error) {
	buf := make([]byte, len(points)*16)
	for i, p := range points {
		off := i * 16
		binary.LittleEndian.PutUint64(buf[off:], uint64(p.Timestamp))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(p.Value))
	}
	return buf, nil
}

func (Passthrough) Decode(data []byte) ([]TV, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("%w: payload length %d not a multiple of 16", ErrCorruptPayload, len(data))
	}
	points := make([]TV, len(data)/16)
	for i := range points {
		off := i * 16
		points[i] = TV{
			Timestamp: int64(binary.LittleEndian.Uint64(data[off:])),
			Value:     math.Float64frombits(binary.LittleEndian.Uint64(data[off+8:])),
		}
	}
	return points, nil
}
