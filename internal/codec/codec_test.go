package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDelta_RoundTrip_Empty(t *testing.T) {
	c, err := NewDelta()
	require.NoError(t, err)
	defer c.Close()

	encoded, err := c.Encode(nil)
	require.NoError(t, err)
	require.Empty(t, encoded)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestDelta_RoundTrip_Basic(t *testing.T) {
	c, err := NewDelta()
	require.NoError(t, err)
	defer c.Close()

	points := []TV{
		{Timestamp: 1_000_000, Value: 100.5},
		{Timestamp: 1_000_001, Value: 100.75},
		{Timestamp: 1_000_050, Value: 99.125},
		{Timestamp: 2_000_000, Value: -5.0},
	}

	encoded, err := c.Encode(points)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, points, decoded)
}

func TestDelta_RoundTrip_NaNAndSpecialValues(t *testing.T) {
	c, err := NewDelta()
	require.NoError(t, err)
	defer c.Close()

	points := []TV{
		{Timestamp: 0, Value: math.NaN()},
		{Timestamp: 1, Value: math.Inf(1)},
		{Timestamp: 2, Value: math.Inf(-1)},
		{Timestamp: 3, Value: 0.0},
		{Timestamp: 4, Value: math.SmallestNonzeroFloat64},
	}

	encoded, err := c.Encode(points)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(points))

	for i := range points {
		wantBits := math.Float64bits(points[i].Value)
		gotBits := math.Float64bits(decoded[i].Value)
		require.Equal(t, wantBits, gotBits, "bit pattern mismatch at index %d", i)
		require.Equal(t, points[i].Timestamp, decoded[i].Timestamp)
	}
}

func TestDelta_Decode_CorruptPayload(t *testing.T) {
	c, err := NewDelta()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDelta_CompressesRealisticData(t *testing.T) {
	c, err := NewDelta()
	require.NoError(t, err)
	defer c.Close()

	points := make([]TV, 10_000)
	ts := int64(1_700_000_000_000_000)
	value := 150.00
	for i := range points {
		ts += 1_000 // one tick every millisecond
		value += 0.01
		points[i] = TV{Timestamp: ts, Value: value}
	}

	encoded, err := c.Encode(points)
	require.NoError(t, err)

	rawSize := len(points) * 16
	require.Lessf(t, len(encoded), rawSize/4, "expected at least 4x compression on slowly-varying data, got %d of %d raw bytes", len(encoded), rawSize)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, points, decoded)
}

func TestPassthrough_RoundTrip(t *testing.T) {
	var c Passthrough

	points := []TV{
		{Timestamp: 10, Value: 1.5},
		{Timestamp: 20, Value: -2.5},
	}

	encoded, err := c.Encode(points)
	require.NoError(t, err)
	require.Len(t, encoded, 32)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, points, decoded)
}

func TestPassthrough_Decode_BadLength(t *testing.T) {
	var c Passthrough
	_, err := c.Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptPayload)
}
