package types

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoint_Equal(t *testing.T) {
	a := Point{Timestamp: 1, Value: 2.5, Symbol: "AAPL"}
	b := Point{Timestamp: 1, Value: 2.5, Symbol: "AAPL"}
	require.True(t, a.Equal(b))

	c := Point{Timestamp: 1, Value: 2.6, Symbol: "AAPL"}
	require.False(t, a.Equal(c))
}

func TestPoint_Equal_NaN(t *testing.T) {
	nan := math.NaN()
	a := Point{Timestamp: 1, Value: nan, Symbol: "AAPL"}
	b := Point{Timestamp: 1, Value: nan, Symbol: "AAPL"}
	require.True(t, a.Equal(b), "NaN should compare equal to itself for round-trip assertions")
}

func TestByTimestamp_Sort(t *testing.T) {
	points := []Point{
		{Timestamp: 30}, {Timestamp: 10}, {Timestamp: 20},
	}
	sort.Sort(ByTimestamp(points))
	require.Equal(t, []int64{10, 20, 30}, []int64{points[0].Timestamp, points[1].Timestamp, points[2].Timestamp})
}
