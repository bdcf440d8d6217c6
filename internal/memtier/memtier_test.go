package memtier

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tsengine/tsengine/internal/types"
)

func TestInsert_SingleSymbol(t *testing.T) {
	tier := New()

	ok := tier.Insert(types.Point{Timestamp: 100, Value: 1.0, Symbol: "AAPL"})
	require.True(t, ok)
	require.EqualValues(t, 1, tier.TotalPoints())

	latest, ok := tier.GetLatest("AAPL")
	require.True(t, ok)
	require.Equal(t, types.Point{Timestamp: 100, Value: 1.0, Symbol: "AAPL"}, latest)
}

func TestInsert_RejectsDuplicateTimestamp(t *testing.T) {
	tier := New()

	require.True(t, tier.Insert(types.Point{Timestamp: 100, Value: 1.0, Symbol: "AAPL"}))
	ok := tier.Insert(types.Point{Timestamp: 100, Value: 2.0, Symbol: "AAPL"})
	require.False(t, ok)
	require.EqualValues(t, 1, tier.TotalPoints())

	latest, _ := tier.GetLatest("AAPL")
	require.Equal(t, 1.0, latest.Value, "first write should win on single-insert duplicate")
}

func TestInsert_MaintainsAscendingOrder(t *testing.T) {
	tier := New()
	tss := []int64{500, 100, 300, 200, 400}
	for _, ts := range tss {
		require.True(t, tier.Insert(types.Point{Timestamp: ts, Symbol: "X"}))
	}

	got := tier.GetRange("X", 0, 1000)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].Timestamp, got[i].Timestamp)
	}
}

func TestGetLatest_UnknownSymbol(t *testing.T) {
	tier := New()
	_, ok := tier.GetLatest("NOPE")
	require.False(t, ok)
}

func TestGetRange_HalfOpenUpperBound(t *testing.T) {
	tier := New()
	base := int64(1000)
	for i := int64(0); i < 100; i++ {
		require.True(t, tier.Insert(types.Point{Timestamp: base + i, Value: float64(i), Symbol: "MSFT"}))
	}

	got := tier.GetRange("MSFT", base, base+51)
	require.Len(t, got, 51) // indices 0..50 inclusive per S2, using half-open [start, start+51)

	gotHalf := tier.GetRange("MSFT", base, base+1)
	require.Len(t, gotHalf, 1)
	require.Equal(t, float64(0), gotHalf[0].Value)
}

func TestInsertBatch_DedupesKeepingExisting(t *testing.T) {
	tier := New()
	require.True(t, tier.Insert(types.Point{Timestamp: 10, Value: 1.0, Symbol: "FB"}))

	admitted := tier.InsertBatch([]types.Point{
		{Timestamp: 10, Value: 99.0, Symbol: "FB"}, // collides, existing wins
		{Timestamp: 20, Value: 2.0, Symbol: "FB"},
		{Timestamp: 30, Value: 3.0, Symbol: "FB"},
	})
	require.Equal(t, 2, admitted)
	require.EqualValues(t, 3, tier.TotalPoints())

	got := tier.GetRange("FB", 0, 100)
	require.Len(t, got, 3)
	require.Equal(t, 1.0, got[0].Value, "existing entry must win over batch duplicate")
}

func TestInsertBatch_MultiSymbolIsolation(t *testing.T) {
	tier := New()
	symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN"}
	var batch []types.Point
	base := int64(1_000_000)
	for _, s := range symbols {
		for i := int64(0); i < 100; i++ {
			batch = append(batch, types.Point{Timestamp: base + i, Value: float64(i), Symbol: s})
		}
	}

	admitted := tier.InsertBatch(batch)
	require.Equal(t, 400, admitted)

	for _, s := range symbols {
		got := tier.GetRange(s, 0, base+1000)
		require.Len(t, got, 100)
		for _, p := range got {
			require.Equal(t, s, p.Symbol)
		}
	}
}

func TestSymbols_Snapshot(t *testing.T) {
	tier := New()
	tier.Insert(types.Point{Timestamp: 1, Symbol: "A"})
	tier.Insert(types.Point{Timestamp: 1, Symbol: "B"})

	symbols := tier.Symbols()
	sort.Strings(symbols)
	require.Equal(t, []string{"A", "B"}, symbols)
}

func TestClear_ResetsEverything(t *testing.T) {
	tier := New()
	tier.InsertBatch([]types.Point{{Timestamp: 1, Symbol: "A"}, {Timestamp: 2, Symbol: "B"}})
	require.EqualValues(t, 2, tier.TotalPoints())

	tier.Clear()
	require.EqualValues(t, 0, tier.TotalPoints())
	require.Empty(t, tier.Symbols())
	require.Empty(t, tier.GetRange("A", 0, 100))
}

func TestConcurrentInsert_DistinctSymbols(t *testing.T) {
	tier := New()
	var wg sync.WaitGroup

	for _, symbol := range []string{"SYM0", "SYM1"} {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			batch := make([]types.Point, 100)
			for i := range batch {
				batch[i] = types.Point{Timestamp: int64(i), Value: float64(i), Symbol: symbol}
			}
			tier.InsertBatch(batch)
		}(symbol)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for i := 0; i < 50; i++ {
			got := tier.GetRange("SYM0", 0, 1000)
			require.LessOrEqual(t, len(got), 100)
			for j := 1; j < len(got); j++ {
				require.Less(t, got[j-1].Timestamp, got[j].Timestamp)
			}
		}
	}()

	wg.Wait()
	<-readerDone

	require.Len(t, tier.GetRange("SYM0", 0, 1000), 100)
	require.Len(t, tier.GetRange("SYM1", 0, 1000), 100)
}
