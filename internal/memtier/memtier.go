// Package memtier implements the in-memory staging tier: per-symbol
// sorted, deduplicated point buffers with concurrent access.
package memtier

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tsengine/tsengine/internal/types"
)

// Tier holds one symbolBuffer per known symbol plus a process-wide point
// counter. The registry itself is guarded by a RWMutex (exclusive only
// while creating a new symbol entry); each symbolBuffer then has its own
// lock, so two goroutines writing to different symbols never contend on
// the registry after both buffers exist.
type Tier struct {
	registryMu sync.RWMutex
	buffers    map[string]*symbolBuffer

	totalPoints atomic.Int64
}

type symbolBuffer struct {
	mu     sync.RWMutex
	points []types.Point // strictly ascending by Timestamp, deduplicated
}

// New creates an empty memory tier.
func New() *Tier {
	return &Tier{buffers: make(map[string]*symbolBuffer)}
}

func (t *Tier) getOrCreate(symbol string) *symbolBuffer {
	t.registryMu.RLock()
	b, ok := t.buffers[symbol]
	t.registryMu.RUnlock()
	if ok {
		return b
	}

	t.registryMu.Lock()
	defer t.registryMu.Unlock()
	if b, ok := t.buffers[symbol]; ok {
		return b
	}
	b = &symbolBuffer{}
	t.buffers[symbol] = b
	return b
}

func (t *Tier) get(symbol string) (*symbolBuffer, bool) {
	t.registryMu.RLock()
	defer t.registryMu.RUnlock()
	b, ok := t.buffers[symbol]
	return b, ok
}

// Insert admits a single point into its symbol's buffer. It returns false,
// without modifying the buffer, if a point with the same timestamp already
// exists: the memory tier's documented rule is that single inserts reject
// new duplicates (compaction, in the segment store, uses the opposite
// "keep latest" rule; the two are deliberately different and both are
// part of the spec).
func (t *Tier) Insert(p types.Point) bool {
	b := t.getOrCreate(p.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.points), func(i int) bool { return b.points[i].Timestamp >= p.Timestamp })
	if i < len(b.points) && b.points[i].Timestamp == p.Timestamp {
		return false
	}

	b.points = append(b.points, types.Point{})
	copy(b.points[i+1:], b.points[i:])
	b.points[i] = p

	t.totalPoints.Add(1)
	return true
}

// InsertBatch groups points by symbol, sorts each group ascending, and
// merges it into the existing buffer. Within a merge, an incoming point
// whose timestamp already exists in the buffer is dropped: the existing
// entry wins, matching Insert's single-point semantics. It returns the
// number of points actually admitted (not len(points)).
func (t *Tier) InsertBatch(points []types.Point) int {
	if len(points) == 0 {
		return 0
	}

	bySymbol := make(map[string][]types.Point)
	for _, p := range points {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	var admitted int
	for symbol, group := range bySymbol {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp < group[j].Timestamp })

		b := t.getOrCreate(symbol)
		b.mu.Lock()
		admitted += b.mergeLocked(group)
		b.mu.Unlock()
	}

	t.totalPoints.Add(int64(admitted))
	return admitted
}

// mergeLocked merges a group (already sorted ascending, may itself contain
// duplicate timestamps, in which case the earlier occurrence in the group
// wins since it is encountered first) into b.points, keeping the existing
// entry on any timestamp collision. Caller holds b.mu.
func (b *symbolBuffer) mergeLocked(group []types.Point) int {
	merged := make([]types.Point, 0, len(b.points)+len(group))
	i, j := 0, 0
	admitted := 0

	for i < len(b.points) && j < len(group) {
		switch {
		case b.points[i].Timestamp < group[j].Timestamp:
			merged = append(merged, b.points[i])
			i++
		case b.points[i].Timestamp > group[j].Timestamp:
			merged = append(merged, group[j])
			admitted++
			j++
		default: // equal timestamps: existing entry wins
			merged = append(merged, b.points[i])
			i++
			j++
			for j < len(group) && group[j].Timestamp == merged[len(merged)-1].Timestamp {
				j++ // skip further duplicates within the incoming group too
			}
		}
	}
	for ; i < len(b.points); i++ {
		merged = append(merged, b.points[i])
	}
	for j < len(group) {
		ts := group[j].Timestamp
		merged = append(merged, group[j])
		admitted++
		j++
		for j < len(group) && group[j].Timestamp == ts {
			j++
		}
	}

	b.points = merged
	return admitted
}

// GetLatest returns the last (highest-timestamp) point buffered for a
// symbol, or ok=false if the symbol is unknown or its buffer is empty.
func (t *Tier) GetLatest(symbol string) (types.Point, bool) {
	b, ok := t.get(symbol)
	if !ok {
		return types.Point{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.points) == 0 {
		return types.Point{}, false
	}
	return b.points[len(b.points)-1], true
}

// GetRange returns a copy of the points in [start, end) for symbol, in
// ascending order. An unknown symbol yields an empty, non-nil result.
func (t *Tier) GetRange(symbol string, start, end int64) []types.Point {
	b, ok := t.get(symbol)
	if !ok {
		return []types.Point{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	lo := sort.Search(len(b.points), func(i int) bool { return b.points[i].Timestamp >= start })
	hi := sort.Search(len(b.points), func(i int) bool { return b.points[i].Timestamp >= end })

	out := make([]types.Point, hi-lo)
	copy(out, b.points[lo:hi])
	return out
}

// GetAll returns a copy of every point currently buffered for symbol, in
// ascending order, leaving the buffer unchanged. Flush does not use it;
// it drains the tier with Drain instead.
func (t *Tier) GetAll(symbol string) []types.Point {
	b, ok := t.get(symbol)
	if !ok {
		return []types.Point{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Point, len(b.points))
	copy(out, b.points)
	return out
}

// Symbols returns a snapshot of every symbol with a buffer, including
// symbols whose buffer is currently empty.
func (t *Tier) Symbols() []string {
	t.registryMu.RLock()
	defer t.registryMu.RUnlock()
	out := make([]string, 0, len(t.buffers))
	for s := range t.buffers {
		out = append(out, s)
	}
	return out
}

// TotalPoints returns the process-wide point count across all symbols.
func (t *Tier) TotalPoints() int64 {
	return t.totalPoints.Load()
}

// Clear drops every buffer and resets the point counter to zero. The
// engine's flush does not call it; it empties the tier with Drain.
func (t *Tier) Clear() {
	t.registryMu.Lock()
	defer t.registryMu.Unlock()
	t.buffers = make(map[string]*symbolBuffer)
	t.totalPoints.Store(0)
}

// Drain atomically snapshots and empties every symbol buffer, returning
// every point that was buffered. It holds the registry lock only long
// enough to copy out each symbol's points, never across disk I/O, so the
// engine can call it to get a flush-ready snapshot without blocking new
// symbol creation for any longer than the in-memory copy takes.
func (t *Tier) Drain() []types.Point {
	t.registryMu.Lock()
	defer t.registryMu.Unlock()

	var out []types.Point
	var drained int64
	for _, b := range t.buffers {
		b.mu.Lock()
		out = append(out, b.points...)
		drained += int64(len(b.points))
		b.points = nil
		b.mu.Unlock()
	}
	t.totalPoints.Add(-drained)
	return out
}
