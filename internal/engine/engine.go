// Package engine is the storage engine's public façade: it owns the memory
// tier and the segment store, and implements the combined read/write path
// that callers interact with.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tsengine/tsengine/internal/config"
	"github.com/tsengine/tsengine/internal/memtier"
	"github.com/tsengine/tsengine/internal/scheduler"
	"github.com/tsengine/tsengine/internal/segment"
	"github.com/tsengine/tsengine/internal/types"
)

// Engine is the single entry point into the storage engine: one Engine
// owns one data directory and is safe for concurrent use from any number
// of goroutines.
type Engine struct {
	cfg    *config.EngineConfig
	logger zerolog.Logger

	// instanceID correlates log lines across one process's lifetime of an
	// Engine. It is never written to disk and has no bearing on segment
	// identity.
	instanceID uuid.UUID

	mem   *memtier.Tier
	store *segment.Store

	// flushMu serializes Flush and Optimize against each other so two
	// concurrent auto-flushes (or a manual Optimize racing an auto-flush)
	// can't both try to allocate the same next segment ID for a symbol.
	// It is held across the drain-then-write-batch sequence, and by
	// Optimize across compaction as well; the segment-store disk I/O it
	// guards runs without the mutex below held.
	flushMu sync.Mutex

	// mu guards closed only; normal reads and writes read-lock it just long
	// enough to check closed, so a slow disk write never blocks an unrelated
	// memory-tier read.
	mu     sync.RWMutex
	closed bool

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	scheduler *scheduler.Scheduler
}

// New constructs an Engine over cfg.DataDirectory, rebuilding the segment
// index from whatever segments already exist there. If cfg.Scheduler is
// enabled, a background cron job is started to call Optimize periodically.
func New(cfg *config.EngineConfig, logger zerolog.Logger) (*Engine, error) {
	store, err := segment.Open(cfg.DataDirectory, cfg.EnableCompression, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "engine").Logger(),
		instanceID: uuid.New(),
		mem:        memtier.New(),
		store:      store,
	}
	e.logger = e.logger.With().Str("instance_id", e.instanceID.String()).Logger()

	if cfg.Scheduler.Enabled && cfg.Scheduler.OptimizeSchedule != "" {
		sched, err := scheduler.New(cfg.Scheduler.OptimizeSchedule, e.logger, func() {
			if err := e.Optimize(); err != nil {
				e.logger.Error().Err(err).Msg("scheduled optimize failed")
			}
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		sched.Start()
		e.scheduler = sched
	}

	e.logger.Info().Str("data_directory", cfg.DataDirectory).Msg("engine ready")
	return e, nil
}

// WritePoint admits a single point into the memory tier. It returns
// ErrDuplicateTimestamp, without modifying anything, if the memory tier
// already holds a point for the symbol at that exact timestamp; points
// already flushed to disk are not checked. A write that pushes the memory
// tier's total point count at or above MaxMemoryPoints triggers an
// automatic flush after the point is admitted.
func (e *Engine) WritePoint(p types.Point) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if !e.mem.Insert(p) {
		return fmt.Errorf("%w: %s@%d", ErrDuplicateTimestamp, p.Symbol, p.Timestamp)
	}

	e.maybeAutoFlush()
	return nil
}

// WriteBatch admits a batch of points, possibly spanning many symbols. On
// a timestamp collision within a symbol, the existing entry wins (not the
// incoming one), matching WritePoint's own collision rule for whichever
// point was already present before this call. It returns the number of
// points actually admitted.
func (e *Engine) WriteBatch(points []types.Point) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	admitted := e.mem.InsertBatch(points)
	e.maybeAutoFlush()
	return admitted, nil
}

func (e *Engine) maybeAutoFlush() {
	if e.cfg.MaxMemoryPoints <= 0 {
		return
	}
	if e.mem.TotalPoints() < e.cfg.MaxMemoryPoints {
		return
	}
	if err := e.Flush(); err != nil {
		e.logger.Error().Err(err).Msg("automatic flush failed")
	}
}

// Flush moves every point currently in the memory tier to the segment
// store and empties the memory tier. The drain (snapshot-and-clear) is the
// only step that touches shared in-memory state; the segment-store write
// that follows runs with no lock held by Engine. If the write fails, the
// drained points are reinserted into the memory tier so they aren't lost.
func (e *Engine) Flush() error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	return e.flushLocked()
}

// flushLocked does the actual drain-and-write. Callers must hold flushMu.
func (e *Engine) flushLocked() error {
	points := e.mem.Drain()
	if len(points) == 0 {
		return nil
	}

	if err := e.store.WriteBatch(points); err != nil {
		e.mem.InsertBatch(points)
		return fmt.Errorf("engine: flush: %w", err)
	}

	e.logger.Debug().Int("points", len(points)).Msg("flushed memory tier to disk")
	return nil
}

// ReadRange returns every point for symbol with start <= timestamp < end,
// merging the memory tier and the segment store and returning the result
// sorted ascending by timestamp. Points that appear in both tiers (a
// timestamp written again after it was flushed, or points reinserted by a
// failed flush) are not deduped; the sort is stable with the memory tier
// ordered first, so the memory-tier copy comes first among equal
// timestamps.
func (e *Engine) ReadRange(symbol string, start, end int64) ([]types.Point, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	fromMem := e.mem.GetRange(symbol, start, end)
	fromDisk, err := e.store.ReadRange(symbol, start, end)
	if err != nil {
		return nil, err
	}

	merged := make([]types.Point, 0, len(fromMem)+len(fromDisk))
	merged = append(merged, fromMem...)
	merged = append(merged, fromDisk...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged, nil
}

// GetLatest returns the most recent point for symbol. A point still in the
// memory tier is a cache hit; falling through to the segment store is a
// cache miss, whether or not the store actually has data for the symbol.
func (e *Engine) GetLatest(symbol string) (types.Point, bool, error) {
	if err := e.checkOpen(); err != nil {
		return types.Point{}, false, err
	}

	if p, ok := e.mem.GetLatest(symbol); ok {
		e.cacheHits.Add(1)
		return p, true, nil
	}

	e.cacheMisses.Add(1)
	p, ok, err := e.store.Latest(symbol)
	if err != nil {
		return types.Point{}, false, err
	}
	return p, ok, nil
}

// Optimize flushes the memory tier, then compacts every symbol's segments
// on disk. Per-symbol compaction failures are logged by the segment store
// and don't abort the run; Optimize itself only fails if the flush fails.
func (e *Engine) Optimize() error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	if err := e.flushLocked(); err != nil {
		return err
	}
	e.store.Optimize()
	return nil
}

// Stats summarizes the engine's current state.
type Stats struct {
	InstanceID       string
	MemoryPoints     int64
	StorageSizeBytes int64
	Symbols          []string
	CacheHits        int64
	CacheMisses      int64
	CacheHitRatio    float64
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	hits, misses := e.cacheHits.Load(), e.cacheMisses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return Stats{
		InstanceID:       e.instanceID.String(),
		MemoryPoints:     e.mem.TotalPoints(),
		StorageSizeBytes: e.store.StorageSize(),
		Symbols:          e.symbols(),
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRatio:    ratio,
	}
}

func (e *Engine) symbols() []string {
	seen := make(map[string]struct{})
	for _, s := range e.mem.Symbols() {
		seen[s] = struct{}{}
	}
	for _, s := range e.store.Symbols() {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the background scheduler, if any, and releases the segment
// store's codec resources. It does not flush; callers that want every
// point durable on disk should call Flush first.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	e.store.Close()
	e.logger.Info().Msg("engine closed")
	return nil
}
