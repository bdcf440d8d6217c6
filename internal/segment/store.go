// Package segment owns on-disk segment files for one data directory:
// enumerating, creating, reading, and deleting them, and maintaining the
// in-memory segment index that's rebuilt from disk on every startup.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tsengine/tsengine/internal/codec"
	"github.com/tsengine/tsengine/internal/types"
)

// CompactionChunk is the target point count per segment produced by Compact.
const CompactionChunk = 10_000

// Info describes one on-disk segment: its bounds, point count, path, and
// whether its payload is codec-compressed.
type Info struct {
	SegmentID  int64
	Symbol     string
	StartTime  int64
	EndTime    int64
	NumPoints  uint64
	Path       string
	Compressed bool
	SizeBytes  int64
}

// Store owns segment metadata and file handles for one data directory. All
// index mutation goes through indexMu; large payload reads happen outside
// the lock once the relevant Info values have been copied out.
type Store struct {
	dir               string
	enableCompression bool
	codec             codec.Codec
	logger            zerolog.Logger

	indexMu sync.RWMutex
	index   map[string]map[int64]Info // symbol -> segment_id -> Info
}

// Open constructs a Store over dir, creating it if absent, and rebuilds the
// segment index by scanning for ".seg" files. Unparseable files are logged
// and skipped, not fatal.
func Open(dir string, enableCompression bool, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory %s: %v", ErrIO, dir, err)
	}

	c, err := codec.NewDelta()
	if err != nil {
		return nil, fmt.Errorf("segment: construct codec: %w", err)
	}

	s := &Store{
		dir:               dir,
		enableCompression: enableCompression,
		codec:             c,
		logger:            logger.With().Str("component", "segment-store").Logger(),
		index:             make(map[string]map[int64]Info),
	}

	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: scan data directory %s: %v", ErrIO, s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		symbol, segmentID, ok := parseSegmentFilename(name)
		if !ok {
			continue
		}

		path := filepath.Join(s.dir, name)
		info, err := s.statSegment(path, symbol, segmentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unparseable segment file")
			continue
		}

		s.registerLocked(info)
	}
	return nil
}

func (s *Store) statSegment(path, symbol string, segmentID int64) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	h, _, err := parseFile(data)
	if err != nil {
		return Info{}, err
	}
	return Info{
		SegmentID:  segmentID,
		Symbol:     symbol,
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		NumPoints:  h.NumPoints,
		Path:       path,
		Compressed: h.Compressed,
		SizeBytes:  int64(len(data)),
	}, nil
}

func (s *Store) registerLocked(info Info) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	bySymbol, ok := s.index[info.Symbol]
	if !ok {
		bySymbol = make(map[int64]Info)
		s.index[info.Symbol] = bySymbol
	}
	bySymbol[info.SegmentID] = info
}

func (s *Store) nextSegmentID(symbol string) int64 {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	bySymbol, ok := s.index[symbol]
	if !ok || len(bySymbol) == 0 {
		return 0
	}
	max := int64(-1)
	for id := range bySymbol {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// WriteBatch groups points by symbol, sorts each group ascending, drops
// adjacent duplicate timestamps keeping the last occurrence, and emits one
// new segment per symbol group. If any group fails to persist, WriteBatch
// returns an error after attempting every group (per-symbol writes don't
// roll each other back: the spec excludes cross-symbol transactions).
func (s *Store) WriteBatch(points []types.Point) error {
	if len(points) == 0 {
		return nil
	}

	bySymbol := make(map[string][]types.Point)
	for _, p := range points {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	var failed []string
	for symbol, group := range bySymbol {
		if err := s.writeSymbolSegment(symbol, group); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to write segment")
			failed = append(failed, symbol)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("segment: write_batch failed for symbols %v", failed)
	}
	return nil
}

func (s *Store) writeSymbolSegment(symbol string, group []types.Point) error {
	deduped := sortAndDedupeKeepLast(group)
	if len(deduped) == 0 {
		return nil
	}

	segmentID := s.nextSegmentID(symbol)
	info, err := s.writeSegmentFile(symbol, segmentID, deduped)
	if err != nil {
		return err
	}
	s.registerLocked(info)
	return nil
}

func (s *Store) writeSegmentFile(symbol string, segmentID int64, points []types.Point) (Info, error) {
	compressed := s.enableCompression
	var payload []byte
	var err error
	if compressed {
		payload, err = s.codec.Encode(toTV(points))
	} else {
		payload = encodeUncompressed(points)
	}
	if err != nil {
		return Info{}, fmt.Errorf("segment: encode payload: %w", err)
	}

	h := header{
		StartTime:  points[0].Timestamp,
		EndTime:    points[len(points)-1].Timestamp,
		NumPoints:  uint64(len(points)),
		Compressed: compressed,
	}

	path := filepath.Join(s.dir, segmentFilename(symbol, segmentID))
	if err := writeFile(path, h, payload); err != nil {
		return Info{}, err
	}

	return Info{
		SegmentID:  segmentID,
		Symbol:     symbol,
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		NumPoints:  h.NumPoints,
		Path:       path,
		Compressed: compressed,
		SizeBytes:  int64(headerSize + payloadLenSize + len(payload)),
	}, nil
}

// sortAndDedupeKeepLast sorts ascending by timestamp and, on duplicate
// timestamps, keeps the occurrence that appears last in the input slice
// (write-most-recent semantics). Sort is stable so ties within the input
// resolve in input order before the keep-last pass.
func sortAndDedupeKeepLast(points []types.Point) []types.Point {
	sorted := make([]types.Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := sorted[:0:0]
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1].Timestamp == sorted[i].Timestamp {
			j++
		}
		out = append(out, sorted[j]) // last occurrence of this timestamp
		i = j + 1
	}
	return out
}

func toTV(points []types.Point) []codec.TV {
	tv := make([]codec.TV, len(points))
	for i, p := range points {
		tv[i] = codec.TV{Timestamp: p.Timestamp, Value: p.Value}
	}
	return tv
}

// ReadRange returns every point for symbol with start <= timestamp < end,
// ascending by timestamp. An unknown symbol yields an empty, non-nil
// result rather than an error.
func (s *Store) ReadRange(symbol string, start, end int64) ([]types.Point, error) {
	candidates := s.overlapping(symbol, start, end)
	if len(candidates) == 0 {
		return []types.Point{}, nil
	}

	var out []types.Point
	for _, info := range candidates {
		points, err := s.readSegmentPoints(info)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if p.Timestamp >= start && p.Timestamp < end {
				out = append(out, p)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if out == nil {
		out = []types.Point{}
	}
	return out, nil
}

// overlapping returns, conservatively, every segment for symbol whose
// [start_time, end_time] intersects [start, end].
func (s *Store) overlapping(symbol string, start, end int64) []Info {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	bySymbol, ok := s.index[symbol]
	if !ok {
		return nil
	}
	var out []Info
	for _, info := range bySymbol {
		if info.StartTime <= end && info.EndTime >= start {
			out = append(out, info)
		}
	}
	return out
}

func (s *Store) readSegmentPoints(info Info) ([]types.Point, error) {
	h, payload, err := readFile(info.Path)
	if err != nil {
		return nil, err
	}
	if h.Compressed {
		tv, err := s.codec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptSegment, info.Path, err)
		}
		points := make([]types.Point, len(tv))
		for i, p := range tv {
			points[i] = types.Point{Timestamp: p.Timestamp, Value: p.Value, Symbol: info.Symbol}
		}
		return points, nil
	}
	return decodeUncompressed(payload, h.NumPoints)
}

// Compact rewrites every segment of symbol into a fresh, deduplicated,
// fixed-chunk set of segments (dropping duplicate timestamps and keeping
// the latest by arrival order), then atomically replaces the old segment
// files with the new ones. If any new segment fails to write, Compact
// aborts without deleting the old files.
func (s *Store) Compact(symbol string) error {
	oldInfos := s.segmentsFor(symbol)
	if len(oldInfos) == 0 {
		return nil
	}

	// segmentsFor iterates a map, so its order is random; sort ascending by
	// SegmentID (a higher id is always a later flush/compaction) before
	// concatenating, so sortAndDedupeKeepLast's "keep the last occurrence"
	// pass reflects arrival order instead of map iteration order.
	sort.Slice(oldInfos, func(i, j int) bool { return oldInfos[i].SegmentID < oldInfos[j].SegmentID })

	var all []types.Point
	for _, info := range oldInfos {
		points, err := s.readSegmentPoints(info)
		if err != nil {
			return fmt.Errorf("segment: compact %s: read existing segment %s: %w", symbol, info.Path, err)
		}
		all = append(all, points...)
	}

	deduped := sortAndDedupeKeepLast(all)

	var newInfos []Info
	for chunkStart := 0; chunkStart < len(deduped); chunkStart += CompactionChunk {
		chunkEnd := chunkStart + CompactionChunk
		if chunkEnd > len(deduped) {
			chunkEnd = len(deduped)
		}
		chunk := deduped[chunkStart:chunkEnd]

		info, err := s.writeSegmentFile(symbol, int64(len(newInfos)), chunk)
		if err != nil {
			// Abort: clean up the new segment files we already wrote, leave
			// the old ones untouched.
			for _, n := range newInfos {
				os.Remove(n.Path)
			}
			return fmt.Errorf("segment: compact %s: write new segment: %w", symbol, err)
		}
		newInfos = append(newInfos, info)
	}

	s.indexMu.Lock()
	s.index[symbol] = make(map[int64]Info, len(newInfos))
	for _, info := range newInfos {
		s.index[symbol][info.SegmentID] = info
	}
	s.indexMu.Unlock()

	for _, old := range oldInfos {
		if isNewPath(old.Path, newInfos) {
			continue
		}
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", old.Path).Msg("failed to delete superseded segment after compaction")
		}
	}
	return nil
}

func isNewPath(path string, newInfos []Info) bool {
	for _, n := range newInfos {
		if n.Path == path {
			return true
		}
	}
	return false
}

func (s *Store) segmentsFor(symbol string) []Info {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	bySymbol, ok := s.index[symbol]
	if !ok {
		return nil
	}
	out := make([]Info, 0, len(bySymbol))
	for _, info := range bySymbol {
		out = append(out, info)
	}
	return out
}

// Latest returns the highest-timestamp point persisted for symbol. Segments
// are always written with ascending, deduplicated timestamps, so the point
// with the greatest timestamp is the last point of whichever segment has
// the greatest EndTime.
func (s *Store) Latest(symbol string) (types.Point, bool, error) {
	infos := s.segmentsFor(symbol)
	if len(infos) == 0 {
		return types.Point{}, false, nil
	}

	best := infos[0]
	for _, info := range infos[1:] {
		if info.EndTime > best.EndTime {
			best = info
		}
	}

	points, err := s.readSegmentPoints(best)
	if err != nil {
		return types.Point{}, false, err
	}
	if len(points) == 0 {
		return types.Point{}, false, nil
	}
	return points[len(points)-1], true, nil
}

// Optimize compacts every known symbol. A failure compacting one symbol is
// logged and does not prevent the remaining symbols from being processed.
func (s *Store) Optimize() {
	for _, symbol := range s.Symbols() {
		if err := s.Compact(symbol); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("optimize: compaction failed for symbol")
		}
	}
}

// Symbols returns every symbol with at least one segment in the index.
func (s *Store) Symbols() []string {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	out := make([]string, 0, len(s.index))
	for symbol := range s.index {
		out = append(out, symbol)
	}
	return out
}

// StorageSize returns the sum of file sizes currently indexed.
func (s *Store) StorageSize() int64 {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	var total int64
	for _, bySymbol := range s.index {
		for _, info := range bySymbol {
			total += info.SizeBytes
		}
	}
	return total
}

// Close releases the store's codec resources.
func (s *Store) Close() {
	if c, ok := s.codec.(*codec.Delta); ok {
		c.Close()
	}
}
