package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// ShardStore reads and writes month shards under one cache root.
// It does no locking: one process owns the directory and resolves one request at a time.
type ShardStore struct {
	root    string
	logger  *slog.Logger
	metrics *metrics.CacheMetrics
}

// NewShardStore creates a store rooted at dir. metrics may be nil.
func NewShardStore(dir string, logger *slog.Logger, m *metrics.CacheMetrics) *ShardStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShardStore{root: dir, logger: logger, metrics: m}
}

// Root returns the cache directory
func (s *ShardStore) Root() string {
	return s.root
}

// Exists reports whether the shard file is present
func (s *ShardStore) Exists(key ShardKey) bool {
	_, err := os.Stat(key.Path(s.root))
	return err == nil
}

// Load returns the points of one shard. A missing file yields an empty slice;
// an unreadable or corrupt file is logged and also yields an empty slice.
func (s *ShardStore) Load(key ShardKey) []models.CandlePoint {
	path := key.Path(s.root)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read cache shard, treating as empty",
				"path", path, "error", err)
			s.metrics.RecordShardLoad(true)
		}
		return []models.CandlePoint{}
	}

	var points []models.CandlePoint
	if err := json.Unmarshal(data, &points); err != nil {
		s.logger.Warn("corrupt cache shard, treating as empty",
			"path", path, "error", err)
		s.metrics.RecordShardLoad(true)
		return []models.CandlePoint{}
	}

	s.metrics.RecordShardLoad(false)
	if points == nil {
		points = []models.CandlePoint{}
	}
	return points
}

// Save deduplicates points by timestamp, sorts them ascending and rewrites the shard.
func (s *ShardStore) Save(key ShardKey, points []models.CandlePoint) error {
	path := key.Path(s.root)
	points = MergePoints(nil, points)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return NewWriteError(path, fmt.Errorf("failed to create shard directory: %w", err))
	}

	data, err := json.Marshal(points)
	if err != nil {
		return NewWriteError(path, fmt.Errorf("failed to encode shard: %w", err))
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewWriteError(path, err)
	}

	s.metrics.RecordShardWrite()
	s.logger.Debug("cache shard written", "shard", key.String(), "points", len(points))
	return nil
}

// Merge folds incoming into the shard and rewrites it, returning the merged content.
func (s *ShardStore) Merge(key ShardKey, incoming []models.CandlePoint) ([]models.CandlePoint, error) {
	merged := MergePoints(s.Load(key), incoming)
	if err := s.Save(key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// ListMonths returns the months with an existing shard for pool, sorted ascending.
// Timeframe is ignored for raw shards.
func (s *ShardStore) ListMonths(kind ShardKind, pool string, tf models.Timeframe) ([]string, error) {
	var pattern string
	switch kind {
	case KindRaw:
		pattern = filepath.Join(s.root, rawDir, "*", pool+".json")
	case KindOffline:
		pattern = filepath.Join(s.root, offlineDir, fmt.Sprintf("%s_%s_*.json", pool, tf))
	default:
		pattern = filepath.Join(s.root, fmt.Sprintf("%s_%s_*.json", pool, tf))
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, NewStorageError("list", pattern, err)
	}

	months := make([]string, 0, len(matches))
	for _, m := range matches {
		if kind == KindRaw {
			months = append(months, filepath.Base(filepath.Dir(m)))
			continue
		}
		name := strings.TrimSuffix(filepath.Base(m), ".json")
		months = append(months, name[strings.LastIndex(name, "_")+1:])
	}
	sort.Strings(months)
	return months, nil
}

// MergePoints combines two point sets keyed by timestamp and timeframe, so
// candles of different timeframes sharing a raw shard never replace each other.
// Incoming points replace existing ones except that a placeholder never replaces
// a real point, so the result does not depend on which side the real point came
// from. Forward-filled points are output only and are dropped. The result is
// sorted by timestamp, then by timeframe interval.
func MergePoints(existing, incoming []models.CandlePoint) []models.CandlePoint {
	type pointKey struct {
		ts int64
		tf models.Timeframe
	}
	byKey := make(map[pointKey]models.CandlePoint, len(existing)+len(incoming))

	put := func(p models.CandlePoint) {
		if p.IsForwardFilled {
			return
		}
		k := pointKey{ts: p.Timestamp, tf: p.Timeframe}
		if cur, ok := byKey[k]; ok && cur.IsReal() && !p.IsReal() {
			return
		}
		byKey[k] = p
	}

	for _, p := range existing {
		put(p)
	}
	for _, p := range incoming {
		put(p)
	}

	out := make([]models.CandlePoint, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Timeframe.Interval() < out[j].Timeframe.Interval()
	})
	return out
}

// FilterRange returns the points with start <= timestamp <= end, sorted ascending.
func FilterRange(points []models.CandlePoint, start, end int64) []models.CandlePoint {
	out := make([]models.CandlePoint, 0, len(points))
	for _, p := range points {
		if p.Timestamp >= start && p.Timestamp <= end {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
