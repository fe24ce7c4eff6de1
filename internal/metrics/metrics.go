// Package metrics tracks cache and upstream API counters for a run of the price cache.
package metrics

import (
	"log/slog"
	"time"

	"go.uber.org/atomic"
)

// CacheMetrics holds counters updated by the shard store, the fetcher and the
// cache managers. A nil *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	apiCalls            atomic.Int64
	emptyConfirmed      atomic.Int64
	failedFetches       atomic.Int64
	pointsFetched       atomic.Int64
	shardLoads          atomic.Int64
	corruptShards       atomic.Int64
	shardWrites         atomic.Int64
	placeholdersWritten atomic.Int64
	forwardFilled       atomic.Int64
	cacheHits           atomic.Int64
	startTime           time.Time
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	APICalls            int64         `json:"api_calls"`
	EmptyConfirmed      int64         `json:"empty_confirmed"`
	FailedFetches       int64         `json:"failed_fetches"`
	PointsFetched       int64         `json:"points_fetched"`
	ShardLoads          int64         `json:"shard_loads"`
	CorruptShards       int64         `json:"corrupt_shards"`
	ShardWrites         int64         `json:"shard_writes"`
	PlaceholdersWritten int64         `json:"placeholders_written"`
	ForwardFilled       int64         `json:"forward_filled"`
	CacheHits           int64         `json:"cache_hits"`
	Uptime              time.Duration `json:"uptime"`
}

// New creates a metrics set starting now
func New() *CacheMetrics {
	return &CacheMetrics{startTime: time.Now()}
}

// RecordAPICall counts one upstream request
func (m *CacheMetrics) RecordAPICall() {
	if m != nil {
		m.apiCalls.Inc()
	}
}

// RecordFetched counts points returned by a successful call
func (m *CacheMetrics) RecordFetched(n int) {
	if m != nil {
		m.pointsFetched.Add(int64(n))
	}
}

// RecordEmptyConfirmed counts a call that succeeded with no usable data
func (m *CacheMetrics) RecordEmptyConfirmed() {
	if m != nil {
		m.emptyConfirmed.Inc()
	}
}

// RecordFailedFetch counts a call that failed and left its gap open
func (m *CacheMetrics) RecordFailedFetch() {
	if m != nil {
		m.failedFetches.Inc()
	}
}

// RecordShardLoad counts a shard read; corrupt marks an unreadable file
func (m *CacheMetrics) RecordShardLoad(corrupt bool) {
	if m == nil {
		return
	}
	m.shardLoads.Inc()
	if corrupt {
		m.corruptShards.Inc()
	}
}

// RecordShardWrite counts one shard rewrite
func (m *CacheMetrics) RecordShardWrite() {
	if m != nil {
		m.shardWrites.Inc()
	}
}

// RecordPlaceholders counts synthesized empty-slot markers
func (m *CacheMetrics) RecordPlaceholders(n int) {
	if m != nil {
		m.placeholdersWritten.Add(int64(n))
	}
}

// RecordForwardFilled counts output slots that were synthesized
func (m *CacheMetrics) RecordForwardFilled(n int) {
	if m != nil {
		m.forwardFilled.Add(int64(n))
	}
}

// RecordCacheHit counts a month period served without any fetch
func (m *CacheMetrics) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// Snapshot returns the current counter values
func (m *CacheMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		APICalls:            m.apiCalls.Load(),
		EmptyConfirmed:      m.emptyConfirmed.Load(),
		FailedFetches:       m.failedFetches.Load(),
		PointsFetched:       m.pointsFetched.Load(),
		ShardLoads:          m.shardLoads.Load(),
		CorruptShards:       m.corruptShards.Load(),
		ShardWrites:         m.shardWrites.Load(),
		PlaceholdersWritten: m.placeholdersWritten.Load(),
		ForwardFilled:       m.forwardFilled.Load(),
		CacheHits:           m.cacheHits.Load(),
		Uptime:              time.Since(m.startTime),
	}
}

// LogSummary writes the snapshot as one structured log line
func (m *CacheMetrics) LogSummary(logger *slog.Logger) {
	s := m.Snapshot()
	logger.Info("cache run summary",
		"api_calls", s.APICalls,
		"empty_confirmed", s.EmptyConfirmed,
		"failed_fetches", s.FailedFetches,
		"points_fetched", s.PointsFetched,
		"cache_hits", s.CacheHits,
		"shard_writes", s.ShardWrites,
		"corrupt_shards", s.CorruptShards,
		"placeholders_written", s.PlaceholdersWritten,
		"forward_filled", s.ForwardFilled,
		"uptime", s.Uptime)
}
