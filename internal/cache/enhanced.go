package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	errs "github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/errors"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/exchange"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/gaps"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/logger"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/series"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

// EnhancedCacheManager caches full OHLCV+volume candles in raw shards keyed by
// pool and month only. The timeframe of a request follows from its duration.
//
// Raw shards hold candles of several timeframes, each tagged with the timeframe
// it was fetched at. A request only reads and fills candles of its own timeframe.
type EnhancedCacheManager struct {
	store             *storage.ShardStore
	fetcher           exchange.OHLCVFetcher
	detector          *gaps.Detector
	reconstructor     *series.Reconstructor
	quantityThreshold float64
	spanThreshold     float64
	logger            *slog.Logger
	metrics           *metrics.CacheMetrics
}

// OHLCVSeries is a forward-filled candle series and the timeframe it was built at
type OHLCVSeries struct {
	Timeframe models.Timeframe
	Points    []models.CandlePoint
}

// VolumePoint is the traded volume of one slot
type VolumePoint struct {
	Timestamp       int64   `json:"timestamp"`
	Volume          float64 `json:"volume"`
	IsForwardFilled bool    `json:"is_forward_filled"`
}

// VolumeSeries is the volume of a position window. Forward-filled slots count as zero.
type VolumeSeries struct {
	Timeframe models.Timeframe
	Points    []VolumePoint
	Total     decimal.Decimal
}

// CompletenessReport describes how well the raw cache covers a range
type CompletenessReport struct {
	Timeframe      models.Timeframe `json:"timeframe"`
	HasPriceData   bool             `json:"has_price_data"`
	HasVolumeData  bool             `json:"has_volume_data"`
	IsComplete     bool             `json:"is_complete"`
	ExpectedPoints int              `json:"expected_points"`
	ActualPoints   int              `json:"actual_points"`
	QuantityRatio  float64          `json:"quantity_ratio"`
	SpanRatio      float64          `json:"span_ratio"`
}

// NewEnhancedCacheManager creates a manager. A nil fetcher makes every request cache-only.
func NewEnhancedCacheManager(store *storage.ShardStore, fetcher exchange.OHLCVFetcher, cfg *Config) *EnhancedCacheManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "enhanced_cache")

	return &EnhancedCacheManager{
		store:             store,
		fetcher:           fetcher,
		detector:          gaps.NewDetector(log),
		reconstructor:     series.NewReconstructor(log, cfg.WarnFillThreshold, cfg.Metrics),
		quantityThreshold: cfg.QuantityThreshold,
		spanThreshold:     cfg.SpanThreshold,
		logger:            log,
		metrics:           cfg.Metrics,
	}
}

// FetchOHLCV returns full candles over [start, end] at the timeframe chosen for
// the range duration, filling raw-shard gaps from the upstream API.
func (m *EnhancedCacheManager) FetchOHLCV(ctx context.Context, pool string, start, end time.Time, opts Options) (*OHLCVSeries, error) {
	tf := models.TimeframeForDuration(end.Sub(start))
	req := models.RequestedRange{
		Pool:         pool,
		Start:        start,
		End:          end,
		Timeframe:    tf,
		ForceRefetch: opts.ForceRefetch,
		UseCacheOnly: opts.UseCacheOnly,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx = logger.WithTimeframe(logger.WithPool(logger.EnsureTraceID(ctx), pool), string(tf))
	log := logger.FromContext(ctx, m.logger)

	alignedStart, alignedEnd, err := models.BuildAlignedRange(start.Unix(), end.Unix(), tf)
	if err != nil {
		return nil, err
	}
	interval := tf.Interval()
	cacheOnly := opts.UseCacheOnly || m.fetcher == nil

	var collected []models.CandlePoint
	for _, period := range models.SplitMonthly(alignedStart, alignedEnd) {
		var points []models.CandlePoint
		// a failed shard write is logged by the timed operation; the fetched data is still served
		_ = logger.TimedOperationWithContext(ctx, m.logger, "resolve_raw_month "+period.Month, func() error {
			var err error
			points, err = m.resolvePeriod(ctx, log, pool, tf, period, opts.ForceRefetch, cacheOnly)
			return err
		})
		collected = append(collected, storage.FilterRange(points, period.Start, period.End)...)
	}

	return &OHLCVSeries{
		Timeframe: tf,
		Points:    m.reconstructor.ReconstructCandles(pool, collected, interval, alignedStart, alignedEnd),
	}, nil
}

// resolvePeriod fills the gaps of one raw month and returns its candles of timeframe tf.
// When the shard cannot be written the unsaved merge is returned with the error.
func (m *EnhancedCacheManager) resolvePeriod(ctx context.Context, log *slog.Logger, pool string, tf models.Timeframe, period models.Period, force, cacheOnly bool) ([]models.CandlePoint, error) {
	key := storage.RawKey(pool, period.Month)
	existing := m.store.Load(key)
	ofTf := models.OfTimeframe(existing, tf)

	found := m.detector.Detect(ofTf, period.Start, period.End, tf, force)
	switch {
	case len(found) == 0:
		m.metrics.RecordCacheHit()
		return ofTf, nil
	case cacheOnly:
		log.Debug("cache-only request, leaving gaps open", "month", period.Month, "gaps", len(found))
		return ofTf, nil
	}

	incoming := fillGaps(ctx, log, m.fetcher, m.metrics, pool, tf, found, tagged(tf))
	if len(incoming) == 0 {
		return ofTf, nil
	}

	merged, err := m.store.Merge(key, incoming)
	if err != nil {
		return models.OfTimeframe(storage.MergePoints(existing, incoming), tf),
			errs.WrapError(err, "enhanced_cache", "persist_shard", fmt.Sprintf("failed to persist raw shard %s", key))
	}
	return models.OfTimeframe(merged, tf), nil
}

// GetVolumeForPosition extracts the volume series of a position window
func (m *EnhancedCacheManager) GetVolumeForPosition(ctx context.Context, pos models.PositionRef, opts Options) (*VolumeSeries, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}

	ohlcv, err := m.FetchOHLCV(ctx, pos.PoolAddress, pos.OpenTime, pos.CloseTime, opts)
	if err != nil {
		return nil, err
	}

	out := &VolumeSeries{
		Timeframe: ohlcv.Timeframe,
		Points:    make([]VolumePoint, 0, len(ohlcv.Points)),
		Total:     decimal.Zero,
	}
	for _, p := range ohlcv.Points {
		out.Points = append(out.Points, VolumePoint{
			Timestamp:       p.Timestamp,
			Volume:          p.Volume,
			IsForwardFilled: p.IsForwardFilled,
		})
		out.Total = out.Total.Add(decimal.NewFromFloat(p.Volume))
	}
	return out, nil
}

// ValidateCompleteness checks the cached raw candles of [start, end] at the
// timeframe chosen for the range, without fetching or forward-filling. Candles of
// other timeframes in the same shard are ignored. Price data is sufficient only
// when both the point count and the covered time span reach their thresholds;
// densely clustered points that leave the edges uncovered fail the span check.
func (m *EnhancedCacheManager) ValidateCompleteness(pool string, start, end time.Time) CompletenessReport {
	tf := models.TimeframeForDuration(end.Sub(start))
	report := CompletenessReport{Timeframe: tf}

	alignedStart, alignedEnd, err := models.BuildAlignedRange(start.Unix(), end.Unix(), tf)
	if err != nil || alignedEnd < alignedStart {
		return report
	}
	report.ExpectedPoints = len(models.ExpectedTimestamps(alignedStart, alignedEnd, tf.Interval()))

	first, last := int64(0), int64(0)
	for _, period := range models.SplitMonthly(alignedStart, alignedEnd) {
		raw := models.OfTimeframe(m.store.Load(storage.RawKey(pool, period.Month)), tf)
		for _, p := range storage.FilterRange(raw, alignedStart, alignedEnd) {
			if !p.IsReal() {
				continue
			}
			if report.ActualPoints == 0 {
				first = p.Timestamp
			}
			last = p.Timestamp
			report.ActualPoints++
			if p.Volume > 0 {
				report.HasVolumeData = true
			}
		}
	}

	if report.ExpectedPoints > 0 {
		report.QuantityRatio = float64(report.ActualPoints) / float64(report.ExpectedPoints)
	}
	switch {
	case report.ActualPoints == 0:
		report.SpanRatio = 0
	case alignedEnd == alignedStart:
		report.SpanRatio = 1
	default:
		report.SpanRatio = float64(last-first) / float64(alignedEnd-alignedStart)
	}

	report.HasPriceData = report.QuantityRatio >= m.quantityThreshold && report.SpanRatio >= m.spanThreshold
	report.IsComplete = report.HasPriceData && report.HasVolumeData

	m.logger.Debug("raw cache completeness",
		"pool", pool,
		"timeframe", tf,
		"expected", report.ExpectedPoints,
		"actual", report.ActualPoints,
		"quantity_ratio", report.QuantityRatio,
		"span_ratio", report.SpanRatio,
		"complete", report.IsComplete)
	return report
}

// tagged marks fetched candles and placeholders with the timeframe they were requested at
func tagged(tf models.Timeframe) func(models.CandlePoint) models.CandlePoint {
	return func(p models.CandlePoint) models.CandlePoint {
		p.Timeframe = tf
		return p
	}
}
