package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errs "github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/errors"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/exchange"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/gaps"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/logger"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/series"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

// PriceCacheManager serves forward-filled close-price series from processed shards
type PriceCacheManager struct {
	store         *storage.ShardStore
	fetcher       exchange.OHLCVFetcher
	offline       OfflineTier
	detector      *gaps.Detector
	reconstructor *series.Reconstructor
	logger        *slog.Logger
	metrics       *metrics.CacheMetrics
}

// NewPriceCacheManager creates a manager. A nil fetcher makes every request cache-only.
func NewPriceCacheManager(store *storage.ShardStore, fetcher exchange.OHLCVFetcher, cfg *Config) *PriceCacheManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "price_cache")

	return &PriceCacheManager{
		store:         store,
		fetcher:       fetcher,
		detector:      gaps.NewDetector(log),
		reconstructor: series.NewReconstructor(log, cfg.WarnFillThreshold, cfg.Metrics),
		logger:        log,
		metrics:       cfg.Metrics,
	}
}

// SetOfflineTier attaches or, with nil, detaches the offline tier
func (m *PriceCacheManager) SetOfflineTier(tier OfflineTier) {
	m.offline = tier
}

// GetPriceData returns one close price per aligned slot of [start, end].
// Failed fetches leave their gaps open and never abort the request; the
// returned series is forward-filled and marks synthesized slots.
func (m *PriceCacheManager) GetPriceData(ctx context.Context, pool string, start, end time.Time, tf models.Timeframe, opts Options) ([]models.CandlePoint, error) {
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

	if m.offline != nil && !opts.ForceRefetch {
		points, status := m.offline.Lookup(ctx, pool, alignedStart, alignedEnd, tf)
		if status == models.CacheComplete {
			log.Debug("serving request from offline cache", "points", len(points))
			return m.reconstructor.Reconstruct(pool, models.ClosePrices(points), interval, alignedStart, alignedEnd), nil
		}
		log.Debug("offline cache not usable, falling back to online cache", "status", status)
	}

	cacheOnly := opts.UseCacheOnly || m.fetcher == nil
	var collected []models.CandlePoint
	for _, period := range models.SplitMonthly(alignedStart, alignedEnd) {
		var points []models.CandlePoint
		// a failed shard write is logged by the timed operation; the fetched data is still served
		_ = logger.TimedOperationWithContext(ctx, m.logger, "resolve_month "+period.Month, func() error {
			var err error
			points, err = m.resolvePeriod(ctx, log, pool, tf, period, opts.ForceRefetch, cacheOnly)
			return err
		})
		collected = append(collected, storage.FilterRange(points, period.Start, period.End)...)
	}

	return m.reconstructor.Reconstruct(pool, models.ClosePrices(collected), interval, alignedStart, alignedEnd), nil
}

// resolvePeriod loads one month shard and fills its gaps, returning the shard
// content. When the shard cannot be written the unsaved merge is returned with the error.
func (m *PriceCacheManager) resolvePeriod(ctx context.Context, log *slog.Logger, pool string, tf models.Timeframe, period models.Period, force, cacheOnly bool) ([]models.CandlePoint, error) {
	key := storage.ProcessedKey(pool, tf, period.Month)
	existing := m.store.Load(key)

	found := m.detector.Detect(existing, period.Start, period.End, tf, force)
	if len(found) == 0 {
		m.metrics.RecordCacheHit()
		return existing, nil
	}
	if cacheOnly {
		log.Debug("cache-only request, leaving gaps open", "month", period.Month, "gaps", len(found))
		return existing, nil
	}

	incoming := fillGaps(ctx, log, m.fetcher, m.metrics, pool, tf, found, closeOnly)
	if len(incoming) == 0 {
		return existing, nil
	}

	merged, err := m.store.Merge(key, incoming)
	if err != nil {
		return storage.MergePoints(existing, incoming), errs.WrapError(err, "price_cache", "persist_shard", fmt.Sprintf("failed to persist cache shard %s", key))
	}
	return merged, nil
}

// GapReport lists the gaps of the cached range without fetching anything
func (m *PriceCacheManager) GapReport(pool string, start, end time.Time, tf models.Timeframe, force bool) ([]models.Gap, error) {
	alignedStart, alignedEnd, err := models.BuildAlignedRange(start.Unix(), end.Unix(), tf)
	if err != nil {
		return nil, err
	}
	if alignedEnd < alignedStart {
		return nil, fmt.Errorf("end %s is before start %s", end, start)
	}

	var out []models.Gap
	for _, period := range models.SplitMonthly(alignedStart, alignedEnd) {
		existing := m.store.Load(storage.ProcessedKey(pool, tf, period.Month))
		out = append(out, gaps.FindGaps(existing, period.Start, period.End, tf, force)...)
	}
	return mergeAdjacent(out, tf.Interval()), nil
}

// fillGaps fetches every gap once and returns what should be merged, passing
// every point through shape. EmptyConfirmed gaps become placeholders; failed gaps
// contribute nothing and stay open.
func fillGaps(ctx context.Context, log *slog.Logger, fetcher exchange.OHLCVFetcher, m *metrics.CacheMetrics,
	pool string, tf models.Timeframe, found []models.Gap, shape func(models.CandlePoint) models.CandlePoint) []models.CandlePoint {
	interval := tf.Interval()

	var incoming []models.CandlePoint
	for _, g := range found {
		resp, err := fetcher.FetchRange(ctx, exchange.FetchRequest{
			Pool:      pool,
			Start:     g.Start,
			End:       g.End,
			Timeframe: tf,
		})
		if err != nil || resp == nil || resp.Outcome == models.FetchFailed {
			log.Warn("failed to fetch gap, leaving it open", "gap", g.String(), "error", err,
				"error_type", errs.GetErrorType(err), "retryable", errs.IsRetryable(err))
			continue
		}

		switch resp.Outcome {
		case models.FetchEmptyConfirmed:
			placeholders := gaps.Placeholders(g, interval)
			m.RecordPlaceholders(len(placeholders))
			log.Debug("upstream confirmed no data, caching placeholders",
				"gap", g.String(), "slots", len(placeholders))
			for _, p := range placeholders {
				incoming = append(incoming, shape(p))
			}
		default:
			for _, p := range storage.FilterRange(resp.Points, g.Start, g.End) {
				incoming = append(incoming, shape(p))
			}
		}
	}
	return incoming
}

// closeOnly strips a fetched candle to what processed shards store
func closeOnly(p models.CandlePoint) models.CandlePoint {
	return models.CandlePoint{Timestamp: p.Timestamp, Close: p.Close, IsPlaceholder: p.IsPlaceholder}
}

// mergeAdjacent joins gaps that touch across a month boundary
func mergeAdjacent(in []models.Gap, interval int64) []models.Gap {
	if len(in) == 0 {
		return nil
	}
	out := []models.Gap{in[0]}
	for _, g := range in[1:] {
		last := &out[len(out)-1]
		if g.Start-last.End == interval {
			last.End = g.End
			continue
		}
		out = append(out, g)
	}
	return out
}
