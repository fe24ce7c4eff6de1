// Package offline converts raw OHLCV+volume shards into close-price shards so
// that price requests can be served without network access, and decides what to
// do when the converted data does not cover a position.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/config"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

const (
	DefaultCompleteThreshold = 0.95
	DefaultPartialThreshold  = 0.50
)

// Bridge serves and maintains the offline_processed shards
type Bridge struct {
	store             *storage.ShardStore
	prompter          Prompter
	completeThreshold float64
	partialThreshold  float64
	logger            *slog.Logger
}

// Options configures a Bridge
type Options struct {
	CompleteThreshold float64
	PartialThreshold  float64
	Prompter          Prompter // required only for interactive batch policies
	Logger            *slog.Logger
}

// OptionsFromConfig maps the offline config section onto bridge options
func OptionsFromConfig(cfg config.OfflineConfig) Options {
	return Options{
		CompleteThreshold: cfg.CompleteThreshold,
		PartialThreshold:  cfg.PartialThreshold,
	}
}

// CheckResult is the graded offline coverage of one range
type CheckResult struct {
	Points   []models.CandlePoint
	Status   models.CacheStatus
	Ratio    float64
	Expected int
	Actual   int
}

// NewBridge creates a bridge over store
func NewBridge(store *storage.ShardStore, opts Options) *Bridge {
	if opts.CompleteThreshold <= 0 {
		opts.CompleteThreshold = DefaultCompleteThreshold
	}
	if opts.PartialThreshold <= 0 {
		opts.PartialThreshold = DefaultPartialThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		store:             store,
		prompter:          opts.Prompter,
		completeThreshold: opts.CompleteThreshold,
		partialThreshold:  opts.PartialThreshold,
		logger:            opts.Logger.With("component", "offline_bridge"),
	}
}

// ConvertRaw buckets the raw candles of pool onto the timeframe grid and writes
// one offline shard per month. With no months given every raw month is converted.
// It returns the number of points written.
func (b *Bridge) ConvertRaw(pool string, tf models.Timeframe, months []string) (int, error) {
	interval := tf.Interval()
	if interval == 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}

	if len(months) == 0 {
		listed, err := b.store.ListMonths(storage.KindRaw, pool, "")
		if err != nil {
			return 0, err
		}
		months = listed
	}

	written := 0
	for _, month := range months {
		converted := BucketCandles(b.store.Load(storage.RawKey(pool, month)), interval)
		if len(converted) == 0 {
			b.logger.Debug("no raw candles to convert", "pool", pool, "month", month)
			continue
		}
		if err := b.store.Save(storage.OfflineKey(pool, tf, month), converted); err != nil {
			return written, fmt.Errorf("failed to write offline shard for %s: %w", month, err)
		}
		written += len(converted)
	}

	b.logger.Info("converted raw cache to offline shards",
		"pool", pool, "timeframe", tf, "months", len(months), "points", written)
	return written, nil
}

// BucketCandles aggregates real candles into interval-wide buckets: first open,
// highest high, lowest low, last close and summed volume. Each bucket is built
// from the finest source timeframe it holds that is no wider than interval.
// Placeholders, untagged and coarser candles are skipped.
func BucketCandles(points []models.CandlePoint, interval int64) []models.CandlePoint {
	finest := make(map[int64]int64)
	for _, p := range points {
		src := p.Timeframe.Interval()
		if !p.IsReal() || src == 0 || src > interval {
			continue
		}
		bucket := models.FloorToInterval(p.Timestamp, interval)
		if cur, ok := finest[bucket]; !ok || src < cur {
			finest[bucket] = src
		}
	}

	sorted := make([]models.CandlePoint, 0, len(points))
	for _, p := range points {
		src := p.Timeframe.Interval()
		if p.IsReal() && src != 0 && finest[models.FloorToInterval(p.Timestamp, interval)] == src {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var out []models.CandlePoint
	var volume decimal.Decimal
	for _, p := range sorted {
		bucket := models.FloorToInterval(p.Timestamp, interval)
		if len(out) == 0 || out[len(out)-1].Timestamp != bucket {
			if len(out) > 0 {
				out[len(out)-1].Volume = volume.InexactFloat64()
			}
			out = append(out, models.CandlePoint{
				Timestamp: bucket,
				Open:      p.Open,
				High:      p.High,
				Low:       p.Low,
			})
			volume = decimal.Zero
		}

		cur := &out[len(out)-1]
		if p.High > cur.High {
			cur.High = p.High
		}
		if p.Low > 0 && (cur.Low == 0 || p.Low < cur.Low) {
			cur.Low = p.Low
		}
		cur.Close = p.Close
		volume = volume.Add(decimal.NewFromFloat(p.Volume))
	}
	if len(out) > 0 {
		out[len(out)-1].Volume = volume.InexactFloat64()
	}
	return out
}

// CheckCompleteness grades the offline coverage of [start, end]
func (b *Bridge) CheckCompleteness(pool string, start, end time.Time, tf models.Timeframe) (*CheckResult, error) {
	alignedStart, alignedEnd, err := models.BuildAlignedRange(start.Unix(), end.Unix(), tf)
	if err != nil {
		return nil, err
	}
	if alignedEnd < alignedStart {
		return nil, fmt.Errorf("end %s is before start %s", end, start)
	}
	return b.check(pool, alignedStart, alignedEnd, tf), nil
}

func (b *Bridge) check(pool string, start, end int64, tf models.Timeframe) *CheckResult {
	interval := tf.Interval()
	result := &CheckResult{Expected: len(models.ExpectedTimestamps(start, end, interval))}

	for _, period := range models.SplitMonthly(start, end) {
		for _, p := range storage.FilterRange(b.store.Load(storage.OfflineKey(pool, tf, period.Month)), period.Start, period.End) {
			if p.IsReal() && p.Timestamp%interval == 0 {
				result.Points = append(result.Points, p)
			}
		}
	}
	result.Actual = len(result.Points)

	if result.Expected > 0 {
		result.Ratio = float64(result.Actual) / float64(result.Expected)
	}
	switch {
	case result.Expected > 0 && result.Ratio >= b.completeThreshold:
		result.Status = models.CacheComplete
	case result.Expected > 0 && result.Ratio >= b.partialThreshold:
		result.Status = models.CachePartial
	default:
		result.Status = models.CacheMissing
	}
	return result
}

// Lookup serves aligned ranges to the price cache manager
func (b *Bridge) Lookup(ctx context.Context, pool string, start, end int64, tf models.Timeframe) ([]models.CandlePoint, models.CacheStatus) {
	result := b.check(pool, start, end, tf)
	b.logger.Debug("offline lookup",
		"pool", pool,
		"timeframe", tf,
		"status", result.Status,
		"ratio", result.Ratio)
	return result.Points, result.Status
}
