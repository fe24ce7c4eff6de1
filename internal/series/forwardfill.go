// Package series turns sparse cached prices into a continuous series at a fixed cadence.
package series

import (
	"log/slog"
	"sort"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// DefaultWarnThreshold is the forward-filled run length that gets logged
const DefaultWarnThreshold = 5

// ForwardFill emits one point per aligned slot in [start, end]. Slots without a
// positive price repeat the last seen price and are marked IsForwardFilled.
//
// The carried price starts out as the chronologically first positive price in
// prices, wherever it sits, so leading empty slots take that value. Slots before
// any price exists at all are omitted.
func ForwardFill(prices map[int64]float64, interval, start, end int64) []models.CandlePoint {
	slots := models.ExpectedTimestamps(start, end, interval)
	out := make([]models.CandlePoint, 0, len(slots))

	last, ok := firstPrice(prices)
	for _, ts := range slots {
		if price, found := prices[ts]; found && price > 0 {
			last, ok = price, true
			out = append(out, models.CandlePoint{Timestamp: ts, Close: price})
			continue
		}
		if !ok {
			continue
		}
		out = append(out, models.CandlePoint{Timestamp: ts, Close: last, IsForwardFilled: true})
	}
	return out
}

// ForwardFillCandles is ForwardFill for full OHLCV points. Synthesized slots
// carry the last close as open, high, low and close with zero volume.
func ForwardFillCandles(points []models.CandlePoint, interval, start, end int64) []models.CandlePoint {
	byTs := make(map[int64]models.CandlePoint, len(points))
	prices := make(map[int64]float64, len(points))
	for _, p := range points {
		if p.IsReal() {
			byTs[p.Timestamp] = p
			prices[p.Timestamp] = p.Close
		}
	}

	filled := ForwardFill(prices, interval, start, end)
	for i, p := range filled {
		if !p.IsForwardFilled {
			filled[i] = byTs[p.Timestamp]
			continue
		}
		filled[i] = models.CandlePoint{
			Timestamp:       p.Timestamp,
			Open:            p.Close,
			High:            p.Close,
			Low:             p.Close,
			Close:           p.Close,
			IsForwardFilled: true,
		}
	}
	return filled
}

func firstPrice(prices map[int64]float64) (float64, bool) {
	keys := make([]int64, 0, len(prices))
	for ts, price := range prices {
		if price > 0 {
			keys = append(keys, ts)
		}
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return prices[keys[0]], true
}

// Run is a maximal stretch of consecutive forward-filled points
type Run struct {
	Start  int64
	End    int64
	Length int
}

// FilledRuns lists the forward-filled runs of a reconstructed series in order
func FilledRuns(points []models.CandlePoint) []Run {
	var runs []Run
	var cur *Run
	for _, p := range points {
		if !p.IsForwardFilled {
			if cur != nil {
				runs = append(runs, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &Run{Start: p.Timestamp}
		}
		cur.End = p.Timestamp
		cur.Length++
	}
	if cur != nil {
		runs = append(runs, *cur)
	}
	return runs
}

// Reconstructor forward-fills series and reports long synthesized stretches
type Reconstructor struct {
	logger        *slog.Logger
	warnThreshold int
	metrics       *metrics.CacheMetrics
}

// NewReconstructor creates a reconstructor. A threshold below 1 uses DefaultWarnThreshold.
func NewReconstructor(logger *slog.Logger, warnThreshold int, m *metrics.CacheMetrics) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	if warnThreshold < 1 {
		warnThreshold = DefaultWarnThreshold
	}
	return &Reconstructor{logger: logger, warnThreshold: warnThreshold, metrics: m}
}

// Reconstruct forward-fills close prices over [start, end]
func (r *Reconstructor) Reconstruct(pool string, prices map[int64]float64, interval, start, end int64) []models.CandlePoint {
	out := ForwardFill(prices, interval, start, end)
	r.report(pool, out, interval)
	return out
}

// ReconstructCandles forward-fills full candles over [start, end]
func (r *Reconstructor) ReconstructCandles(pool string, points []models.CandlePoint, interval, start, end int64) []models.CandlePoint {
	out := ForwardFillCandles(points, interval, start, end)
	r.report(pool, out, interval)
	return out
}

func (r *Reconstructor) report(pool string, out []models.CandlePoint, interval int64) {
	total := 0
	for _, run := range FilledRuns(out) {
		total += run.Length
		if run.Length < r.warnThreshold {
			continue
		}
		r.logger.Warn("long forward-filled run in price series",
			"pool", pool,
			"interval_seconds", interval,
			"slots", run.Length,
			"from", models.CandlePoint{Timestamp: run.Start}.Time(),
			"to", models.CandlePoint{Timestamp: run.End}.Time())
	}
	r.metrics.RecordForwardFilled(total)
}
