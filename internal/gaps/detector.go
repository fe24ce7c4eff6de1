// Package gaps finds the aligned slots of a requested range that a cache shard
// does not yet cover.
package gaps

import (
	"log/slog"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// Detector wraps FindGaps with debug logging
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a detector. logger may be nil.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect returns the gaps of points in [start, end] and logs a summary
func (d *Detector) Detect(points []models.CandlePoint, start, end int64, tf models.Timeframe, forceRefetch bool) []models.Gap {
	found := FindGaps(points, start, end, tf, forceRefetch)
	if len(found) > 0 {
		missing := 0
		for _, g := range found {
			missing += g.Slots(tf.Interval())
		}
		d.logger.Debug("gaps detected",
			"timeframe", tf,
			"gaps", len(found),
			"missing_slots", missing,
			"force_refetch", forceRefetch)
	}
	return found
}

// FindGaps returns the sorted, inclusive ranges of expected slots in [start, end]
// with no qualifying point. Without forceRefetch every cached point counts as
// present; with it only real points do, so placeholders get queried again while
// observed prices are kept.
func FindGaps(points []models.CandlePoint, start, end int64, tf models.Timeframe, forceRefetch bool) []models.Gap {
	interval := tf.Interval()
	if interval == 0 {
		return nil
	}

	present := make(map[int64]bool, len(points))
	for _, p := range points {
		if forceRefetch && !p.IsReal() {
			continue
		}
		present[p.Timestamp] = true
	}

	var out []models.Gap
	var open *models.Gap
	for _, ts := range models.ExpectedTimestamps(start, end, interval) {
		if present[ts] {
			if open != nil {
				out = append(out, *open)
				open = nil
			}
			continue
		}
		if open != nil && ts-open.End == interval {
			open.End = ts
			continue
		}
		if open != nil {
			out = append(out, *open)
		}
		open = &models.Gap{Start: ts, End: ts}
	}
	if open != nil {
		out = append(out, *open)
	}
	return out
}

// Placeholders builds one placeholder point per slot of the gap
func Placeholders(g models.Gap, interval int64) []models.CandlePoint {
	slots := g.Timestamps(interval)
	out := make([]models.CandlePoint, 0, len(slots))
	for _, ts := range slots {
		out = append(out, models.Placeholder(ts))
	}
	return out
}
