package models

import (
	"fmt"
	"time"
)

// Timeframe is a candle width label as understood by the upstream API
type Timeframe string

const (
	Timeframe10Min Timeframe = "10min"
	Timeframe30Min Timeframe = "30min"
	Timeframe1H    Timeframe = "1h"
	Timeframe4H    Timeframe = "4h"
	Timeframe1D    Timeframe = "1d"
)

// Timeframes lists every supported timeframe, narrowest first
var Timeframes = []Timeframe{Timeframe10Min, Timeframe30Min, Timeframe1H, Timeframe4H, Timeframe1D}

// ParseTimeframe validates a timeframe label
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if tf.Interval() == 0 {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Interval returns the candle width in seconds, or 0 for an unknown timeframe
func (tf Timeframe) Interval() int64 {
	switch tf {
	case Timeframe10Min:
		return 600
	case Timeframe30Min:
		return 1800
	case Timeframe1H:
		return 3600
	case Timeframe4H:
		return 14400
	case Timeframe1D:
		return 86400
	default:
		return 0
	}
}

// Duration returns the candle width as a time.Duration
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Interval()) * time.Second
}

func (tf Timeframe) String() string {
	return string(tf)
}

// TimeframeForDuration picks the raw-cache timeframe for a position of length d:
// up to 4h uses 10min, up to 12h uses 30min, up to 72h uses 1h, longer uses 4h.
func TimeframeForDuration(d time.Duration) Timeframe {
	switch {
	case d <= 4*time.Hour:
		return Timeframe10Min
	case d <= 12*time.Hour:
		return Timeframe30Min
	case d <= 72*time.Hour:
		return Timeframe1H
	default:
		return Timeframe4H
	}
}

// AlignMode selects how AlignToBoundary rounds
type AlignMode string

const (
	AlignFloor   AlignMode = "floor"
	AlignCeil    AlignMode = "ceil"
	AlignNearest AlignMode = "nearest" // candle lookup only, never range construction
)

// AlignToBoundary rounds a unix timestamp to a multiple of the timeframe interval
func AlignToBoundary(ts int64, tf Timeframe, mode AlignMode) (int64, error) {
	interval := tf.Interval()
	if interval == 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}

	floor := floorDiv(ts, interval) * interval
	switch mode {
	case AlignFloor:
		return floor, nil
	case AlignCeil:
		if floor == ts {
			return ts, nil
		}
		return floor + interval, nil
	case AlignNearest:
		if ts-floor >= interval-(ts-floor) {
			return floor + interval, nil
		}
		return floor, nil
	default:
		return 0, fmt.Errorf("unsupported align mode %q", mode)
	}
}

// BuildAlignedRange floors start and ceils end so that both instants are covered
func BuildAlignedRange(start, end int64, tf Timeframe) (int64, int64, error) {
	alignedStart, err := AlignToBoundary(start, tf, AlignFloor)
	if err != nil {
		return 0, 0, err
	}
	alignedEnd, err := AlignToBoundary(end, tf, AlignCeil)
	if err != nil {
		return 0, 0, err
	}
	return alignedStart, alignedEnd, nil
}

// ExpectedTimestamps lists every multiple of interval inside [start, end]
func ExpectedTimestamps(start, end, interval int64) []int64 {
	if interval <= 0 || end < start {
		return nil
	}
	first := floorDiv(start, interval) * interval
	if first < start {
		first += interval
	}
	if first > end {
		return nil
	}

	out := make([]int64, 0, (end-first)/interval+1)
	for ts := first; ts <= end; ts += interval {
		out = append(out, ts)
	}
	return out
}

// FloorToInterval returns the start of the interval-wide bucket holding ts.
// Unlike ts - ts%interval it also rounds down for timestamps before the epoch.
func FloorToInterval(ts, interval int64) int64 {
	return floorDiv(ts, interval) * interval
}

// floorDiv rounds toward negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
