// Package models defines the value types shared by the price cache: candle
// points, gaps, timeframes, positions and the fetch/cache outcome enums.
package models

import (
	"time"
)

// CandlePoint is one aligned candle as stored in a cache shard.
// Processed shards carry only Close; raw shards carry the full OHLCV set and
// the Timeframe the candle was fetched at, since one raw shard holds several.
type CandlePoint struct {
	Timestamp     int64     `json:"timestamp"`
	Timeframe     Timeframe `json:"timeframe,omitempty"`
	Open          float64   `json:"open,omitempty"`
	High          float64   `json:"high,omitempty"`
	Low           float64   `json:"low,omitempty"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder,omitempty"`

	// IsForwardFilled marks a synthesized output value; never persisted.
	IsForwardFilled bool `json:"-"`
}

// IsReal reports whether the point holds an observed price
func (p CandlePoint) IsReal() bool {
	return p.Close > 0 && !p.IsPlaceholder
}

// Time returns the candle open time in UTC
func (p CandlePoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// Placeholder records that the API confirmed no trades for the slot at ts
func Placeholder(ts int64) CandlePoint {
	return CandlePoint{Timestamp: ts, IsPlaceholder: true}
}

// OfTimeframe keeps the points fetched at tf
func OfTimeframe(points []CandlePoint, tf Timeframe) []CandlePoint {
	out := make([]CandlePoint, 0, len(points))
	for _, p := range points {
		if p.Timeframe == tf {
			out = append(out, p)
		}
	}
	return out
}

// ClosePrices returns the close of every real point keyed by timestamp
func ClosePrices(points []CandlePoint) map[int64]float64 {
	prices := make(map[int64]float64, len(points))
	for _, p := range points {
		if p.IsReal() {
			prices[p.Timestamp] = p.Close
		}
	}
	return prices
}
