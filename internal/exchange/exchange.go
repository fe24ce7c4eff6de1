// Package exchange fetches OHLCV candles for Solana liquidity pools from the
// upstream market-data API.
package exchange

import (
	"context"
	"fmt"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// OHLCVFetcher retrieves the candles of one gap.
//
// FetchRange always returns a response. When the call fails the response has
// Outcome FetchFailed, carries no points, and the error explains why; callers
// must leave the gap open. FetchEmptyConfirmed means the API answered but had
// no usable candles for the range.
type OHLCVFetcher interface {
	FetchRange(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// FetchRequest asks for the candles of pool in the aligned range [Start, End]
type FetchRequest struct {
	Pool      string
	Start     int64 // unix seconds, aligned
	End       int64 // unix seconds, aligned, inclusive
	Timeframe models.Timeframe
}

// Validate checks the request before any network call
func (r FetchRequest) Validate() error {
	if r.Pool == "" {
		return fmt.Errorf("pool address is required")
	}
	if r.Timeframe.Interval() == 0 {
		return fmt.Errorf("unsupported timeframe %q", r.Timeframe)
	}
	if r.End < r.Start {
		return fmt.Errorf("end %d is before start %d", r.End, r.Start)
	}
	return nil
}

// FetchResponse carries the normalized candles of one call
type FetchResponse struct {
	Points  []models.CandlePoint
	Outcome models.FetchOutcome
	Dropped int // response items rejected during normalization
}
