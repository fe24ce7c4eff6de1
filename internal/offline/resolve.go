package offline

import (
	"context"
	"fmt"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// Resolution is the outcome of resolving one position against the offline tier
type Resolution struct {
	Decision Decision
	Status   models.CacheStatus
	Ratio    float64
	Points   []models.CandlePoint // empty unless the decision serves offline data
}

// Resolve decides how to serve a position from offline data. Complete data is
// used as is. Otherwise policy supplies the decision; regenerating rebuilds the
// offline shards from the raw cache and serves whatever that produces.
func (b *Bridge) Resolve(ctx context.Context, pos models.PositionRef, tf models.Timeframe, policy *BatchPolicy) (*Resolution, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("batch policy is required")
	}

	result, err := b.CheckCompleteness(pos.PoolAddress, pos.OpenTime, pos.CloseTime, tf)
	if err != nil {
		return nil, err
	}
	if result.Status == models.CacheComplete {
		return &Resolution{Decision: DecisionUseOffline, Status: result.Status, Ratio: result.Ratio, Points: result.Points}, nil
	}

	decision, err := policy.decide(ctx, b.prompter, PromptRequest{
		Pool:      pos.PoolAddress,
		OpenTime:  pos.OpenTime,
		CloseTime: pos.CloseTime,
		Timeframe: tf,
		Status:    result.Status,
		Ratio:     result.Ratio,
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("incomplete offline data",
		"pool", pos.PoolAddress,
		"status", result.Status,
		"ratio", result.Ratio,
		"decision", decision)

	res := &Resolution{Decision: decision, Status: result.Status, Ratio: result.Ratio}
	switch decision {
	case DecisionUseOffline:
		res.Points = result.Points
	case DecisionRegenerate:
		months := monthsOf(pos)
		if _, err := b.ConvertRaw(pos.PoolAddress, tf, months); err != nil {
			return nil, err
		}
		regenerated, err := b.CheckCompleteness(pos.PoolAddress, pos.OpenTime, pos.CloseTime, tf)
		if err != nil {
			return nil, err
		}
		res.Status, res.Ratio, res.Points = regenerated.Status, regenerated.Ratio, regenerated.Points
	}
	return res, nil
}

func monthsOf(pos models.PositionRef) []string {
	var months []string
	for _, p := range models.SplitMonthly(pos.OpenTime.Unix(), pos.CloseTime.Unix()) {
		months = append(months, p.Month)
	}
	return months
}
