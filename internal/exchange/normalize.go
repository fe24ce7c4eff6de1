package exchange

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	errs "github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/errors"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// isoLayouts are tried in order for the "timestamp" field; zone-less values are UTC
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// candleItems extracts the candle list from either {"result": [...]} or a bare array.
// An explicit "result": null is an empty list; an object without "result" is an error.
func candleItems(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array(), nil
	}
	if root.IsObject() {
		result := root.Get("result")
		switch {
		case result.IsArray():
			return result.Array(), nil
		case result.Exists() && result.Type == gjson.Null:
			return nil, nil
		case !result.Exists():
			return nil, fmt.Errorf("response has no result list: %.80s", root.Raw)
		}
	}
	return nil, fmt.Errorf("unexpected response shape: %.80s", root.Raw)
}

// normalizeCandle converts one response item into a point aligned to the tf grid
func normalizeCandle(item gjson.Result, tf models.Timeframe) (models.CandlePoint, error) {
	ts, err := itemTimestamp(item)
	if err != nil {
		return models.CandlePoint{}, err
	}

	closePrice, err := number(item.Get("close"))
	if err != nil {
		return models.CandlePoint{}, fmt.Errorf("invalid close: %w", err)
	}
	if !closePrice.IsPositive() {
		return models.CandlePoint{}, fmt.Errorf("non-positive close %s", closePrice)
	}

	point := models.CandlePoint{
		Timestamp: models.FloorToInterval(ts, tf.Interval()),
		Timeframe: tf,
		Close:     closePrice.InexactFloat64(),
	}
	point.Open = optionalNumber(item.Get("open"))
	point.High = optionalNumber(item.Get("high"))
	point.Low = optionalNumber(item.Get("low"))
	point.Volume = optionalNumber(item.Get("volume"))
	if point.Volume < 0 {
		point.Volume = 0
	}
	return point, nil
}

// itemTimestamp reads "time" as epoch milliseconds or "timestamp" as ISO-8601
func itemTimestamp(item gjson.Result) (int64, error) {
	if t := item.Get("time"); t.Exists() {
		switch t.Type {
		case gjson.Number:
			return millisToUnix(t.Int()), nil
		case gjson.String:
			ms, err := strconv.ParseInt(strings.TrimSpace(t.Str), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid time %q", t.Str)
			}
			return millisToUnix(ms), nil
		default:
			return 0, fmt.Errorf("invalid time %s", t.Raw)
		}
	}

	t := item.Get("timestamp")
	if !t.Exists() {
		return 0, fmt.Errorf("candle has neither time nor timestamp")
	}
	if t.Type == gjson.Number {
		return millisToUnix(t.Int()), nil
	}
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, t.String()); err == nil {
			return parsed.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp %q", t.String())
}

func millisToUnix(ms int64) int64 {
	return models.FloorToInterval(ms, 1000) / 1000
}

func number(r gjson.Result) (decimal.Decimal, error) {
	switch r.Type {
	case gjson.Number:
		return decimal.NewFromString(r.Raw)
	case gjson.String:
		return decimal.NewFromString(strings.TrimSpace(r.Str))
	default:
		return decimal.Zero, fmt.Errorf("not a number: %s", r.Raw)
	}
}

func optionalNumber(r gjson.Result) float64 {
	if !r.Exists() {
		return 0
	}
	d, err := number(r)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// normalizeResponse parses a response body into sorted points inside [start, end].
// Items that fail to parse are dropped, counted and reported as malformed_point
// errors; a later duplicate of the same slot replaces an earlier one.
func normalizeResponse(body []byte, tf models.Timeframe, start, end int64) ([]models.CandlePoint, int, []error, error) {
	items, err := candleItems(body)
	if err != nil {
		return nil, 0, nil, err
	}

	byTs := make(map[int64]models.CandlePoint, len(items))
	var problems []error
	for i, item := range items {
		p, err := normalizeCandle(item, tf)
		if err != nil {
			problems = append(problems, errs.New(errs.ErrorTypeMalformedPoint, component, "normalize",
				fmt.Errorf("item %d: %w", i, err)))
			continue
		}
		if p.Timestamp < start || p.Timestamp > end {
			continue
		}
		byTs[p.Timestamp] = p
	}

	points := make([]models.CandlePoint, 0, len(byTs))
	for _, p := range byTs {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points, len(problems), problems, nil
}
