package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DailyPrices maps a YYYY-MM-DD date to the SOL/USDC close, nil when the
// upstream had no price for that day.
type DailyPrices map[string]*float64

// LoadDailyPrices reads sol_usdc_daily.json. Missing or corrupt files yield an empty map.
func (s *ShardStore) LoadDailyPrices() DailyPrices {
	path := filepath.Join(s.root, dailyFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read daily price file", "path", path, "error", err)
		}
		return DailyPrices{}
	}

	prices := DailyPrices{}
	if err := json.Unmarshal(data, &prices); err != nil {
		s.logger.Warn("corrupt daily price file, treating as empty", "path", path, "error", err)
		return DailyPrices{}
	}
	return prices
}

// SaveDailyPrices merges updates into sol_usdc_daily.json. A nil value is kept
// as JSON null; it never overwrites a known price.
func (s *ShardStore) SaveDailyPrices(updates DailyPrices) error {
	path := filepath.Join(s.root, dailyFile)

	prices := s.LoadDailyPrices()
	for date, price := range updates {
		if cur, ok := prices[date]; ok && cur != nil && price == nil {
			continue
		}
		prices[date] = price
	}

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return NewWriteError(path, fmt.Errorf("failed to create cache directory: %w", err))
	}

	data, err := json.MarshalIndent(prices, "", "  ")
	if err != nil {
		return NewWriteError(path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewWriteError(path, err)
	}
	s.metrics.RecordShardWrite()
	return nil
}

// Missing returns the dates that have no entry at all, sorted ascending
func (d DailyPrices) Missing(dates []string) []string {
	var out []string
	for _, date := range dates {
		if _, ok := d[date]; !ok {
			out = append(out, date)
		}
	}
	sort.Strings(out)
	return out
}
