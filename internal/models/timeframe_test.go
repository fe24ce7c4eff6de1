package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.Unix()
}

func TestTimeframeInterval(t *testing.T) {
	tests := []struct {
		tf       Timeframe
		expected int64
	}{
		{Timeframe10Min, 600},
		{Timeframe30Min, 1800},
		{Timeframe1H, 3600},
		{Timeframe4H, 14400},
		{Timeframe1D, 86400},
		{Timeframe("5min"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tf.Interval())
		})
	}

	_, err := ParseTimeframe("2h")
	assert.Error(t, err)
	tf, err := ParseTimeframe("4h")
	require.NoError(t, err)
	assert.Equal(t, Timeframe4H, tf)
}

func TestTimeframeForDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected Timeframe
	}{
		{30 * time.Minute, Timeframe10Min},
		{4 * time.Hour, Timeframe10Min},
		{4*time.Hour + time.Second, Timeframe30Min},
		{12 * time.Hour, Timeframe30Min},
		{24 * time.Hour, Timeframe1H},
		{72 * time.Hour, Timeframe1H},
		{73 * time.Hour, Timeframe4H},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, TimeframeForDuration(tt.d))
		})
	}
}

func TestAlignToBoundary(t *testing.T) {
	base := ts("2024-01-01T00:00:00Z")

	tests := []struct {
		name     string
		in       int64
		mode     AlignMode
		expected int64
	}{
		{"floor mid candle", base + 1000, AlignFloor, base},
		{"ceil mid candle", base + 1000, AlignCeil, base + 1800},
		{"ceil on boundary", base + 1800, AlignCeil, base + 1800},
		{"floor on boundary", base + 1800, AlignFloor, base + 1800},
		{"nearest rounds down", base + 899, AlignNearest, base},
		{"nearest rounds half up", base + 900, AlignNearest, base + 1800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AlignToBoundary(tt.in, Timeframe30Min, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := AlignToBoundary(base, Timeframe30Min, AlignMode("round"))
	assert.Error(t, err)
	_, err = AlignToBoundary(base, Timeframe("7m"), AlignFloor)
	assert.Error(t, err)
}

func TestBuildAlignedRange(t *testing.T) {
	start, end, err := BuildAlignedRange(ts("2024-01-01T00:10:00Z"), ts("2024-01-01T01:50:00Z"), Timeframe30Min)
	require.NoError(t, err)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), start)
	assert.Equal(t, ts("2024-01-01T02:00:00Z"), end)
}

func TestExpectedTimestamps(t *testing.T) {
	got := ExpectedTimestamps(ts("2024-01-01T00:00:00Z"), ts("2024-01-01T02:00:00Z"), 1800)
	assert.Len(t, got, 5)
	assert.Equal(t, ts("2024-01-01T00:30:00Z"), got[1])

	// unaligned start snaps forward
	got = ExpectedTimestamps(ts("2024-01-01T00:10:00Z"), ts("2024-01-01T01:00:00Z"), 1800)
	assert.Equal(t, []int64{ts("2024-01-01T00:30:00Z"), ts("2024-01-01T01:00:00Z")}, got)

	assert.Empty(t, ExpectedTimestamps(10, 5, 1800))
}

func TestSplitMonthly(t *testing.T) {
	t.Run("single month", func(t *testing.T) {
		periods := SplitMonthly(ts("2024-01-05T00:00:00Z"), ts("2024-01-20T00:00:00Z"))
		require.Len(t, periods, 1)
		assert.Equal(t, "2024-01", periods[0].Month)
		assert.Equal(t, ts("2024-01-05T00:00:00Z"), periods[0].Start)
		assert.Equal(t, ts("2024-01-20T00:00:00Z"), periods[0].End)
	})

	t.Run("spans year boundary", func(t *testing.T) {
		start := ts("2023-12-30T12:00:00Z")
		end := ts("2024-02-02T00:00:00Z")
		periods := SplitMonthly(start, end)
		require.Len(t, periods, 3)

		assert.Equal(t, "2023-12", periods[0].Month)
		assert.Equal(t, start, periods[0].Start)
		assert.Equal(t, ts("2024-01-01T00:00:00Z")-1, periods[0].End)

		assert.Equal(t, "2024-01", periods[1].Month)
		assert.Equal(t, ts("2024-01-01T00:00:00Z"), periods[1].Start)
		assert.Equal(t, ts("2024-02-01T00:00:00Z")-1, periods[1].End)

		assert.Equal(t, "2024-02", periods[2].Month)
		assert.Equal(t, end, periods[2].End)

		// contiguous, no overlap
		for i := 1; i < len(periods); i++ {
			assert.Equal(t, periods[i-1].End+1, periods[i].Start)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		assert.Empty(t, SplitMonthly(10, 5))
	})
}
