package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

func createTestExporter(t *testing.T) *DuckDBExporter {
	t.Helper()

	exporter, err := NewDuckDBExporter(":memory:", slog.Default())
	require.NoError(t, err, "failed to create test DuckDB exporter")
	t.Cleanup(func() { exporter.Close() })

	require.NoError(t, exporter.Initialize(context.Background()))
	return exporter
}

func TestDuckDBExporterExport(t *testing.T) {
	ctx := context.Background()
	exporter := createTestExporter(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	points := []models.CandlePoint{
		{Timestamp: base, Close: 1.1},
		models.Placeholder(base + 1800),
		{Timestamp: base + 3600, Close: 1.3},
	}

	require.NoError(t, exporter.Export(ctx, testPool, models.Timeframe30Min, points))

	count, err := exporter.CountPoints(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := exporter.QueryCloses(ctx, testPool, models.Timeframe30Min,
		time.Unix(base, 0), time.Unix(base+3600, 0))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base, got[0].Timestamp)
	assert.Equal(t, 1.1, got[0].Close)
	assert.True(t, got[1].IsPlaceholder)

	t.Run("re-export replaces previous rows", func(t *testing.T) {
		require.NoError(t, exporter.Export(ctx, testPool, models.Timeframe30Min, points[:1]))
		count, err := exporter.CountPoints(ctx, testPool)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestDuckDBExporterExportShards(t *testing.T) {
	ctx := context.Background()
	exporter := createTestExporter(t)
	store, _ := newTestStore(t)

	jan := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC).Unix()
	feb := time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, store.Save(RawKey(testPool, "2024-01"), []models.CandlePoint{
		{Timestamp: jan, Timeframe: models.Timeframe1H, Close: 2, Volume: 5},
		{Timestamp: jan, Timeframe: models.Timeframe10Min, Close: 2.1, Volume: 1},
	}))
	require.NoError(t, store.Save(RawKey(testPool, "2024-02"), []models.CandlePoint{{Timestamp: feb, Timeframe: models.Timeframe1H, Close: 3, Volume: 7}}))

	n, err := exporter.ExportShards(ctx, store, KindRaw, testPool, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hourly, err := exporter.QueryCloses(ctx, testPool, models.Timeframe1H, time.Unix(jan, 0), time.Unix(feb, 0))
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.Equal(t, 7.0, hourly[1].Volume)
	assert.Equal(t, models.Timeframe1H, hourly[0].Timeframe)

	tenMin, err := exporter.QueryCloses(ctx, testPool, models.Timeframe10Min, time.Unix(jan, 0), time.Unix(feb, 0))
	require.NoError(t, err)
	require.Len(t, tenMin, 1)
	assert.Equal(t, 2.1, tenMin[0].Close)
}
