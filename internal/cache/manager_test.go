package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	errs "github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/errors"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/exchange"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

const testPool = "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT"

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchRange(ctx context.Context, req exchange.FetchRequest) (*exchange.FetchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.FetchResponse), args.Error(1)
}

type MockOfflineTier struct {
	mock.Mock
}

func (m *MockOfflineTier) Lookup(ctx context.Context, pool string, start, end int64, tf models.Timeframe) ([]models.CandlePoint, models.CacheStatus) {
	args := m.Called(ctx, pool, start, end, tf)
	return args.Get(0).([]models.CandlePoint), args.Get(1).(models.CacheStatus)
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func unix(s string) int64 {
	return at(s).Unix()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, fetcher exchange.OHLCVFetcher) (*PriceCacheManager, *storage.ShardStore, *metrics.CacheMetrics) {
	t.Helper()
	m := metrics.New()
	store := storage.NewShardStore(t.TempDir(), quietLogger(), m)

	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	cfg.Metrics = m
	return NewPriceCacheManager(store, fetcher, cfg), store, m
}

func gapRequest(start, end string, tf models.Timeframe) exchange.FetchRequest {
	return exchange.FetchRequest{Pool: testPool, Start: unix(start), End: unix(end), Timeframe: tf}
}

func TestGetPriceDataEmptyConfirmedCachesPlaceholders(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, m := newTestManager(t, fetcher)

	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-01-01T00:00:00Z", "2024-01-01T02:00:00Z", models.Timeframe30Min)).
		Return(&exchange.FetchResponse{Outcome: models.FetchEmptyConfirmed}, nil).Once()

	start, end := at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z")

	points, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
	require.NoError(t, err)
	assert.Empty(t, points, "no price ever observed")

	shard := store.Load(storage.ProcessedKey(testPool, models.Timeframe30Min, "2024-01"))
	require.Len(t, shard, 5)
	for _, p := range shard {
		assert.True(t, p.IsPlaceholder)
		assert.Zero(t, p.Close)
	}
	assert.Equal(t, int64(5), m.Snapshot().PlaceholdersWritten)

	// the second identical request is a pure cache hit
	_, err = manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "FetchRange", 1)
	fetcher.AssertExpectations(t)
}

func TestGetPriceDataServesFetchedClosesWhenShardWriteFails(t *testing.T) {
	// the cache root sits below a regular file, so no shard directory can be created
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	var logs bytes.Buffer
	m := metrics.New()
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	cfg.Metrics = m
	fetcher := new(MockFetcher)
	manager := NewPriceCacheManager(storage.NewShardStore(filepath.Join(blocker, "cache"), quietLogger(), m), fetcher, cfg)

	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", models.Timeframe30Min)).
		Return(&exchange.FetchResponse{Outcome: models.FetchOK, Points: []models.CandlePoint{
			{Timestamp: unix("2024-01-01T00:00:00Z"), Close: 2},
		}}, nil).Once()

	points, err := manager.GetPriceData(context.Background(), testPool,
		at("2024-01-01T00:00:00Z"), at("2024-01-01T01:00:00Z"), models.Timeframe30Min, Options{})
	require.NoError(t, err)
	fetcher.AssertExpectations(t)

	require.Len(t, points, 3)
	assert.Equal(t, 2.0, points[0].Close)
	assert.True(t, points[2].IsForwardFilled)

	assert.Contains(t, logs.String(), "operation failed")
	assert.Contains(t, logs.String(), "resolve_month 2024-01")
	assert.Contains(t, logs.String(), "failed to persist cache shard")
}

func TestGetPriceDataForwardFillsFromCache(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, _ := newTestManager(t, fetcher)

	require.NoError(t, store.Save(storage.ProcessedKey(testPool, models.Timeframe30Min, "2024-01"), []models.CandlePoint{
		{Timestamp: unix("2024-01-01T00:00:00Z"), Close: 1.5},
		{Timestamp: unix("2024-01-01T02:00:00Z"), Close: 2.5},
	}))

	points, err := manager.GetPriceData(context.Background(), testPool,
		at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z"), models.Timeframe30Min, Options{UseCacheOnly: true})
	require.NoError(t, err)

	require.Len(t, points, 5)
	for i, p := range points[1:4] {
		assert.Equal(t, 1.5, p.Close, "slot %d", i+1)
		assert.True(t, p.IsForwardFilled, "slot %d", i+1)
	}
	assert.False(t, points[0].IsForwardFilled)
	assert.False(t, points[4].IsForwardFilled)
	assert.Equal(t, 2.5, points[4].Close)
	fetcher.AssertNotCalled(t, "FetchRange", mock.Anything, mock.Anything)
}

func TestGetPriceDataStoresFetchedCloses(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, _ := newTestManager(t, fetcher)

	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-01-01T00:00:00Z", "2024-01-01T02:00:00Z", models.Timeframe1H)).
		Return(&exchange.FetchResponse{Outcome: models.FetchOK, Points: []models.CandlePoint{
			{Timestamp: unix("2024-01-01T00:00:00Z"), Open: 1, High: 2, Low: 0.5, Close: 1.8, Volume: 100},
			{Timestamp: unix("2024-01-01T01:00:00Z"), Open: 1.8, High: 2, Low: 1.7, Close: 1.9, Volume: 50},
		}}, nil).Once()

	points, err := manager.GetPriceData(context.Background(), testPool,
		at("2024-01-01T00:10:00Z"), at("2024-01-01T01:40:00Z"), models.Timeframe1H, Options{})
	require.NoError(t, err)

	require.Len(t, points, 3, "range is aligned outward to 00:00..02:00")
	assert.Equal(t, []float64{1.8, 1.9, 1.9}, []float64{points[0].Close, points[1].Close, points[2].Close})
	assert.True(t, points[2].IsForwardFilled)

	shard := store.Load(storage.ProcessedKey(testPool, models.Timeframe1H, "2024-01"))
	assert.Equal(t, []models.CandlePoint{
		{Timestamp: unix("2024-01-01T00:00:00Z"), Close: 1.8},
		{Timestamp: unix("2024-01-01T01:00:00Z"), Close: 1.9},
	}, shard, "processed shards keep closes only")
	fetcher.AssertExpectations(t)
}

func TestGetPriceDataFailedFetchLeavesGapOpen(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, _ := newTestManager(t, fetcher)

	upstreamErr := errs.New(errs.ErrorTypeServerError, "moralis", "fetch_range", errors.New("HTTP 502"))
	fetcher.On("FetchRange", mock.Anything, mock.Anything).
		Return(&exchange.FetchResponse{Outcome: models.FetchFailed}, upstreamErr)

	start, end := at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z")
	for i := 0; i < 2; i++ {
		points, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
		require.NoError(t, err, "fetch failures never fail the request")
		assert.Empty(t, points)
	}

	assert.False(t, store.Exists(storage.ProcessedKey(testPool, models.Timeframe30Min, "2024-01")))
	fetcher.AssertNumberOfCalls(t, "FetchRange", 2)
}

func TestGetPriceDataForceRefetchKeepsRealPrices(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, _ := newTestManager(t, fetcher)
	key := storage.ProcessedKey(testPool, models.Timeframe30Min, "2024-01")

	require.NoError(t, store.Save(key, []models.CandlePoint{
		{Timestamp: unix("2024-01-01T00:00:00Z"), Close: 1},
		models.Placeholder(unix("2024-01-01T00:30:00Z")),
		models.Placeholder(unix("2024-01-01T01:00:00Z")),
		models.Placeholder(unix("2024-01-01T01:30:00Z")),
		models.Placeholder(unix("2024-01-01T02:00:00Z")),
	}))

	start, end := at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z")

	// without force the placeholders are trusted
	_, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
	require.NoError(t, err)
	fetcher.AssertNotCalled(t, "FetchRange", mock.Anything, mock.Anything)

	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-01-01T00:30:00Z", "2024-01-01T02:00:00Z", models.Timeframe30Min)).
		Return(&exchange.FetchResponse{Outcome: models.FetchOK, Points: []models.CandlePoint{
			{Timestamp: unix("2024-01-01T01:00:00Z"), Close: 2},
		}}, nil).Once()

	points, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{ForceRefetch: true})
	require.NoError(t, err)
	fetcher.AssertExpectations(t)

	require.Len(t, points, 5)
	closes := make([]float64, 0, len(points))
	for _, p := range points {
		closes = append(closes, p.Close)
	}
	assert.Equal(t, []float64{1, 1, 2, 2, 2}, closes)

	shard := store.Load(key)
	require.Len(t, shard, 5)
	assert.Equal(t, 1.0, shard[0].Close)
	assert.True(t, shard[1].IsPlaceholder)
	assert.Equal(t, 2.0, shard[2].Close)
	assert.False(t, shard[2].IsPlaceholder)
}

func TestGetPriceDataSplitsAcrossMonths(t *testing.T) {
	fetcher := new(MockFetcher)
	manager, store, _ := newTestManager(t, fetcher)

	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-01-31T23:00:00Z", "2024-01-31T23:00:00Z", models.Timeframe1H)).
		Return(&exchange.FetchResponse{Outcome: models.FetchOK, Points: []models.CandlePoint{
			{Timestamp: unix("2024-01-31T23:00:00Z"), Close: 3},
		}}, nil).Once()
	fetcher.On("FetchRange", mock.Anything, gapRequest("2024-02-01T00:00:00Z", "2024-02-01T01:00:00Z", models.Timeframe1H)).
		Return(&exchange.FetchResponse{Outcome: models.FetchEmptyConfirmed}, nil).Once()

	points, err := manager.GetPriceData(context.Background(), testPool,
		at("2024-01-31T23:00:00Z"), at("2024-02-01T01:00:00Z"), models.Timeframe1H, Options{})
	require.NoError(t, err)
	fetcher.AssertExpectations(t)

	require.Len(t, points, 3)
	assert.False(t, points[0].IsForwardFilled)
	assert.True(t, points[1].IsForwardFilled)
	assert.Equal(t, 3.0, points[2].Close)

	assert.Len(t, store.Load(storage.ProcessedKey(testPool, models.Timeframe1H, "2024-01")), 1)
	assert.Len(t, store.Load(storage.ProcessedKey(testPool, models.Timeframe1H, "2024-02")), 2)
}

func TestGetPriceDataWithoutFetcherIsCacheOnly(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)

	points, err := manager.GetPriceData(context.Background(), testPool,
		at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z"), models.Timeframe30Min, Options{})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestGetPriceDataRejectsInvalidRequests(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	start, end := at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z")

	_, err := manager.GetPriceData(context.Background(), "short", start, end, models.Timeframe30Min, Options{})
	assert.Error(t, err)

	_, err = manager.GetPriceData(context.Background(), testPool, end, start, models.Timeframe30Min, Options{})
	assert.Error(t, err)

	_, err = manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe("5m"), Options{})
	assert.Error(t, err)
}

func TestGetPriceDataOfflineTier(t *testing.T) {
	start, end := at("2024-01-01T00:00:00Z"), at("2024-01-01T01:00:00Z")
	offlinePoints := []models.CandlePoint{
		{Timestamp: unix("2024-01-01T00:00:00Z"), Close: 4},
		{Timestamp: unix("2024-01-01T01:00:00Z"), Close: 5},
	}

	t.Run("complete offline data is served directly", func(t *testing.T) {
		fetcher := new(MockFetcher)
		tier := new(MockOfflineTier)
		manager, _, _ := newTestManager(t, fetcher)
		manager.SetOfflineTier(tier)

		tier.On("Lookup", mock.Anything, testPool, start.Unix(), end.Unix(), models.Timeframe30Min).
			Return(offlinePoints, models.CacheComplete).Once()

		points, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
		require.NoError(t, err)
		require.Len(t, points, 3)
		assert.True(t, points[1].IsForwardFilled)
		assert.Equal(t, 5.0, points[2].Close)
		fetcher.AssertNotCalled(t, "FetchRange", mock.Anything, mock.Anything)
		tier.AssertExpectations(t)
	})

	t.Run("partial offline data falls through to the online cache", func(t *testing.T) {
		fetcher := new(MockFetcher)
		tier := new(MockOfflineTier)
		manager, _, _ := newTestManager(t, fetcher)
		manager.SetOfflineTier(tier)

		tier.On("Lookup", mock.Anything, testPool, start.Unix(), end.Unix(), models.Timeframe30Min).
			Return(offlinePoints[:1], models.CachePartial).Once()
		fetcher.On("FetchRange", mock.Anything, mock.Anything).
			Return(&exchange.FetchResponse{Outcome: models.FetchEmptyConfirmed}, nil).Once()

		_, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{})
		require.NoError(t, err)
		fetcher.AssertExpectations(t)
	})

	t.Run("force refetch bypasses the offline tier", func(t *testing.T) {
		tier := new(MockOfflineTier)
		manager, _, _ := newTestManager(t, nil)
		manager.SetOfflineTier(tier)

		_, err := manager.GetPriceData(context.Background(), testPool, start, end, models.Timeframe30Min, Options{ForceRefetch: true})
		require.NoError(t, err)
		tier.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGapReport(t *testing.T) {
	manager, store, _ := newTestManager(t, nil)

	require.NoError(t, store.Save(storage.ProcessedKey(testPool, models.Timeframe1H, "2024-01"), []models.CandlePoint{
		{Timestamp: unix("2024-01-31T21:00:00Z"), Close: 1},
		models.Placeholder(unix("2024-01-31T22:00:00Z")),
	}))

	found, err := manager.GapReport(testPool, at("2024-01-31T21:00:00Z"), at("2024-02-01T01:00:00Z"), models.Timeframe1H, false)
	require.NoError(t, err)
	assert.Equal(t, []models.Gap{{Start: unix("2024-01-31T23:00:00Z"), End: unix("2024-02-01T01:00:00Z")}}, found,
		"gaps touching across the month boundary are reported once")

	found, err = manager.GapReport(testPool, at("2024-01-31T21:00:00Z"), at("2024-02-01T01:00:00Z"), models.Timeframe1H, true)
	require.NoError(t, err)
	assert.Equal(t, []models.Gap{{Start: unix("2024-01-31T22:00:00Z"), End: unix("2024-02-01T01:00:00Z")}}, found)
}

func TestBuilder(t *testing.T) {
	_, _, err := NewBuilder().Build()
	assert.Error(t, err)

	store := storage.NewShardStore(t.TempDir(), quietLogger(), nil)
	cfg := DefaultConfig()
	cfg.SpanThreshold = 1.5
	_, _, err = NewBuilder().WithStore(store).WithConfig(cfg).Build()
	assert.Error(t, err)

	prices, enhanced, err := NewBuilder().WithStore(store).WithFetcher(new(MockFetcher)).Build()
	require.NoError(t, err)
	assert.NotNil(t, prices)
	assert.NotNil(t, enhanced)
}
