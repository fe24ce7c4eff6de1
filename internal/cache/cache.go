// Package cache resolves price requests against the on-disk shard cache, the
// upstream OHLCV API and the optional offline tier.
//
// A request is handled in one pass: align the range, split it into calendar
// months, load each month shard, detect gaps, fetch each gap once, merge and
// persist, then forward-fill the result. Requests are resolved sequentially;
// a manager must not serve two overlapping requests at the same time.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/config"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/exchange"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/series"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

// Options are the per-request cache policy flags
type Options struct {
	// ForceRefetch re-queries placeholder slots; real prices are kept.
	ForceRefetch bool
	// UseCacheOnly never calls the upstream API; gaps stay gaps.
	UseCacheOnly bool
}

// OfflineTier serves pre-converted close-price shards
type OfflineTier interface {
	Lookup(ctx context.Context, pool string, start, end int64, tf models.Timeframe) ([]models.CandlePoint, models.CacheStatus)
}

// Config configures the cache managers
type Config struct {
	WarnFillThreshold int
	QuantityThreshold float64
	SpanThreshold     float64
	Logger            *slog.Logger
	Metrics           *metrics.CacheMetrics
}

// DefaultConfig returns the documented thresholds
func DefaultConfig() *Config {
	return &Config{
		WarnFillThreshold: series.DefaultWarnThreshold,
		QuantityThreshold: 0.80,
		SpanThreshold:     0.80,
		Logger:            slog.Default(),
	}
}

// ConfigFromApp maps the application config onto manager settings
func ConfigFromApp(app *config.AppConfig, logger *slog.Logger, m *metrics.CacheMetrics) *Config {
	cfg := DefaultConfig()
	cfg.WarnFillThreshold = app.Cache.WarnFillThreshold
	cfg.QuantityThreshold = app.Enhanced.QuantityThreshold
	cfg.SpanThreshold = app.Enhanced.SpanThreshold
	if logger != nil {
		cfg.Logger = logger
	}
	cfg.Metrics = m
	return cfg
}

// ValidateConfig checks the manager settings
func ValidateConfig(cfg *Config) error {
	if cfg.WarnFillThreshold < 1 {
		return fmt.Errorf("warn fill threshold must be positive, got %d", cfg.WarnFillThreshold)
	}
	if cfg.QuantityThreshold <= 0 || cfg.QuantityThreshold > 1 {
		return fmt.Errorf("quantity threshold must be in (0, 1], got %v", cfg.QuantityThreshold)
	}
	if cfg.SpanThreshold <= 0 || cfg.SpanThreshold > 1 {
		return fmt.Errorf("span threshold must be in (0, 1], got %v", cfg.SpanThreshold)
	}
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Builder assembles a PriceCacheManager and an EnhancedCacheManager that share
// one store, fetcher and metrics set.
type Builder struct {
	store   *storage.ShardStore
	fetcher exchange.OHLCVFetcher
	offline OfflineTier
	config  *Config
}

// NewBuilder creates a builder with default settings
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithStore sets the shard store
func (b *Builder) WithStore(store *storage.ShardStore) *Builder {
	b.store = store
	return b
}

// WithFetcher sets the upstream fetcher; nil means cache-only
func (b *Builder) WithFetcher(fetcher exchange.OHLCVFetcher) *Builder {
	b.fetcher = fetcher
	return b
}

// WithOfflineTier attaches the offline tier to the price manager
func (b *Builder) WithOfflineTier(tier OfflineTier) *Builder {
	b.offline = tier
	return b
}

// WithConfig replaces the settings
func (b *Builder) WithConfig(cfg *Config) *Builder {
	if cfg != nil {
		b.config = cfg
	}
	return b
}

// Build validates the settings and creates both managers
func (b *Builder) Build() (*PriceCacheManager, *EnhancedCacheManager, error) {
	if b.store == nil {
		return nil, nil, fmt.Errorf("shard store is required")
	}
	if err := ValidateConfig(b.config); err != nil {
		return nil, nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	prices := NewPriceCacheManager(b.store, b.fetcher, b.config)
	prices.SetOfflineTier(b.offline)
	return prices, NewEnhancedCacheManager(b.store, b.fetcher, b.config), nil
}
