package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "pricecache", config.AppName)
	assert.Equal(t, "price_cache", config.Cache.Dir)
	assert.Equal(t, 5, config.Cache.WarnFillThreshold)
	assert.Equal(t, "https://solana-gateway.moralis.io", config.API.BaseURL)
	assert.Equal(t, "usd", config.API.Currency)
	assert.Equal(t, 600*time.Millisecond, config.API.PauseDuration())
	assert.Equal(t, 30*time.Second, config.API.TimeoutDuration())
	assert.Equal(t, 1, config.API.RetryPolicy.MaxAttempts)
	assert.Equal(t, 0.80, config.Enhanced.QuantityThreshold)
	assert.Equal(t, 0.80, config.Enhanced.SpanThreshold)
	assert.Equal(t, 0.95, config.Offline.CompleteThreshold)
	assert.Equal(t, 0.50, config.Offline.PartialThreshold)
	assert.True(t, config.CacheOnly())
}

func TestConfigValidation(t *testing.T) {
	logger := slog.Default()
	cm := NewConfigManager("", logger)

	t.Run("valid config passes validation", func(t *testing.T) {
		config := DefaultConfig()
		err := cm.validateConfig(config)
		assert.NoError(t, err)
	})

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		message string
	}{
		{"missing cache dir", func(c *AppConfig) { c.Cache.Dir = "" }, "cache.dir is required"},
		{"zero warn threshold", func(c *AppConfig) { c.Cache.WarnFillThreshold = 0 }, "cache.warn_fill_threshold must be greater than 0"},
		{"unknown timeframe", func(c *AppConfig) { c.Cache.DefaultTimeframe = "5min" }, "cache.default_timeframe must be one of"},
		{"missing base url", func(c *AppConfig) { c.API.BaseURL = "" }, "api.base_url is required"},
		{"bad timeout", func(c *AppConfig) { c.API.Timeout = "soon" }, "api.timeout is not a valid duration"},
		{"negative pause", func(c *AppConfig) { c.API.RequestPause = "-1s" }, "api.request_pause must not be negative"},
		{"zero attempts", func(c *AppConfig) { c.API.RetryPolicy.MaxAttempts = 0 }, "api.retry_policy.max_attempts must be at least 1"},
		{"quantity out of range", func(c *AppConfig) { c.Enhanced.QuantityThreshold = 1.5 }, "enhanced.quantity_threshold must be in (0, 1]"},
		{"partial above complete", func(c *AppConfig) { c.Offline.PartialThreshold = 0.99 }, "offline.partial_threshold must not exceed"},
		{"unknown offline mode", func(c *AppConfig) { c.Offline.Mode = "guess" }, "offline.mode must be one of"},
		{"invalid log level", func(c *AppConfig) { c.Logging.Level = "invalid" }, "logging.level must be one of"},
		{"invalid log format", func(c *AppConfig) { c.Logging.Format = "xml" }, "logging.format must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := cm.validateConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("multiple validation errors", func(t *testing.T) {
		config := DefaultConfig()
		config.Cache.Dir = ""
		config.API.BaseURL = ""
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation errors:")
		assert.Contains(t, err.Error(), "cache.dir is required")
		assert.Contains(t, err.Error(), "api.base_url is required")
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	logger := slog.Default()

	t.Run("loads json config", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "config.json")
		data := []byte(`{"cache":{"dir":"/tmp/prices","warn_fill_threshold":8},"logging":{"level":"debug","format":"text"}}`)
		require.NoError(t, os.WriteFile(configPath, data, 0644))

		cm := NewConfigManager(configPath, logger)
		loaded, err := cm.LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "/tmp/prices", loaded.Cache.Dir)
		assert.Equal(t, 8, loaded.Cache.WarnFillThreshold)
		assert.Equal(t, "debug", loaded.Logging.Level)
		assert.Equal(t, "text", loaded.Logging.Format)
		// untouched sections keep defaults
		assert.Equal(t, "usd", loaded.API.Currency)
		assert.Equal(t, configPath, loaded.ConfigPath)
	})

	t.Run("loads yaml config", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "config.yaml")
		data := []byte("api:\n  request_pause: 1s\n  requests_per_minute: 25\noffline:\n  enabled: true\n  mode: use_available\n")
		require.NoError(t, os.WriteFile(configPath, data, 0644))

		cm := NewConfigManager(configPath, logger)
		loaded, err := cm.LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, time.Second, loaded.API.PauseDuration())
		assert.Equal(t, 25, loaded.API.RequestsPerMinute)
		assert.True(t, loaded.Offline.Enabled)
		assert.Equal(t, "use_available", loaded.Offline.Mode)
		assert.Equal(t, "price_cache", loaded.Cache.Dir)
	})

	t.Run("handles invalid json file", func(t *testing.T) {
		invalidPath := filepath.Join(tempDir, "invalid.json")
		require.NoError(t, os.WriteFile(invalidPath, []byte("invalid json"), 0644))

		cm := NewConfigManager(invalidPath, logger)
		_, err := cm.LoadConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("handles non-existent file gracefully", func(t *testing.T) {
		cm := NewConfigManager(filepath.Join(tempDir, "does_not_exist.json"), logger)

		config, err := cm.LoadConfig(context.Background())
		assert.NoError(t, err)
		require.NotNil(t, config)
		assert.Equal(t, "pricecache", config.AppName)
	})
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	logger := slog.Default()
	cm := NewConfigManager("", logger)

	envVars := map[string]string{
		"PRICE_CACHE_DIR":             "/data/cache",
		"FORWARD_FILL_WARN_THRESHOLD": "12",
		"MORALIS_API_KEY":             "test-key",
		"MORALIS_BASE_URL":            "http://localhost:9999",
		"REQUEST_PAUSE":               "250ms",
		"OFFLINE_MODE":                "regenerate",
		"DUCKDB_PATH":                 "/data/prices.duckdb",
		"LOG_LEVEL":                   "error",
		"LOG_FORMAT":                  "text",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	t.Run("loads config from environment", func(t *testing.T) {
		config := DefaultConfig()
		require.NoError(t, cm.loadFromEnv(config))

		assert.Equal(t, "/data/cache", config.Cache.Dir)
		assert.Equal(t, 12, config.Cache.WarnFillThreshold)
		assert.Equal(t, "test-key", config.API.APIKey)
		assert.Equal(t, "http://localhost:9999", config.API.BaseURL)
		assert.Equal(t, 250*time.Millisecond, config.API.PauseDuration())
		assert.True(t, config.Offline.Enabled)
		assert.Equal(t, "regenerate", config.Offline.Mode)
		assert.Equal(t, "/data/prices.duckdb", config.Export.DuckDBPath)
		assert.Equal(t, "error", config.Logging.Level)
		assert.Equal(t, "text", config.Logging.Format)
		assert.False(t, config.CacheOnly())
	})

	t.Run("handles invalid numeric values", func(t *testing.T) {
		t.Setenv("FORWARD_FILL_WARN_THRESHOLD", "not-a-number")

		config := DefaultConfig()
		require.NoError(t, cm.loadFromEnv(config))
		assert.Equal(t, 5, config.Cache.WarnFillThreshold)
	})
}

func TestSaveConfig(t *testing.T) {
	tempDir := t.TempDir()
	logger := slog.Default()

	t.Run("saves json config", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "save_test.json")
		cm := NewConfigManager(configPath, logger)
		cm.config = DefaultConfig()
		cm.config.Cache.Dir = "saved-dir"

		require.NoError(t, cm.SaveConfig(context.Background()))

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)

		var saved AppConfig
		require.NoError(t, json.Unmarshal(data, &saved))
		assert.Equal(t, "saved-dir", saved.Cache.Dir)
	})

	t.Run("yaml round trip through LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "nested", "config.yml")
		cm := NewConfigManager(configPath, logger)
		cm.config = DefaultConfig()
		cm.config.Cache.WarnFillThreshold = 9

		require.NoError(t, cm.SaveConfig(context.Background()))
		assert.FileExists(t, configPath)

		loaded, err := NewConfigManager(configPath, logger).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 9, loaded.Cache.WarnFillThreshold)
	})

	t.Run("fails when no config path specified", func(t *testing.T) {
		cm := NewConfigManager("", logger)
		cm.config = DefaultConfig()

		err := cm.SaveConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no config path specified")
	})
}

func TestConfigStringRedactsAPIKey(t *testing.T) {
	config := DefaultConfig()
	config.API.APIKey = "super-secret"

	out := config.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[REDACTED]")
}
