// Package config provides centralized configuration management for the price cache.
// Configuration is loaded from defaults, an optional JSON or YAML file and the
// environment, in that order, then validated as a whole.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	ConfigPath string `json:"-" yaml:"-"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Upstream OHLCV API configuration
	API APIConfig `json:"api" yaml:"api"`

	// Enhanced (raw OHLCV+volume) cache configuration
	Enhanced EnhancedConfig `json:"enhanced" yaml:"enhanced"`

	// Offline tier configuration
	Offline OfflineConfig `json:"offline" yaml:"offline"`

	// Export configuration
	Export ExportConfig `json:"export" yaml:"export"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// CacheConfig configures the on-disk shard cache
type CacheConfig struct {
	Dir               string `json:"dir" yaml:"dir" env:"PRICE_CACHE_DIR"`                                             // Root of the shard tree
	WarnFillThreshold int    `json:"warn_fill_threshold" yaml:"warn_fill_threshold" env:"FORWARD_FILL_WARN_THRESHOLD"` // Consecutive forward-filled slots that trigger a warning
	DefaultTimeframe  string `json:"default_timeframe" yaml:"default_timeframe"`                                       // Timeframe used when a caller does not pass one
}

// APIConfig configures the Moralis OHLCV client
type APIConfig struct {
	BaseURL           string            `json:"base_url" yaml:"base_url" env:"MORALIS_BASE_URL"`
	APIKey            string            `json:"api_key" yaml:"api_key" env:"MORALIS_API_KEY"` // Empty means cache-only mode
	Chain             string            `json:"chain" yaml:"chain"`
	Currency          string            `json:"currency" yaml:"currency"`
	Timeout           string            `json:"timeout" yaml:"timeout" env:"HTTP_TIMEOUT"`
	RequestPause      string            `json:"request_pause" yaml:"request_pause" env:"REQUEST_PAUSE"` // Fixed sleep after every call
	RequestsPerMinute int               `json:"requests_per_minute" yaml:"requests_per_minute"`         // 0 disables the quota limiter
	RetryPolicy       RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`         // 1 means a single attempt
	InitialDelay    string `json:"initial_delay" yaml:"initial_delay"`       // Initial delay between retries
	MaxDelay        string `json:"max_delay" yaml:"max_delay"`               // Maximum delay between retries
	BackoffStrategy string `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed or exponential
}

// EnhancedConfig holds the sufficiency thresholds for raw-cache validation
type EnhancedConfig struct {
	QuantityThreshold float64 `json:"quantity_threshold" yaml:"quantity_threshold"`
	SpanThreshold     float64 `json:"span_threshold" yaml:"span_threshold"`
}

// OfflineConfig configures the offline tier
type OfflineConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	Mode              string  `json:"mode" yaml:"mode" env:"OFFLINE_MODE"` // interactive, regenerate, use_available, skip, fetch_online
	CompleteThreshold float64 `json:"complete_threshold" yaml:"complete_threshold"`
	PartialThreshold  float64 `json:"partial_threshold" yaml:"partial_threshold"`
}

// ExportConfig configures the DuckDB export target
type ExportConfig struct {
	DuckDBPath string `json:"duckdb_path" yaml:"duckdb_path" env:"DUCKDB_PATH"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`          // Log format: json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`          // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"` // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`                       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"`                 // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age"`                         // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress"`                       // Compress old log files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`           // Additional context fields
}

// ConfigManager handles configuration loading, validation and persistence
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"cache_dir", config.Cache.Dir,
		"cache_only", config.CacheOnly(),
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("PRICE_CACHE_DIR"); val != "" {
		config.Cache.Dir = val
	}
	if val := os.Getenv("FORWARD_FILL_WARN_THRESHOLD"); val != "" {
		if threshold, err := strconv.Atoi(val); err == nil {
			config.Cache.WarnFillThreshold = threshold
		}
	}

	if val := os.Getenv("MORALIS_API_KEY"); val != "" {
		config.API.APIKey = val
	}
	if val := os.Getenv("MORALIS_BASE_URL"); val != "" {
		config.API.BaseURL = val
	}
	if val := os.Getenv("HTTP_TIMEOUT"); val != "" {
		config.API.Timeout = val
	}
	if val := os.Getenv("REQUEST_PAUSE"); val != "" {
		config.API.RequestPause = val
	}

	if val := os.Getenv("OFFLINE_MODE"); val != "" {
		config.Offline.Mode = val
		config.Offline.Enabled = true
	}

	if val := os.Getenv("DUCKDB_PATH"); val != "" {
		config.Export.DuckDBPath = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	if config.Cache.Dir == "" {
		errors = append(errors, "cache.dir is required")
	}
	if config.Cache.WarnFillThreshold <= 0 {
		errors = append(errors, "cache.warn_fill_threshold must be greater than 0")
	}
	validTimeframes := map[string]bool{"10min": true, "30min": true, "1h": true, "4h": true, "1d": true}
	if !validTimeframes[config.Cache.DefaultTimeframe] {
		errors = append(errors, "cache.default_timeframe must be one of: 10min, 30min, 1h, 4h, 1d")
	}

	if config.API.BaseURL == "" {
		errors = append(errors, "api.base_url is required")
	}
	if _, err := time.ParseDuration(config.API.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("api.timeout is not a valid duration: %v", err))
	}
	if d, err := time.ParseDuration(config.API.RequestPause); err != nil {
		errors = append(errors, fmt.Sprintf("api.request_pause is not a valid duration: %v", err))
	} else if d < 0 {
		errors = append(errors, "api.request_pause must not be negative")
	}
	if config.API.RequestsPerMinute < 0 {
		errors = append(errors, "api.requests_per_minute must not be negative")
	}
	if config.API.RetryPolicy.MaxAttempts < 1 {
		errors = append(errors, "api.retry_policy.max_attempts must be at least 1")
	}

	if !validRatio(config.Enhanced.QuantityThreshold) {
		errors = append(errors, "enhanced.quantity_threshold must be in (0, 1]")
	}
	if !validRatio(config.Enhanced.SpanThreshold) {
		errors = append(errors, "enhanced.span_threshold must be in (0, 1]")
	}

	if !validRatio(config.Offline.CompleteThreshold) || !validRatio(config.Offline.PartialThreshold) {
		errors = append(errors, "offline thresholds must be in (0, 1]")
	} else if config.Offline.PartialThreshold > config.Offline.CompleteThreshold {
		errors = append(errors, "offline.partial_threshold must not exceed offline.complete_threshold")
	}
	validModes := map[string]bool{"interactive": true, "regenerate": true, "use_available": true, "skip": true, "fetch_online": true}
	if !validModes[config.Offline.Mode] {
		errors = append(errors, "offline.mode must be one of: interactive, regenerate, use_available, skip, fetch_online")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func validRatio(v float64) bool {
	return v > 0 && v <= 1
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "pricecache",
		Cache: CacheConfig{
			Dir:               "price_cache",
			WarnFillThreshold: 5,
			DefaultTimeframe:  "30min",
		},
		API: APIConfig{
			BaseURL:           "https://solana-gateway.moralis.io",
			Chain:             "mainnet",
			Currency:          "usd",
			Timeout:           "30s",
			RequestPause:      "600ms",
			RequestsPerMinute: 0,
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:     1,
				InitialDelay:    "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "exponential",
			},
		},
		Enhanced: EnhancedConfig{
			QuantityThreshold: 0.80,
			SpanThreshold:     0.80,
		},
		Offline: OfflineConfig{
			Enabled:           false,
			Mode:              "interactive",
			CompleteThreshold: 0.95,
			PartialThreshold:  0.50,
		},
		Export: ExportConfig{
			DuckDBPath: "./data/prices.duckdb",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "pricecache",
			},
		},
	}
}

// CacheOnly reports whether no API key is configured
func (c *AppConfig) CacheOnly() bool {
	return strings.TrimSpace(c.API.APIKey) == ""
}

// TimeoutDuration returns the parsed HTTP timeout
func (c APIConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// PauseDuration returns the parsed post-call pause
func (c APIConfig) PauseDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestPause)
	if err != nil {
		return 600 * time.Millisecond
	}
	return d
}

// Delays returns the parsed initial and maximum retry delays
func (r RetryPolicyConfig) Delays() (time.Duration, time.Duration) {
	initial, err := time.ParseDuration(r.InitialDelay)
	if err != nil {
		initial = time.Second
	}
	max, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		max = 30 * time.Second
	}
	return initial, max
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.API.APIKey != "" {
		sanitized.API.APIKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
