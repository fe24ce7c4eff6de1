package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/cache"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/config"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/exchange"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/logger"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/offline"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

var (
	errConfig = errors.New("configuration error")
	errUsage  = errors.New("usage error")
)

// CLI holds the components shared by every command
type CLI struct {
	configPath string
	envFile    string
	cacheDir   string
	cacheOnly  bool
	force      bool

	config   *config.AppConfig
	configs  *config.ConfigManager
	logs     *logger.LoggerManager
	logger   *slog.Logger
	metrics  *metrics.CacheMetrics
	store    *storage.ShardStore
	prices   *cache.PriceCacheManager
	enhanced *cache.EnhancedCacheManager
	bridge   *offline.Bridge

	out io.Writer
	in  io.Reader
}

func (cli *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "OHLCV price cache for Solana liquidity pools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.initialize(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cli.shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cli.configPath, "config", "", "config file (.json, .yaml or .yml)")
	flags.StringVar(&cli.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&cli.cacheDir, "cache-dir", "", "cache directory (overrides config)")
	flags.BoolVar(&cli.cacheOnly, "cache-only", false, "never call the upstream API")
	flags.BoolVar(&cli.force, "force", false, "re-query slots cached as confirmed-empty")

	root.AddCommand(
		cli.fetchCommand(),
		cli.ohlcvCommand(),
		cli.volumeCommand(),
		cli.validateCommand(),
		cli.gapsCommand(),
		cli.offlineCommand(),
		cli.prefetchCommand(),
		cli.exportCommand(),
		cli.queryCommand(),
		cli.configCommand(),
		cli.dailyCommand(),
	)
	return root
}

// initialize loads configuration and wires the cache components
func (cli *CLI) initialize(cmd *cobra.Command) error {
	if cli.out == nil {
		cli.out = cmd.OutOrStdout()
	}
	if cli.in == nil {
		cli.in = os.Stdin
	}

	if cli.envFile != "" {
		if err := godotenv.Load(cli.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: loading %s: %v", errConfig, cli.envFile, err)
		}
	}

	cm := config.NewConfigManager(cli.configPath, slog.Default())
	cfg, err := cm.LoadConfig(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	if cli.cacheDir != "" {
		cfg.Cache.Dir = cli.cacheDir
	}
	cli.config = cfg
	cli.configs = cm

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()
	cli.metrics = metrics.New()

	cli.store = storage.NewShardStore(cfg.Cache.Dir, logs.GetComponentLogger("shard_store").Logger, cli.metrics)
	cli.logger.Debug("cache store ready", "dir", cli.store.Root())

	var fetcher exchange.OHLCVFetcher
	if cfg.CacheOnly() || cli.cacheOnly {
		cli.logger.Info("no API key configured or cache-only requested, running from cache only")
	} else {
		opts := exchange.OptionsFromConfig(cfg.API)
		opts.Logger = cli.logger
		opts.Metrics = cli.metrics
		fetcher = exchange.NewMoralisAdapter(opts)
	}

	bridgeOpts := offline.OptionsFromConfig(cfg.Offline)
	bridgeOpts.Logger = cli.logger
	bridgeOpts.Prompter = offline.NewLinePrompter(cli.in, cli.out)
	cli.bridge = offline.NewBridge(cli.store, bridgeOpts)

	builder := cache.NewBuilder().
		WithStore(cli.store).
		WithFetcher(fetcher).
		WithConfig(cache.ConfigFromApp(cfg, cli.logger, cli.metrics))
	if cfg.Offline.Enabled {
		builder = builder.WithOfflineTier(cli.bridge)
	}

	cli.prices, cli.enhanced, err = builder.Build()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	return nil
}

func (cli *CLI) shutdown() {
	if cli.logger != nil {
		cli.metrics.LogSummary(cli.logger)
	}
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}

func (cli *CLI) options() cache.Options {
	return cache.Options{ForceRefetch: cli.force, UseCacheOnly: cli.cacheOnly}
}

func (cli *CLI) timeframe(value string) (models.Timeframe, error) {
	if value == "" {
		value = cli.config.Cache.DefaultTimeframe
	}
	tf, err := models.ParseTimeframe(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	return tf, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// parseTime accepts RFC3339, minute precision or a bare date, all in UTC
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q, use RFC3339 or YYYY-MM-DD", errUsage, value)
}

// rangeFlags holds the --pool/--start/--end flags shared by most commands
type rangeFlags struct {
	pool  string
	start string
	end   string
}

func (r *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.pool, "pool", "", "pool address (required)")
	cmd.Flags().StringVar(&r.start, "start", "", "range start (required)")
	cmd.Flags().StringVar(&r.end, "end", "", "range end (required)")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (r *rangeFlags) parse() (time.Time, time.Time, error) {
	start, err := parseTime(r.start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTime(r.end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start time cannot be after end time", errUsage)
	}
	return start, end, nil
}
