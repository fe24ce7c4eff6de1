package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/logger"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/offline"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/storage"
)

// seriesPoint is the printed form of a reconstructed point
type seriesPoint struct {
	Time            time.Time `json:"time"`
	Open            float64   `json:"open,omitempty"`
	High            float64   `json:"high,omitempty"`
	Low             float64   `json:"low,omitempty"`
	Close           float64   `json:"close"`
	Volume          float64   `json:"volume,omitempty"`
	IsForwardFilled bool      `json:"is_forward_filled"`
}

func toSeries(points []models.CandlePoint) []seriesPoint {
	out := make([]seriesPoint, 0, len(points))
	for _, p := range points {
		out = append(out, seriesPoint{
			Time:            p.Time(),
			Open:            p.Open,
			High:            p.High,
			Low:             p.Low,
			Close:           p.Close,
			Volume:          p.Volume,
			IsForwardFilled: p.IsForwardFilled,
		})
	}
	return out
}

func (cli *CLI) printJSON(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cli *CLI) fetchCommand() *cobra.Command {
	var r rangeFlags
	var tfFlag string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print the forward-filled close-price series of a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}
			tf, err := cli.timeframe(tfFlag)
			if err != nil {
				return err
			}

			points, err := cli.prices.GetPriceData(cmd.Context(), r.pool, start, end, tf, cli.options())
			if err != nil {
				return err
			}
			return cli.printJSON(toSeries(points))
		},
	}
	r.register(cmd)
	cmd.Flags().StringVar(&tfFlag, "timeframe", "", "candle timeframe: 10min, 30min, 1h, 4h or 1d")
	return cmd
}

func (cli *CLI) ohlcvCommand() *cobra.Command {
	var r rangeFlags

	cmd := &cobra.Command{
		Use:   "ohlcv",
		Short: "Print full candles from the raw cache; the timeframe follows from the range length",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}

			series, err := cli.enhanced.FetchOHLCV(cmd.Context(), r.pool, start, end, cli.options())
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"timeframe": series.Timeframe,
				"candles":   toSeries(series.Points),
			})
		},
	}
	r.register(cmd)
	return cmd
}

func (cli *CLI) volumeCommand() *cobra.Command {
	var r rangeFlags

	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Print the traded volume of a position window",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}

			pos := models.PositionRef{PoolAddress: r.pool, OpenTime: start, CloseTime: end}
			volume, err := cli.enhanced.GetVolumeForPosition(cmd.Context(), pos, cli.options())
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"timeframe": volume.Timeframe,
				"total":     volume.Total.String(),
				"points":    volume.Points,
			})
		},
	}
	r.register(cmd)
	return cmd
}

func (cli *CLI) validateCommand() *cobra.Command {
	var r rangeFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether the raw cache covers a range well enough",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}
			return cli.printJSON(cli.enhanced.ValidateCompleteness(r.pool, start, end))
		},
	}
	r.register(cmd)
	return cmd
}

func (cli *CLI) gapsCommand() *cobra.Command {
	var r rangeFlags
	var tfFlag string

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List the uncached ranges of a pool without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}
			tf, err := cli.timeframe(tfFlag)
			if err != nil {
				return err
			}

			found, err := cli.prices.GapReport(r.pool, start, end, tf, cli.force)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintf(cli.out, "No gaps found for %s %s\n", r.pool, tf)
				return nil
			}

			fmt.Fprintf(cli.out, "Found %d gaps for %s %s:\n", len(found), r.pool, tf)
			for i, g := range found {
				fmt.Fprintf(cli.out, "  %d. %s (%d slots)\n", i+1, g, g.Slots(tf.Interval()))
			}
			return nil
		},
	}
	r.register(cmd)
	cmd.Flags().StringVar(&tfFlag, "timeframe", "", "candle timeframe")
	return cmd
}

func (cli *CLI) offlineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Maintain the offline close-price shards",
	}

	var pool, tfFlag string
	var months []string
	convert := &cobra.Command{
		Use:   "convert",
		Short: "Convert raw OHLCV shards into offline close-price shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := cli.timeframe(tfFlag)
			if err != nil {
				return err
			}
			written, err := cli.bridge.ConvertRaw(pool, tf, months)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "Converted %d points for %s %s\n", written, pool, tf)
			return nil
		},
	}
	convert.Flags().StringVar(&pool, "pool", "", "pool address (required)")
	convert.Flags().StringVar(&tfFlag, "timeframe", "", "target timeframe")
	convert.Flags().StringSliceVar(&months, "months", nil, "months to convert as YYYY-MM (default: all raw months)")
	_ = convert.MarkFlagRequired("pool")

	var r rangeFlags
	var checkTf string
	check := &cobra.Command{
		Use:   "check",
		Short: "Grade the offline coverage of a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}
			tf, err := cli.timeframe(checkTf)
			if err != nil {
				return err
			}
			result, err := cli.bridge.CheckCompleteness(r.pool, start, end, tf)
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"status":   result.Status,
				"ratio":    result.Ratio,
				"expected": result.Expected,
				"actual":   result.Actual,
			})
		},
	}
	r.register(check)
	check.Flags().StringVar(&checkTf, "timeframe", "", "candle timeframe")

	cmd.AddCommand(convert, check)
	return cmd
}

func (cli *CLI) prefetchCommand() *cobra.Command {
	var positionsFile, tfFlag, mode string
	var withVolume bool

	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Fill the cache for every position in a JSON file, one after another",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := loadPositions(positionsFile)
			if err != nil {
				return err
			}
			tf, err := cli.timeframe(tfFlag)
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cli.config.Offline.Mode
			}
			policy, err := offline.NewBatchPolicy(mode)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			return cli.prefetch(cmd.Context(), positions, tf, policy, withVolume)
		},
	}
	cmd.Flags().StringVar(&positionsFile, "positions", "", "JSON array of {pool_address, open_time, close_time} (required)")
	cmd.Flags().StringVar(&tfFlag, "timeframe", "", "candle timeframe")
	cmd.Flags().StringVar(&mode, "offline-mode", "", "offline decision: interactive, regenerate, use_available, skip, fetch_online")
	cmd.Flags().BoolVar(&withVolume, "with-volume", false, "also fill the raw OHLCV+volume cache")
	_ = cmd.MarkFlagRequired("positions")
	return cmd
}

// prefetch resolves positions sequentially; cancellation is honoured between positions
func (cli *CLI) prefetch(ctx context.Context, positions []models.PositionRef, tf models.Timeframe, policy *offline.BatchPolicy, withVolume bool) error {
	policy.Reset()
	started := time.Now()
	plog := cli.logs.WithComponentContext(logger.WithOperation(logger.EnsureTraceID(ctx), "prefetch"), "prefetch")
	served, skipped, failed := 0, 0, 0

	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := plog.With("position", i, "pool", pos.PoolAddress)

		if err := pos.Validate(); err != nil {
			log.Warn("skipping invalid position", "error", err)
			failed++
			continue
		}

		if cli.config.Offline.Enabled && !cli.force {
			res, err := cli.bridge.Resolve(ctx, pos, tf, policy)
			if err != nil {
				return err
			}
			switch {
			case res.Decision == offline.DecisionSkip:
				skipped++
				continue
			case res.Decision == offline.DecisionUseOffline || res.Decision == offline.DecisionRegenerate:
				if res.Status != models.CacheMissing {
					served++
					continue
				}
				log.Info("no offline data for position, fetching online", "decision", res.Decision)
			}
		}

		opts := cli.options()
		if _, err := cli.prices.GetPriceData(ctx, pos.PoolAddress, pos.OpenTime, pos.CloseTime, tf, opts); err != nil {
			log.Error("failed to fill price cache", "error", err)
			failed++
			continue
		}
		if withVolume {
			if _, err := cli.enhanced.GetVolumeForPosition(ctx, pos, opts); err != nil {
				log.Error("failed to fill raw cache", "error", err)
			}
		}
		served++
	}

	plog.WithDuration("prefetch", time.Since(started), slog.LevelInfo, "prefetch finished",
		"positions", len(positions), "served", served, "skipped", skipped, "failed", failed)
	fmt.Fprintf(cli.out, "Prefetch finished: %d served, %d skipped, %d failed\n", served, skipped, failed)
	return nil
}

func loadPositions(path string) ([]models.PositionRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read positions: %v", errUsage, err)
	}
	var positions []models.PositionRef
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("%w: failed to parse positions: %v", errUsage, err)
	}
	return positions, nil
}

func (cli *CLI) exportCommand() *cobra.Command {
	var pool, tfFlag, kind, dbPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy cached shards of a pool into DuckDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			shardKind := storage.ShardKind(kind)
			switch shardKind {
			case storage.KindProcessed, storage.KindRaw, storage.KindOffline:
			default:
				return fmt.Errorf("%w: unknown shard kind %q", errUsage, kind)
			}

			var tf models.Timeframe
			if shardKind != storage.KindRaw {
				var err error
				if tf, err = cli.timeframe(tfFlag); err != nil {
					return err
				}
			}
			if dbPath == "" {
				dbPath = cli.config.Export.DuckDBPath
			}

			exporter, err := storage.NewDuckDBExporter(dbPath, cli.logger)
			if err != nil {
				return err
			}
			defer exporter.Close()

			if err := exporter.Initialize(cmd.Context()); err != nil {
				return err
			}
			started := time.Now()
			rows, err := exporter.ExportShards(cmd.Context(), cli.store, shardKind, pool, tf)
			if err != nil {
				return err
			}
			cli.logs.GetComponentLogger("export").WithDuration("export_shards", time.Since(started), slog.LevelInfo,
				"exported shards", "pool", pool, "kind", shardKind, "rows", rows)
			stored, err := exporter.CountPoints(cmd.Context(), pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "Exported %d points for %s to %s (%d stored)\n", rows, pool, dbPath, stored)
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "pool address (required)")
	cmd.Flags().StringVar(&tfFlag, "timeframe", "", "timeframe of processed or offline shards")
	cmd.Flags().StringVar(&kind, "kind", string(storage.KindProcessed), "shard family: processed, raw or offline")
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB file (overrides config)")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

func (cli *CLI) queryCommand() *cobra.Command {
	var (
		r              rangeFlags
		tfFlag, dbPath string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print points previously exported to DuckDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := r.parse()
			if err != nil {
				return err
			}
			tf, err := cli.timeframe(tfFlag)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cli.config.Export.DuckDBPath
			}

			exporter, err := storage.NewDuckDBExporter(dbPath, cli.logger)
			if err != nil {
				return err
			}
			defer exporter.Close()

			if err := exporter.Initialize(cmd.Context()); err != nil {
				return err
			}
			points, err := exporter.QueryCloses(cmd.Context(), r.pool, tf, start, end)
			if err != nil {
				return err
			}
			return cli.printJSON(toSeries(points))
		},
	}
	r.register(cmd)
	cmd.Flags().StringVar(&tfFlag, "timeframe", "", "exported timeframe")
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB file (overrides config)")
	return cmd
}

func (cli *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write the effective configuration to the --config file; the API key is never written",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.configPath == "" {
				return fmt.Errorf("%w: --config is required", errUsage)
			}
			cli.config.API.APIKey = ""
			if err := cli.configs.SaveConfig(cmd.Context()); err != nil {
				return fmt.Errorf("%w: %v", errConfig, err)
			}
			fmt.Fprintf(cli.out, "Configuration written to %s\n", cli.configPath)
			return nil
		},
	})
	return cmd
}

func (cli *CLI) dailyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Inspect and update the daily SOL/USDC price file",
	}

	var start, end string
	missing := &cobra.Command{
		Use:   "missing",
		Short: "List dates in a range that have no entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseTime(start)
			if err != nil {
				return err
			}
			to, err := parseTime(end)
			if err != nil {
				return err
			}

			var dates []string
			for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
				dates = append(dates, d.Format("2006-01-02"))
			}
			for _, date := range cli.store.LoadDailyPrices().Missing(dates) {
				fmt.Fprintln(cli.out, date)
			}
			return nil
		},
	}
	missing.Flags().StringVar(&start, "start", "", "first date (required)")
	missing.Flags().StringVar(&end, "end", "", "last date (required)")
	_ = missing.MarkFlagRequired("start")
	_ = missing.MarkFlagRequired("end")

	set := &cobra.Command{
		Use:   "set DATE PRICE|null",
		Short: "Record the SOL/USDC close of one day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse("2006-01-02", args[0])
			if err != nil {
				return fmt.Errorf("%w: invalid date %q", errUsage, args[0])
			}

			var price *float64
			if args[1] != "null" {
				var v float64
				if _, err := fmt.Sscanf(args[1], "%g", &v); err != nil || v <= 0 {
					return fmt.Errorf("%w: invalid price %q", errUsage, args[1])
				}
				price = &v
			}
			return cli.store.SaveDailyPrices(storage.DailyPrices{day.Format("2006-01-02"): price})
		},
	}

	cmd.AddCommand(missing, set)
	return cmd
}
