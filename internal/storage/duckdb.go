package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

const pricePointsTable = "price_points"

// rawTimeframe labels rows exported from raw shards, which have no fixed timeframe
const rawTimeframe = "raw"

// DuckDBExporter copies cached shards into a DuckDB table so backtesting and
// reporting code can query them with SQL.
type DuckDBExporter struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewDuckDBExporter opens the database. dbPath can be ":memory:".
func NewDuckDBExporter(dbPath string, logger *slog.Logger) (*DuckDBExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", dbPath, fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBExporter{db: db, dbPath: dbPath, logger: logger}, nil
}

// Initialize creates the price_points table and its index
func (d *DuckDBExporter) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS price_points (
			pool VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL,
			is_placeholder BOOLEAN NOT NULL,
			exported_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT price_points_volume_non_negative CHECK (volume >= 0)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_price_points_pool_tf_ts ON price_points (pool, timeframe, timestamp)",
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return NewStorageError("initialize", pricePointsTable, err)
		}
	}

	d.logger.Debug("duckdb export schema ready", "db_path", d.dbPath)
	return nil
}

// Export replaces every row of (pool, timeframe) with points using the DuckDB
// Appender. An empty timeframe is stored as "raw".
func (d *DuckDBExporter) Export(ctx context.Context, pool string, tf models.Timeframe, points []models.CandlePoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	label := string(tf)
	if label == "" {
		label = rawTimeframe
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return NewInsertError(pricePointsTable, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx,
		"DELETE FROM price_points WHERE pool = ? AND timeframe = ?", pool, label); err != nil {
		return NewInsertError(pricePointsTable, fmt.Errorf("failed to clear previous export: %w", err))
	}

	if len(points) == 0 {
		return nil
	}

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(pricePointsTable, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", pricePointsTable)
	if err != nil {
		return NewInsertError(pricePointsTable, fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	now := time.Now().UTC()
	for _, p := range points {
		if err := appender.AppendRow(
			pool,
			label,
			p.Time(),
			p.Open,
			p.High,
			p.Low,
			p.Close,
			p.Volume,
			p.IsPlaceholder,
			now,
		); err != nil {
			return NewInsertError(pricePointsTable, fmt.Errorf("failed to append point %d: %w", p.Timestamp, err))
		}
	}

	if err := appender.Flush(); err != nil {
		return NewInsertError(pricePointsTable, fmt.Errorf("failed to flush appender: %w", err))
	}

	d.logger.Debug("exported points to duckdb", "pool", pool, "timeframe", label, "count", len(points))
	return nil
}

// ExportShards exports every cached month of one pool from the given shard family.
// Raw candles are exported under the timeframe they were fetched at; untagged raw
// points go under "raw". It returns the number of rows written.
func (d *DuckDBExporter) ExportShards(ctx context.Context, store *ShardStore, kind ShardKind, pool string, tf models.Timeframe) (int, error) {
	months, err := store.ListMonths(kind, pool, tf)
	if err != nil {
		return 0, err
	}

	var all []models.CandlePoint
	for _, month := range months {
		all = append(all, store.Load(ShardKey{Kind: kind, Pool: pool, Timeframe: tf, Month: month})...)
	}
	all = MergePoints(nil, all)

	if kind != KindRaw {
		if err := d.Export(ctx, pool, tf, all); err != nil {
			return 0, err
		}
		return len(all), nil
	}

	groups := make(map[models.Timeframe][]models.CandlePoint)
	for _, p := range all {
		groups[p.Timeframe] = append(groups[p.Timeframe], p)
	}
	for label, points := range groups {
		if err := d.Export(ctx, pool, label, points); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

// CountPoints returns how many rows are stored for pool across all timeframes
func (d *DuckDBExporter) CountPoints(ctx context.Context, pool string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM price_points WHERE pool = ?", pool).Scan(&count)
	if err != nil {
		return 0, NewQueryError(pricePointsTable, err)
	}
	return count, nil
}

// QueryCloses reads back exported points of (pool, timeframe) in [start, end], ordered by time
func (d *DuckDBExporter) QueryCloses(ctx context.Context, pool string, tf models.Timeframe, start, end time.Time) ([]models.CandlePoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	label := string(tf)
	if label == "" {
		label = rawTimeframe
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT timestamp, close, volume, is_placeholder
		FROM price_points
		WHERE pool = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, pool, label, start.UTC(), end.UTC())
	if err != nil {
		return nil, NewQueryError(pricePointsTable, err)
	}
	defer rows.Close()

	var out []models.CandlePoint
	for rows.Next() {
		var (
			ts time.Time
			p  models.CandlePoint
		)
		if err := rows.Scan(&ts, &p.Close, &p.Volume, &p.IsPlaceholder); err != nil {
			return nil, NewQueryError(pricePointsTable, err)
		}
		p.Timestamp = ts.Unix()
		p.Timeframe = tf
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(pricePointsTable, err)
	}
	return out, nil
}

// Close closes the database
func (d *DuckDBExporter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", d.dbPath, err)
		}
		d.db = nil
	}
	return nil
}
