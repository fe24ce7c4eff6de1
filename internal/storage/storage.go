// Package storage persists candle points as month-sharded JSON files and can
// export cached series into DuckDB for analytical queries.
//
// Shard layout under the cache root:
//
//	{pool}_{timeframe}_{YYYY-MM}.json                     processed close-price shards
//	raw/{YYYY-MM}/{pool}.json                             raw OHLCV+volume shards
//	offline_processed/{pool}_{timeframe}_{YYYY-MM}.json   offline-converted shards
//	sol_usdc_daily.json                                   daily SOL/USDC price map
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// ShardKind selects one of the shard families
type ShardKind string

const (
	KindProcessed ShardKind = "processed"
	KindRaw       ShardKind = "raw"
	KindOffline   ShardKind = "offline"
)

const (
	rawDir     = "raw"
	offlineDir = "offline_processed"
	dailyFile  = "sol_usdc_daily.json"
)

// ShardKey identifies one cache file. Timeframe is ignored for raw shards.
type ShardKey struct {
	Kind      ShardKind
	Pool      string
	Timeframe models.Timeframe
	Month     string // YYYY-MM
}

// ProcessedKey builds the key of a processed close-price shard
func ProcessedKey(pool string, tf models.Timeframe, month string) ShardKey {
	return ShardKey{Kind: KindProcessed, Pool: pool, Timeframe: tf, Month: month}
}

// RawKey builds the key of a raw OHLCV+volume shard
func RawKey(pool, month string) ShardKey {
	return ShardKey{Kind: KindRaw, Pool: pool, Month: month}
}

// OfflineKey builds the key of an offline-converted shard
func OfflineKey(pool string, tf models.Timeframe, month string) ShardKey {
	return ShardKey{Kind: KindOffline, Pool: pool, Timeframe: tf, Month: month}
}

// Path resolves the shard file under root
func (k ShardKey) Path(root string) string {
	switch k.Kind {
	case KindRaw:
		return filepath.Join(root, rawDir, k.Month, k.Pool+".json")
	case KindOffline:
		return filepath.Join(root, offlineDir, fmt.Sprintf("%s_%s_%s.json", k.Pool, k.Timeframe, k.Month))
	default:
		return filepath.Join(root, fmt.Sprintf("%s_%s_%s.json", k.Pool, k.Timeframe, k.Month))
	}
}

func (k ShardKey) String() string {
	if k.Kind == KindRaw {
		return fmt.Sprintf("%s/%s/%s", k.Kind, k.Pool, k.Month)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.Kind, k.Pool, k.Timeframe, k.Month)
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "save", "export")
	Operation string

	// Target is the shard path or database table involved
	Target string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, target string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Target:    target,
		Err:       err,
	}
}

// NewWriteError creates a StorageError for shard writes.
func NewWriteError(path string, err error) *StorageError {
	return NewStorageError("write", path, err)
}

// NewInsertError creates a StorageError for database inserts.
func NewInsertError(table string, err error) *StorageError {
	return NewStorageError("insert", table, err)
}

// NewQueryError creates a StorageError for database queries.
func NewQueryError(table string, err error) *StorageError {
	return NewStorageError("query", table, err)
}
