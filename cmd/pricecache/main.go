// Price cache CLI
// This application fills and inspects the on-disk OHLCV cache of Solana
// liquidity pools, converts it for offline use and exports it to DuckDB.
//
// Usage:
//
//	pricecache fetch --pool <address> --start 2024-01-01T00:00:00Z --end 2024-01-02 --timeframe 30min
//	pricecache ohlcv --pool <address> --start ... --end ...
//	pricecache validate --pool <address> --start ... --end ...
//	pricecache gaps --pool <address> --start ... --end ... --timeframe 1h
//	pricecache offline convert --pool <address> --timeframe 30min
//	pricecache prefetch --positions positions.json
//	pricecache export --pool <address> --kind raw
//	pricecache query --pool <address> --start ... --end ... --timeframe 10min
//	pricecache config save --config pricecache.yml
//
// For detailed help on any command, use: pricecache <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "pricecache"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	root := cli.rootCommand()

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		os.Exit(ExitSuccess)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(ExitInterrupt)
	case errors.Is(err, errConfig):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfigError)
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitUsageError)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitDataError)
	}
}
