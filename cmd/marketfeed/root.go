package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marketfeed",
	Short: "Unified market data and news aggregation service",
	Long: `marketfeed serves quotes, OHLC charts and symbol detail for crypto,
BIST and US equities over HTTP and WebSocket, and ingests categorized
financial news from public feeds.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
}

// Execute runs the CLI with the given base context.
func Execute(ctx context.Context) error {
	cobra.OnInitialize(func() {
		if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	})
	return rootCmd.ExecuteContext(ctx)
}
