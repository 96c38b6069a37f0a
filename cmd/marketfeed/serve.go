package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketfeed/internal/app"
	"github.com/sawpanic/marketfeed/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("build application: %w", err)
		}

		log.Info().Int("port", cfg.Port).Msg("starting")
		return a.Run(cmd.Context())
	},
}
