package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketfeed/internal/collector"
	"github.com/sawpanic/marketfeed/internal/config"
	"github.com/sawpanic/marketfeed/internal/httpx"
	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/storage/postgres"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run every enabled news collector once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for collection")
		}

		exec, err := httpx.New(httpx.Config{
			Timeout:    cfg.HTTPTimeout,
			MaxRetries: cfg.HTTPRetries,
			UserAgent:  "marketfeed/1.0",
			Policies:   cfg.HostPolicies,
		})
		if err != nil {
			return err
		}
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			resp, err := exec.Get(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		}

		db, err := postgres.Open(postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer db.Close()

		newsRepo := postgres.NewNewsRepo(db, 30*time.Second)
		ingest := postgres.NewIngestionRepo(db, 30*time.Second)
		tagger := news.NewTagger()
		pipe := news.NewPipeline(newsRepo, tagger, 0)

		collector.RefreshSymbolFilter(cmd.Context(), newsRepo, tagger)

		var sources []collector.Source
		if cfg.GDELTEnabled {
			sources = append(sources, collector.NewGDELT("", fetch))
		}
		if cfg.SECRSSEnabled {
			sources = append(sources, collector.NewSECRSS(fetch))
		}
		if cfg.KAPEnabled {
			sources = append(sources, collector.NewKAPRSS(fetch))
		}
		if cfg.GoogleNewsRSSEnabled {
			sources = append(sources, collector.NewGoogleNewsRSS(fetch))
		}
		if len(sources) == 0 {
			return fmt.Errorf("no collectors enabled")
		}

		failed := 0
		for _, src := range sources {
			r := collector.NewRunner(src, pipe, ingest)
			r.Run(cmd.Context())
			st := r.Status()
			if st.LastError != "" {
				failed++
				log.Error().Str("collector", st.Collector).Str("error", st.LastError).Msg("collection failed")
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d collectors failed", failed, len(sources))
		}
		return nil
	},
}
