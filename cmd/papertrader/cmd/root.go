package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"papertrader/config"
	"papertrader/engine"
	"papertrader/journal"
	"papertrader/market"
	"papertrader/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "A paper-trading ledger and order-execution engine",
	Long: `Papertrader simulates trading against real or scripted quotes with
exact decimal bookkeeping.

It provides tools for:
  - Executing market orders for stock, CFD, knockout and factor products
  - Working pending orders (limit, stop, stop-limit) against quote updates
  - Stop-loss, take-profit, knockout-barrier and margin-call triggers
  - Commission, spread and overnight-financing accounting per broker profile
  - Journaling every transaction and round trip to SQLite, CSV or Postgres`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles what a command needs after bootstrap: the validated
// config, an engine seeded with the configured portfolio, its journal
// and the quote source.
type app struct {
	cfg         *config.Config
	log         *logrus.Logger
	journal     journal.Journal
	engine      *engine.Engine
	portfolioID string
	source      market.Source
}

// openApp loads the config (defaults when path is empty), then wires
// logger, journal, engine and quote source. The configured portfolio
// is created and funded before openApp returns.
func openApp(ctx context.Context, path string) (*app, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	j, err := openJournal(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	catalog, err := cfg.Broker.Catalog()
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("broker catalog: %w", err)
	}

	eng := engine.New(catalog, j, log)
	pf, err := eng.CreatePortfolio(ctx, engine.CreatePortfolioRequest{
		OwnerID:        cfg.Portfolio.Owner,
		Name:           cfg.Portfolio.Name,
		Currency:       cfg.Portfolio.Currency,
		BrokerProfile:  cfg.Portfolio.Profile,
		InitialCapital: cfg.Portfolio.InitialCapital.Decimal,
	})
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("create portfolio: %w", err)
	}

	src, err := openQuoteSource(cfg)
	if err != nil {
		j.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		log:         log,
		journal:     j,
		engine:      eng,
		portfolioID: pf.ID,
		source:      src,
	}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.log.WithError(err).Warn("journal close")
	}
}

func openJournal(ctx context.Context, cfg *config.Config, log *logrus.Logger) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "", "none":
		return journal.Nop{}, nil
	case "sqlite":
		return journal.NewSQLite(envOr("PAPERTRADER_DB", cfg.Journal.DBPath))
	case "csv":
		return journal.NewCSV(cfg.Journal.Dir)
	case "postgres":
		return journal.NewPostgres(ctx, envOr("PAPERTRADER_PG_URL", cfg.Journal.URL), log)
	}
	return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
}

func openQuoteSource(cfg *config.Config) (market.Source, error) {
	switch cfg.Quotes.Source {
	case "", "static":
		now := time.Now().UTC()
		quotes := make([]market.Quote, 0, len(cfg.Quotes.Static))
		for _, q := range cfg.Quotes.Static {
			quotes = append(quotes, market.Quote{Symbol: q.Symbol, Price: q.Price.Decimal, Time: now})
		}
		return market.Static(quotes...), nil
	case "http":
		timeout, err := cfg.Quotes.ParseTimeout()
		if err != nil {
			return nil, fmt.Errorf("quotes timeout: %w", err)
		}
		return market.NewHTTPSource(market.HTTPOptions{
			BaseURL: cfg.Quotes.BaseURL,
			Path:    cfg.Quotes.Path,
			APIKey:  envOr("PAPERTRADER_API_KEY", cfg.Quotes.APIKey),
			Timeout: timeout,
			Retries: cfg.Quotes.Retries,
		})
	}
	return nil, fmt.Errorf("unknown quote source %q", cfg.Quotes.Source)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
