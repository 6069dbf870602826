package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"papertrader/market"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll quotes and evaluate triggers on a cadence",
	Long: `Poll the configured quote source on an interval and run the trigger
evaluator against each batch: pending orders fill, stop-loss and
take-profit levels close positions, knockouts die at their barrier and
margin calls liquidate. Once per day after the configured UTC hour,
open leveraged positions are charged overnight financing.

Quotes are fetched before any portfolio lock is taken; a symbol whose
fetch fails is skipped for the pass and retried on the next one.

Example:
  papertrader watch -f config.yaml -i 10s`,
	RunE: runWatch,
}

var (
	watchConfigPath string
	watchInterval   time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "sweep interval (overrides config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, watchConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := watchInterval
	if interval <= 0 {
		interval, err = a.cfg.Watch.ParseInterval()
		if err != nil {
			return fmt.Errorf("watch interval: %w", err)
		}
	}

	// Scripted orders from the config seed the book so a fresh watch
	// session has something to manage.
	now := time.Now().UTC()
	for i, o := range a.cfg.Simulation.Orders {
		if err := placeSimOrder(ctx, a, o, now); err != nil {
			return fmt.Errorf("simulation order %d: %w", i+1, err)
		}
	}

	fmt.Printf("Watching every %s (Ctrl-C to stop)\n", interval)

	store := market.NewStore()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastFinancingDay string
	for {
		watchSweep(ctx, a, store, &lastFinancingDay)
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped.")
			return nil
		case <-ticker.C:
		}
	}
}

// watchSweep runs one pass: fetch quotes, charge financing when a new
// UTC day has begun, evaluate triggers and log the portfolio state.
func watchSweep(ctx context.Context, a *app, store *market.Store, lastFinancingDay *string) {
	symbols := watchSymbols(ctx, a)
	if len(symbols) == 0 {
		return
	}

	timeout, _ := a.cfg.Quotes.ParseTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batch, missing := market.Fetch(ctx, a.source, symbols, timeout)
	for _, q := range batch {
		store.Set(q)
	}
	if len(missing) > 0 {
		a.log.WithField("symbols", missing).Warn("quotes unavailable this pass")
	}

	now := time.Now().UTC()
	if now.Hour() >= a.cfg.Watch.OvernightHourUTC {
		day := utcDay(now)
		if day != *lastFinancingDay {
			txs, err := a.engine.ApplyOvernightFees(ctx, a.portfolioID, now)
			if err != nil {
				a.log.WithError(err).Error("overnight financing")
			} else if len(txs) > 0 {
				a.log.WithField("positions", len(txs)).Info("overnight financing charged")
			}
			*lastFinancingDay = day
		}
	}

	report, err := a.engine.CheckTriggers(ctx, batch)
	if err != nil {
		a.log.WithError(err).Error("trigger sweep")
		return
	}
	for _, t := range report.TriggeredPositions {
		a.log.WithFields(logrus.Fields{
			"position": t.Position.ID,
			"symbol":   t.Position.Symbol,
			"reason":   t.Reason,
			"price":    t.Price,
			"pnl":      t.Position.RealizedPnL,
		}).Warn("position auto-closed")
	}
	for _, ex := range report.ExecutedOrders {
		if ex.Position != nil {
			a.log.WithFields(logrus.Fields{
				"order":    ex.Order.ID,
				"symbol":   ex.Order.Symbol,
				"type":     ex.Order.Type,
				"position": ex.Position.ID,
				"price":    ex.Position.EntryPrice,
			}).Info("order filled")
		} else {
			a.log.WithFields(logrus.Fields{
				"order":  ex.Order.ID,
				"symbol": ex.Order.Symbol,
				"type":   ex.Order.Type,
				"reason": ex.Order.CancelReason,
			}).Warn("order cancelled")
		}
	}

	metrics, err := a.engine.Metrics(ctx, a.portfolioID, store.Snapshot())
	if err != nil {
		a.log.WithError(err).Error("metrics")
		return
	}
	fields := logrus.Fields{
		"cash":    metrics.Cash,
		"equity":  metrics.Equity,
		"open":    metrics.OpenPositions,
		"pending": metrics.PendingOrders,
	}
	if metrics.MarginLevel != nil {
		fields["marginLevel"] = metrics.MarginLevel.StringFixed(1)
	}
	switch {
	case metrics.LiquidationRisk:
		a.log.WithFields(fields).Warn("margin level below liquidation threshold")
	case metrics.MarginWarning:
		a.log.WithFields(fields).Warn("margin level below warning threshold")
	default:
		a.log.WithFields(fields).Info("portfolio")
	}
}

// watchSymbols is the union of the configured watch list and every
// symbol the open book needs a quote for.
func watchSymbols(ctx context.Context, a *app) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, s := range a.cfg.Watch.Symbols {
		add(s)
	}
	for _, pf := range a.engine.Portfolios(ctx) {
		open, err := a.engine.OpenPositions(ctx, pf.ID)
		if err == nil {
			for _, pos := range open {
				add(pos.Symbol)
			}
		}
		pending, err := a.engine.PendingOrders(ctx, pf.ID)
		if err == nil {
			for _, o := range pending {
				add(o.Symbol)
			}
		}
	}
	sort.Strings(out)
	return out
}
