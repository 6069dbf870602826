package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"papertrader/broker"
	"papertrader/config"
	"papertrader/engine"
	"papertrader/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted simulation from a config file",
	Long: `Run a trading simulation using settings from a configuration file.

The config file specifies the portfolio, broker profile, the orders to
place and the quote steps to play through the trigger evaluator. Step
delays advance a simulated clock, so a 24h delay crosses a financing
day and charges overnight fees.

Example:
  papertrader run -f examples/configs/basic.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, runConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	fmt.Printf("Running simulation with config: %s\n", runConfigPath)
	fmt.Printf("  Portfolio: %s (%s %s, profile %s)\n",
		cfg.Portfolio.Name, cfg.Portfolio.InitialCapital, cfg.Portfolio.Currency, profileID(cfg))
	fmt.Println()

	clock := time.Now().UTC()
	store := market.NewStore()

	for i, o := range cfg.Simulation.Orders {
		if err := placeSimOrder(ctx, a, o, clock); err != nil {
			return fmt.Errorf("simulation order %d: %w", i+1, err)
		}
	}

	for i, step := range cfg.Simulation.Steps {
		delay, err := step.ParseDelay()
		if err != nil {
			return fmt.Errorf("invalid delay in step %d: %w", i+1, err)
		}
		prev := clock
		clock = clock.Add(delay)

		if utcDay(prev) != utcDay(clock) {
			txs, err := a.engine.ApplyOvernightFees(ctx, a.portfolioID, clock)
			if err != nil {
				return fmt.Errorf("overnight financing: %w", err)
			}
			if len(txs) > 0 {
				total := decimal.Zero
				for _, tx := range txs {
					total = total.Add(tx.CashImpact)
				}
				fmt.Printf("Charged overnight financing on %d position(s): %s\n", len(txs), total)
			}
		}

		batch := market.Batch{}
		for _, q := range step.Quotes {
			quote := market.Quote{Symbol: q.Symbol, Price: q.Price.Decimal, Time: clock}
			batch.Set(quote)
			store.Set(quote)
		}
		if delay > 0 {
			fmt.Printf("Step %d (after %s): %s\n", i+1, delay, quoteLine(step.Quotes))
		} else {
			fmt.Printf("Step %d: %s\n", i+1, quoteLine(step.Quotes))
		}

		report, err := a.engine.CheckTriggers(ctx, batch)
		if err != nil {
			return fmt.Errorf("trigger sweep: %w", err)
		}
		printReport(report)
	}

	fmt.Println("\nFinal results:")
	metrics, err := a.engine.Metrics(ctx, a.portfolioID, store.Snapshot())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	printMetrics(metrics, cfg.Portfolio.Currency)

	fees, err := a.engine.FeeSummary(ctx, a.portfolioID)
	if err != nil {
		return fmt.Errorf("fee summary: %w", err)
	}
	fmt.Printf("  Fees paid: commission %s, spread %s, overnight %s (total %s)\n",
		fees.Commission, fees.Spread, fees.Overnight, fees.Total)

	open, err := a.engine.OpenPositions(ctx, a.portfolioID)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	snap := store.Snapshot()
	for _, pos := range open {
		line := fmt.Sprintf("  Still open: %s %s %s x%s @ %s", pos.Side, pos.Product, pos.Symbol, pos.Quantity, pos.EntryPrice)
		if q, ok := snap.Get(pos.Symbol); ok {
			line += fmt.Sprintf(" (unrealized %s)", pos.UnrealizedPnL(q.Price))
		}
		fmt.Println(line)
	}

	switch cfg.Journal.Type {
	case "sqlite":
		fmt.Printf("\nJournal written to: %s\n", envOr("PAPERTRADER_DB", cfg.Journal.DBPath))
	case "csv":
		fmt.Printf("\nJournal written to: %s\n", cfg.Journal.Dir)
	case "postgres":
		fmt.Println("\nJournal written to Postgres")
	}

	return nil
}

func placeSimOrder(ctx context.Context, a *app, o config.SimOrder, at time.Time) error {
	if o.Type == "market" {
		pos, err := a.engine.ExecuteMarketOrder(ctx, engine.MarketOrder{
			PortfolioID: a.portfolioID,
			Symbol:      o.Symbol,
			Side:        broker.Side(o.Side),
			Product:     broker.ProductType(o.Product),
			Quantity:    o.Quantity.Decimal,
			Price:       o.Price.Decimal,
			Leverage:    o.Leverage,
			Barrier:     o.Barrier.Decimal,
			StopLoss:    levelPtr(o.StopLoss),
			TakeProfit:  levelPtr(o.TakeProfit),
			Time:        at,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Opened %s %s %s x%s @ %s (margin %s, fees %s)\n",
			pos.Side, pos.Product, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.MarginUsed, pos.TotalFeesPaid)
		return nil
	}

	order, err := a.engine.CreatePendingOrder(ctx, engine.OrderRequest{
		PortfolioID: a.portfolioID,
		Symbol:      o.Symbol,
		Side:        broker.Side(o.Side),
		Product:     broker.ProductType(o.Product),
		Type:        engine.OrderType(o.Type),
		Quantity:    o.Quantity.Decimal,
		Leverage:    o.Leverage,
		Barrier:     o.Barrier.Decimal,
		LimitPrice:  levelPtr(o.LimitPrice),
		StopPrice:   levelPtr(o.StopPrice),
		StopLoss:    levelPtr(o.StopLoss),
		TakeProfit:  levelPtr(o.TakeProfit),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Placed %s order: %s %s x%s\n", order.Type, order.Side, order.Symbol, order.Quantity)
	return nil
}

func printReport(r engine.TriggerReport) {
	for _, t := range r.TriggeredPositions {
		fmt.Printf("  Closed %s %s x%s: %s at %s (P/L %s)\n",
			t.Position.Side, t.Position.Symbol, t.Position.Quantity, t.Reason, t.Price, t.Position.RealizedPnL)
	}
	for _, ex := range r.ExecutedOrders {
		if ex.Position != nil {
			fmt.Printf("  Filled %s order: %s %s x%s @ %s\n",
				ex.Order.Type, ex.Order.Side, ex.Order.Symbol, ex.Order.Quantity, ex.Position.EntryPrice)
		} else {
			fmt.Printf("  Cancelled %s order on %s: %s\n",
				ex.Order.Type, ex.Order.Symbol, ex.Order.CancelReason)
		}
	}
	for _, s := range r.SkippedSymbols {
		fmt.Printf("  Skipped %s: no quote\n", s)
	}
	if r.Empty() && len(r.SkippedSymbols) == 0 {
		fmt.Println("  No triggers")
	}
}

func printMetrics(m engine.Metrics, currency string) {
	fmt.Printf("  Cash: %s %s\n", m.Cash, currency)
	fmt.Printf("  Equity: %s %s (margin used %s, free %s)\n", m.Equity, currency, m.MarginUsed, m.FreeMargin)
	fmt.Printf("  Realized P/L: %s, unrealized: %s\n", m.RealizedPnL, m.UnrealizedPnL)
	fmt.Printf("  Trades: %d (%d won, %d lost, win rate %s%%)\n",
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate.StringFixed(1))
	fmt.Printf("  Open positions: %d, pending orders: %d\n", m.OpenPositions, m.PendingOrders)
	if m.MarginLevel != nil {
		fmt.Printf("  Margin level: %s%%\n", m.MarginLevel.StringFixed(1))
	}
	if m.LiquidationRisk {
		fmt.Println("  WARNING: margin level below the liquidation threshold")
	} else if m.MarginWarning {
		fmt.Println("  WARNING: margin level below the warning threshold")
	}
	if len(m.MissingQuotes) > 0 {
		fmt.Printf("  No quotes for: %v\n", m.MissingQuotes)
	}
}

func quoteLine(quotes []config.StaticQuote) string {
	line := ""
	for i, q := range quotes {
		if i > 0 {
			line += ", "
		}
		line += fmt.Sprintf("%s=%s", q.Symbol, q.Price)
	}
	return line
}

func profileID(cfg *config.Config) string {
	if cfg.Portfolio.Profile != "" {
		return cfg.Portfolio.Profile
	}
	return broker.DefaultProfileID
}

func levelPtr(m config.Money) *decimal.Decimal {
	if m.IsZero() {
		return nil
	}
	d := m.Decimal
	return &d
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
