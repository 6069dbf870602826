package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"papertrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query and display journal records from the SQLite database.

Subcommands:
  tx        - Show one ledger transaction by ID
  day       - List transactions executed on a specific day
  positions - List completed round trips for a portfolio

Examples:
  papertrader journal tx 01J8ZK3V9X...
  papertrader journal day 2026-08-25
  papertrader journal positions <portfolio-id>`,
}

var journalTxCmd = &cobra.Command{
	Use:   "tx <transaction-id>",
	Short: "Show one ledger transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTx,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List transactions executed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalPositionsCmd = &cobra.Command{
	Use:   "positions <portfolio-id>",
	Short: "List completed round trips for a portfolio",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPositions,
}

var (
	journalDBPath    string
	journalPortfolio string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTxCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalPositionsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./papertrader.db", "path to SQLite journal DB")
	journalDayCmd.Flags().StringVarP(&journalPortfolio, "portfolio", "p", "", "limit to one portfolio ID")
}

func runJournalTx(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(envOr("PAPERTRADER_DB", journalDBPath))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	tx, err := j.GetTransaction(args[0])
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	fmt.Printf("Transaction %s\n", tx.ID)
	fmt.Printf("  Portfolio: %s\n", tx.PortfolioID)
	fmt.Printf("  Type: %s\n", tx.Type)
	if tx.Symbol != "" {
		fmt.Printf("  Symbol: %s (x%s @ %s)\n", tx.Symbol, tx.Quantity, tx.Price)
	}
	if tx.PositionID != "" {
		fmt.Printf("  Position: %s\n", tx.PositionID)
	}
	if tx.OrderID != "" {
		fmt.Printf("  Order: %s\n", tx.OrderID)
	}
	fmt.Printf("  Fees: %s\n", tx.TotalFees)
	fmt.Printf("  Cash impact: %s (balance %s)\n", tx.CashImpact, tx.Balance)
	fmt.Printf("  Executed: %s\n", tx.ExecutedAt.Format(time.RFC3339))
	if tx.Description != "" {
		fmt.Printf("  %s\n", tx.Description)
	}
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(envOr("PAPERTRADER_DB", journalDBPath))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	txs, err := j.ListTransactionsBetween(journalPortfolio, start, end)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}
	if len(txs) == 0 {
		fmt.Println("No transactions.")
		return nil
	}

	for _, tx := range txs {
		line := fmt.Sprintf("%s  %-13s", tx.ExecutedAt.Format("15:04:05"), tx.Type)
		if tx.Symbol != "" {
			line += fmt.Sprintf(" %-8s x%s @ %s", tx.Symbol, tx.Quantity, tx.Price)
		}
		line += fmt.Sprintf("  impact %s, balance %s", tx.CashImpact, tx.Balance)
		fmt.Println(line)
	}
	fmt.Printf("%d transaction(s)\n", len(txs))
	return nil
}

func runJournalPositions(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(envOr("PAPERTRADER_DB", journalDBPath))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListClosedPositions(args[0])
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("No closed positions.")
		return nil
	}

	for _, rec := range recs {
		fmt.Printf("%s  %-5s %-8s %-8s x%-8s %s -> %s  P/L %s (%s)\n",
			rec.ClosedAt.Format("2006-01-02 15:04"), rec.Side, rec.Product, rec.Symbol,
			rec.Quantity, rec.EntryPrice, rec.ExitPrice, rec.RealizedPnL, rec.Reason)
	}
	fmt.Printf("%d closed position(s)\n", len(recs))
	return nil
}

func dayBounds(day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour), nil
}
