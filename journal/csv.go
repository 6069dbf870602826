package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CSVJournal writes one file per record kind under a directory:
// transactions.csv, positions.csv, equity.csv. Rows are flushed as
// they are written so a crash loses at most the current row.
type CSVJournal struct {
	txs       *csv.Writer
	positions *csv.Writer
	equity    *csv.Writer
	files     []*os.File
}

func NewCSV(dir string) (*CSVJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &CSVJournal{}
	headers := []struct {
		name   string
		fields []string
		dst    **csv.Writer
	}{
		{"transactions.csv", []string{
			"tx_id", "portfolio_id", "type", "symbol", "position_id", "order_id",
			"quantity", "price", "total_fees", "cash_impact", "balance",
			"executed_at", "description",
		}, &j.txs},
		{"positions.csv", []string{
			"position_id", "portfolio_id", "symbol", "side", "product",
			"quantity", "leverage", "entry_price", "exit_price", "margin_used",
			"total_fees", "realized_pnl", "opened_at", "closed_at", "reason",
		}, &j.positions},
		{"equity.csv", []string{
			"portfolio_id", "time", "cash", "equity", "margin_used",
			"free_margin", "margin_level",
		}, &j.equity},
	}

	for _, h := range headers {
		f, err := os.Create(filepath.Join(dir, h.name))
		if err != nil {
			j.Close()
			return nil, fmt.Errorf("create %s: %w", h.name, err)
		}
		j.files = append(j.files, f)

		w := csv.NewWriter(f)
		if err := w.Write(h.fields); err != nil {
			j.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			j.Close()
			return nil, err
		}
		*h.dst = w
	}

	return j, nil
}

func (j *CSVJournal) RecordTransaction(t Transaction) error {
	if err := j.txs.Write([]string{
		t.ID,
		t.PortfolioID,
		t.Type,
		t.Symbol,
		t.PositionID,
		t.OrderID,
		t.Quantity.String(),
		t.Price.String(),
		t.TotalFees.String(),
		t.CashImpact.String(),
		t.Balance.String(),
		t.ExecutedAt.Format(time.RFC3339),
		t.Description,
	}); err != nil {
		return err
	}
	j.txs.Flush()
	return j.txs.Error()
}

func (j *CSVJournal) RecordPosition(p PositionRecord) error {
	if err := j.positions.Write([]string{
		p.PositionID,
		p.PortfolioID,
		p.Symbol,
		p.Side,
		p.Product,
		p.Quantity.String(),
		strconv.Itoa(p.Leverage),
		p.EntryPrice.String(),
		p.ExitPrice.String(),
		p.MarginUsed.String(),
		p.TotalFees.String(),
		p.RealizedPnL.String(),
		p.OpenedAt.Format(time.RFC3339),
		p.ClosedAt.Format(time.RFC3339),
		p.Reason,
	}); err != nil {
		return err
	}
	j.positions.Flush()
	return j.positions.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	level := ""
	if e.MarginLevel != nil {
		level = e.MarginLevel.String()
	}
	if err := j.equity.Write([]string{
		e.PortfolioID,
		e.Time.Format(time.RFC3339),
		e.Cash.String(),
		e.Equity.String(),
		e.MarginUsed.String(),
		e.FreeMargin.String(),
		level,
	}); err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	var firstErr error
	for _, w := range []*csv.Writer{j.txs, j.positions, j.equity} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range j.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
