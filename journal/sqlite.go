package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordTransaction(t Transaction) error {
	_, err := j.db.Exec(`
		INSERT INTO transactions
		(tx_id, portfolio_id, type, symbol, position_id, order_id,
		 quantity, price, total_fees, cash_impact, balance, executed_at, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PortfolioID, t.Type, t.Symbol, t.PositionID, t.OrderID,
		t.Quantity.String(), t.Price.String(), t.TotalFees.String(),
		t.CashImpact.String(), t.Balance.String(), t.ExecutedAt, t.Description,
	)
	return err
}

func (j *SQLiteJournal) RecordPosition(p PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(position_id, portfolio_id, symbol, side, product, quantity, leverage,
		 entry_price, exit_price, margin_used, total_fees, realized_pnl,
		 opened_at, closed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PositionID, p.PortfolioID, p.Symbol, p.Side, p.Product,
		p.Quantity.String(), p.Leverage,
		p.EntryPrice.String(), p.ExitPrice.String(), p.MarginUsed.String(),
		p.TotalFees.String(), p.RealizedPnL.String(),
		p.OpenedAt, p.ClosedAt, p.Reason,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	var level any
	if e.MarginLevel != nil {
		level = e.MarginLevel.String()
	}
	_, err := j.db.Exec(`
		INSERT INTO equity
		(portfolio_id, time, cash, equity, margin_used, free_margin, margin_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PortfolioID, e.Time, e.Cash.String(), e.Equity.String(),
		e.MarginUsed.String(), e.FreeMargin.String(), level,
	)
	return err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
