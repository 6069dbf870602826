package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrRecordNotFound = errors.New("journal record not found")

const txColumns = `tx_id, portfolio_id, type, symbol, position_id, order_id,
	quantity, price, total_fees, cash_impact, balance, executed_at, description`

const positionColumns = `position_id, portfolio_id, symbol, side, product, quantity, leverage,
	entry_price, exit_price, margin_used, total_fees, realized_pnl, opened_at, closed_at, reason`

// GetTransaction returns a single transaction by ID.
func (j *SQLiteJournal) GetTransaction(txID string) (Transaction, error) {
	row := j.db.QueryRow(`
		SELECT `+txColumns+`
		FROM transactions
		WHERE tx_id = ?`, txID)

	rec, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %q: %w", txID, ErrRecordNotFound)
		}
		return Transaction{}, err
	}
	return rec, nil
}

// ListTransactionsBetween returns transactions executed within
// [start, end), oldest first. An empty portfolioID matches all
// portfolios.
func (j *SQLiteJournal) ListTransactionsBetween(portfolioID string, start, end time.Time) ([]Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE executed_at >= ? AND executed_at < ?`
	args := []any{start, end}
	if portfolioID != "" {
		query += ` AND portfolio_id = ?`
		args = append(args, portfolioID)
	}
	query += ` ORDER BY executed_at ASC, tx_id ASC`

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListClosedPositions returns a portfolio's completed round trips,
// oldest close first.
func (j *SQLiteJournal) ListClosedPositions(portfolioID string) ([]PositionRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+positionColumns+`
		FROM positions
		WHERE portfolio_id = ?
		ORDER BY closed_at ASC, position_id ASC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var rec PositionRecord
		var qty, entry, exit, marginUsed, fees, pnl string
		if err := rows.Scan(
			&rec.PositionID,
			&rec.PortfolioID,
			&rec.Symbol,
			&rec.Side,
			&rec.Product,
			&qty,
			&rec.Leverage,
			&entry,
			&exit,
			&marginUsed,
			&fees,
			&pnl,
			&rec.OpenedAt,
			&rec.ClosedAt,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		if err := parseDecimals(map[*decimal.Decimal]string{
			&rec.Quantity:    qty,
			&rec.EntryPrice:  entry,
			&rec.ExitPrice:   exit,
			&rec.MarginUsed:  marginUsed,
			&rec.TotalFees:   fees,
			&rec.RealizedPnL: pnl,
		}); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListEquityBetween returns a portfolio's equity snapshots within
// [start, end), oldest first.
func (j *SQLiteJournal) ListEquityBetween(portfolioID string, start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT portfolio_id, time, cash, equity, margin_used, free_margin, margin_level
		FROM equity
		WHERE portfolio_id = ? AND time >= ? AND time < ?
		ORDER BY time ASC`, portfolioID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var rec EquitySnapshot
		var cash, equity, marginUsed, freeMargin string
		var level sql.NullString
		if err := rows.Scan(
			&rec.PortfolioID,
			&rec.Time,
			&cash,
			&equity,
			&marginUsed,
			&freeMargin,
			&level,
		); err != nil {
			return nil, err
		}
		if err := parseDecimals(map[*decimal.Decimal]string{
			&rec.Cash:       cash,
			&rec.Equity:     equity,
			&rec.MarginUsed: marginUsed,
			&rec.FreeMargin: freeMargin,
		}); err != nil {
			return nil, err
		}
		if level.Valid {
			d, err := decimal.NewFromString(level.String)
			if err != nil {
				return nil, fmt.Errorf("journal equity margin_level: %w", err)
			}
			rec.MarginLevel = &d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var rec Transaction
	var qty, price, fees, impact, balance string
	if err := row.Scan(
		&rec.ID,
		&rec.PortfolioID,
		&rec.Type,
		&rec.Symbol,
		&rec.PositionID,
		&rec.OrderID,
		&qty,
		&price,
		&fees,
		&impact,
		&balance,
		&rec.ExecutedAt,
		&rec.Description,
	); err != nil {
		return Transaction{}, err
	}
	if err := parseDecimals(map[*decimal.Decimal]string{
		&rec.Quantity:   qty,
		&rec.Price:      price,
		&rec.TotalFees:  fees,
		&rec.CashImpact: impact,
		&rec.Balance:    balance,
	}); err != nil {
		return Transaction{}, err
	}
	return rec, nil
}

func parseDecimals(fields map[*decimal.Decimal]string) error {
	for dst, s := range fields {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("journal decimal column: %w", err)
		}
		*dst = d
	}
	return nil
}
