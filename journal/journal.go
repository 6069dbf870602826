// Package journal persists the engine's audit trail: every ledger
// transaction, every completed round trip and periodic equity
// snapshots. The in-memory ledger stays the source of truth; the
// journal is an append-only sink behind it, so implementations never
// reject a record for business reasons, only for I/O ones.
package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction mirrors one ledger cash movement.
type Transaction struct {
	ID          string
	PortfolioID string
	Type        string
	Symbol      string
	PositionID  string
	OrderID     string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalFees   decimal.Decimal
	CashImpact  decimal.Decimal
	Balance     decimal.Decimal
	ExecutedAt  time.Time
	Description string
}

// PositionRecord is a completed round trip: a position together with
// its exit. Written once, when the position closes.
type PositionRecord struct {
	PositionID  string
	PortfolioID string
	Symbol      string
	Side        string
	Product     string
	Quantity    decimal.Decimal
	Leverage    int
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	MarginUsed  decimal.Decimal
	TotalFees   decimal.Decimal
	RealizedPnL decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    time.Time
	Reason      string
}

// EquitySnapshot is one point of a portfolio's equity curve.
// MarginLevel is nil while no margin is in use.
type EquitySnapshot struct {
	PortfolioID string
	Time        time.Time
	Cash        decimal.Decimal
	Equity      decimal.Decimal
	MarginUsed  decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel *decimal.Decimal
}

type Journal interface {
	RecordTransaction(Transaction) error
	RecordPosition(PositionRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Nop discards everything. Used when journaling is disabled and in
// tests that don't care about persistence.
type Nop struct{}

func (Nop) RecordTransaction(Transaction) error { return nil }
func (Nop) RecordPosition(PositionRecord) error { return nil }
func (Nop) RecordEquity(EquitySnapshot) error   { return nil }
func (Nop) Close() error                        { return nil }
