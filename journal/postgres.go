package journal

import (
	"context"
	"fmt"
	"io"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	tx_id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	type TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	order_id TEXT NOT NULL DEFAULT '',
	quantity NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	total_fees NUMERIC NOT NULL,
	cash_impact NUMERIC NOT NULL,
	balance NUMERIC NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tx_portfolio_time ON transactions(portfolio_id, executed_at);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	product TEXT NOT NULL,
	quantity NUMERIC NOT NULL,
	leverage INTEGER NOT NULL,
	entry_price NUMERIC NOT NULL,
	exit_price NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	total_fees NUMERIC NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id, closed_at);

CREATE TABLE IF NOT EXISTS equity (
	portfolio_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	cash NUMERIC NOT NULL,
	equity NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	free_margin NUMERIC NOT NULL,
	margin_level NUMERIC
);

CREATE INDEX IF NOT EXISTS idx_equity_portfolio_time ON equity(portfolio_id, time);
`

const postgresQueueSize = 1024

// PostgresJournal writes records to Postgres through a buffered
// queue. Record calls enqueue and return immediately; a single
// background writer drains the queue, so the ledger never waits on a
// network round trip. When the queue is full the record is dropped
// and logged, the ledger is not slowed down.
type PostgresJournal struct {
	pool  *pgxpool.Pool
	queue chan any
	done  chan struct{}
	log   *logrus.Logger
}

func NewPostgres(ctx context.Context, url string, log *logrus.Logger) (*PostgresJournal, error) {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j := &PostgresJournal{
		pool:  pool,
		queue: make(chan any, postgresQueueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go j.drain()
	return j, nil
}

func (j *PostgresJournal) RecordTransaction(t Transaction) error { return j.enqueue(t) }
func (j *PostgresJournal) RecordPosition(p PositionRecord) error { return j.enqueue(p) }
func (j *PostgresJournal) RecordEquity(e EquitySnapshot) error   { return j.enqueue(e) }

func (j *PostgresJournal) enqueue(rec any) error {
	select {
	case j.queue <- rec:
		return nil
	default:
		j.log.WithField("record", fmt.Sprintf("%T", rec)).
			Warn("postgres journal queue full, record dropped")
		return nil
	}
}

func (j *PostgresJournal) drain() {
	defer close(j.done)
	for rec := range j.queue {
		if err := j.write(rec); err != nil {
			j.log.WithError(err).
				WithField("record", fmt.Sprintf("%T", rec)).
				Error("postgres journal write failed")
		}
	}
}

func (j *PostgresJournal) write(rec any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch r := rec.(type) {
	case Transaction:
		_, err := j.pool.Exec(ctx, `
			INSERT INTO transactions
			(tx_id, portfolio_id, type, symbol, position_id, order_id,
			 quantity, price, total_fees, cash_impact, balance, executed_at, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.PortfolioID, r.Type, r.Symbol, r.PositionID, r.OrderID,
			r.Quantity, r.Price, r.TotalFees, r.CashImpact, r.Balance,
			r.ExecutedAt, r.Description,
		)
		return err
	case PositionRecord:
		_, err := j.pool.Exec(ctx, `
			INSERT INTO positions
			(position_id, portfolio_id, symbol, side, product, quantity, leverage,
			 entry_price, exit_price, margin_used, total_fees, realized_pnl,
			 opened_at, closed_at, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			r.PositionID, r.PortfolioID, r.Symbol, r.Side, r.Product,
			r.Quantity, r.Leverage, r.EntryPrice, r.ExitPrice, r.MarginUsed,
			r.TotalFees, r.RealizedPnL, r.OpenedAt, r.ClosedAt, r.Reason,
		)
		return err
	case EquitySnapshot:
		_, err := j.pool.Exec(ctx, `
			INSERT INTO equity
			(portfolio_id, time, cash, equity, margin_used, free_margin, margin_level)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.PortfolioID, r.Time, r.Cash, r.Equity, r.MarginUsed,
			r.FreeMargin, r.MarginLevel,
		)
		return err
	default:
		return fmt.Errorf("unknown journal record %T", rec)
	}
}

// Close drains what is queued, then closes the pool.
func (j *PostgresJournal) Close() error {
	close(j.queue)
	<-j.done
	j.pool.Close()
	return nil
}
