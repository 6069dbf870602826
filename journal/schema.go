package journal

// Money columns are TEXT holding decimal strings. SQLite REAL would
// reintroduce the float drift the decimal ledger exists to avoid;
// strings round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	tx_id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	type TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	order_id TEXT NOT NULL DEFAULT '',
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	total_fees TEXT NOT NULL,
	cash_impact TEXT NOT NULL,
	balance TEXT NOT NULL,
	executed_at DATETIME NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tx_portfolio_time ON transactions(portfolio_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_tx_time ON transactions(executed_at);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	product TEXT NOT NULL,
	quantity TEXT NOT NULL,
	leverage INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	total_fees TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id, closed_at);

CREATE TABLE IF NOT EXISTS equity (
	portfolio_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	cash TEXT NOT NULL,
	equity TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	free_margin TEXT NOT NULL,
	margin_level TEXT
);

CREATE INDEX IF NOT EXISTS idx_equity_portfolio_time ON equity(portfolio_id, time);
`
