package sqlite

// Schema is applied on every Open; every statement is idempotent. Times are
// RFC 3339 text in UTC and money is decimal text.
const Schema = `
CREATE TABLE IF NOT EXISTS trading_sessions (
	id TEXT PRIMARY KEY,
	trader_id TEXT NOT NULL,
	trading_date TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	version INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (trader_id, trading_date)
);

CREATE INDEX IF NOT EXISTS idx_trading_sessions_date ON trading_sessions(trading_date);

CREATE TABLE IF NOT EXISTS trade_journal (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	trader_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	shares INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	closed_at TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_journal_session ON trade_journal(session_id, closed_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL,
	detail TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
`
