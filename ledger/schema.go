package ledger

// Schema for the SQLite ledger. AUTOINCREMENT sequences plus timestamps give
// each session's records a monotonic order. The partial unique index on
// trades enforces "at most one open trade per session" at the storage layer
// as well as in the state machine.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL,
	last_active_at DATETIME NOT NULL,
	config_json TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	leverage REAL NOT NULL,
	entry_price REAL NOT NULL,
	size REAL NOT NULL,
	size_pct REAL NOT NULL,
	stop_price REAL NOT NULL,
	take_profit REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME,
	realized_pl REAL,
	close_reason TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions (id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_one_open
	ON trades(session_id) WHERE closed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_trades_session_opened
	ON trades(session_id, opened_at);

CREATE TABLE IF NOT EXISTS stop_adjustments (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL,
	stop_price REAL NOT NULL,
	take_profit REAL NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (trade_id) REFERENCES trades (id)
);

CREATE TABLE IF NOT EXISTS risk_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	severity TEXT NOT NULL,
	rule TEXT NOT NULL,
	description TEXT NOT NULL,
	action TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_session
	ON risk_events(session_id, created_at);

CREATE TABLE IF NOT EXISTS cost_records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	call_type TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	estimated_cost REAL NOT NULL,
	latency_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_records_session
	ON cost_records(session_id, created_at);
`
