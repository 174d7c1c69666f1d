package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS markets (
    market_id     TEXT PRIMARY KEY,
    slug          TEXT NOT NULL,
    question      TEXT NOT NULL,
    status        TEXT NOT NULL,
    up_token_id   TEXT NOT NULL,
    down_token_id TEXT NOT NULL,
    end_time      TEXT NOT NULL,
    up_price      REAL NOT NULL,
    down_price    REAL NOT NULL,
    resolution    TEXT
);

CREATE TABLE IF NOT EXISTS trades (
    trade_id    TEXT PRIMARY KEY,
    market_id   TEXT NOT NULL,
    direction   TEXT NOT NULL,
    token_id    TEXT NOT NULL,
    amount      REAL NOT NULL,
    price       REAL NOT NULL,
    fee         REAL NOT NULL,
    signal_type TEXT NOT NULL,
    pnl         REAL,
    resolved    INTEGER NOT NULL DEFAULT 0,
    timestamp   TEXT NOT NULL,
    alt_price   REAL,
    reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_open ON trades(market_id) WHERE resolved = 0;
CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(timestamp);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    balance       REAL NOT NULL,
    total_trades  INTEGER NOT NULL,
    wins          INTEGER NOT NULL,
    losses        INTEGER NOT NULL,
    total_pnl     REAL NOT NULL,
    max_drawdown  REAL NOT NULL,
    timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON portfolio_snapshots(timestamp);
`
