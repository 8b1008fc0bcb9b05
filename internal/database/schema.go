package database

// schema is the single source of truth for the store's tables. All
// statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id                TEXT PRIMARY KEY,
    market            TEXT NOT NULL,
    started_at        INTEGER NOT NULL,
    completed_at      INTEGER,
    phase             TEXT NOT NULL,
    status            TEXT NOT NULL,
    symbols           TEXT NOT NULL,
    signals_generated INTEGER NOT NULL DEFAULT 0,
    trades_executed   INTEGER NOT NULL DEFAULT 0,
    errors            TEXT,
    phase_timings     TEXT,
    portfolio_delta   REAL NOT NULL DEFAULT 0,
    daily_pnl         REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cycles_market_started
    ON cycles(market, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_status
    ON cycles(status);

CREATE TABLE IF NOT EXISTS trades (
    id          TEXT PRIMARY KEY,
    cycle_id    TEXT,
    symbol      TEXT NOT NULL,
    side        TEXT NOT NULL,
    quantity    REAL NOT NULL,
    price       REAL NOT NULL,
    executed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol
    ON trades(symbol, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_cycle
    ON trades(cycle_id);

CREATE TABLE IF NOT EXISTS positions (
    symbol   TEXT PRIMARY KEY,
    quantity REAL NOT NULL,
    avg_cost REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    total_value REAL NOT NULL,
    cash        REAL NOT NULL,
    daily_pnl   REAL NOT NULL DEFAULT 0,
    taken_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_taken
    ON portfolio_snapshots(taken_at DESC);
`
