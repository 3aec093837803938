package db

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signal_price_difference (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    binance REAL NOT NULL,
    hyper REAL NOT NULL,
    hyper_mark REAL NOT NULL,
    hyper_oracle REAL NOT NULL,
    difference REAL NOT NULL,
    bp REAL NOT NULL,
    level TEXT NOT NULL,
    used INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS signal_price_change (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    exchange TEXT NOT NULL,
    price REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    bp REAL NOT NULL,
    is_rising INTEGER NOT NULL,
    level TEXT NOT NULL,
    used INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS signal_bin_hyp_ratio (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    kind TEXT NOT NULL,
    ratio REAL NOT NULL,
    bin_price REAL NOT NULL,
    hyp_price REAL NOT NULL,
    level TEXT NOT NULL,
    used INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS event_price_change_and_diff (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    signal_level TEXT NOT NULL,
    signal_difference_id INTEGER NOT NULL,
    signal_change_id INTEGER NOT NULL,
    is_rising INTEGER NOT NULL,
    price REAL NOT NULL,
    last_price REAL NOT NULL,
    binance_price REAL NOT NULL,
    hyper_price REAL NOT NULL,
    bp REAL NOT NULL,
    hyper_price_at_order_close REAL,
    hyper_price_order_fill REAL,
    bin_price_at_order_close REAL,
    bin_price_order_fill REAL,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_position (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    kind TEXT NOT NULL,
    ba_bid REAL NOT NULL,
    ba_ask REAL NOT NULL,
    hl_bid REAL NOT NULL,
    hl_ask REAL NOT NULL,
    ba_balance REAL NOT NULL,
    hl_balance REAL NOT NULL,
    opportunity_size REAL NOT NULL,
    expiry INTEGER NOT NULL,
    order_ba_side TEXT NOT NULL,
    order_hl_side TEXT NOT NULL,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    local_id INTEGER PRIMARY KEY,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    client_id TEXT,
    server_id TEXT,
    price REAL NOT NULL,
    size REAL NOT NULL,
    filled_size REAL DEFAULT 0,
    order_type TEXT NOT NULL,
    side TEXT NOT NULL,
    position_effect TEXT NOT NULL,
    status TEXT NOT NULL,
    tif TEXT,
    create_lt INTEGER NOT NULL,
    update_lt INTEGER NOT NULL,
    update_tst INTEGER DEFAULT 0,
    strategy_id INTEGER NOT NULL,
    event_id INTEGER DEFAULT 0,
    open_order_client_id TEXT
);

CREATE TABLE IF NOT EXISTS ledger (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    quantity REAL NOT NULL,
    order_lid INTEGER DEFAULT 0,
    trade_lid TEXT,
    reason TEXT
);

CREATE TABLE IF NOT EXISTS positions (
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    qty REAL NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (exchange, symbol)
);

CREATE TABLE IF NOT EXISTS funding_rates (
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    rate REAL NOT NULL,
    datetime INTEGER NOT NULL,
    PRIMARY KEY (exchange, symbol)
);

CREATE TABLE IF NOT EXISTS candlesticks (
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    open_time INTEGER NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    PRIMARY KEY (exchange, symbol, open_time)
);

CREATE TABLE IF NOT EXISTS best_bid_ask (
    id INTEGER PRIMARY KEY,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    bin_ask REAL NOT NULL,
    bin_ask_size REAL NOT NULL,
    bin_bid REAL NOT NULL,
    bin_bid_size REAL NOT NULL,
    hyp_ask REAL NOT NULL,
    hyp_ask_size REAL NOT NULL,
    hyp_bid REAL NOT NULL,
    hyp_bid_size REAL NOT NULL,
    hyper_oracle REAL NOT NULL,
    hyper_mark REAL NOT NULL,
    spread_buy_hyper REAL NOT NULL,
    spread_sell_hyper REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS spread_mean (
    asset TEXT PRIMARY KEY,
    mean_buy REAL NOT NULL,
    mean_sell REAL NOT NULL,
    samples INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accuracy_log (
    id INTEGER PRIMARY KEY,
    event_id INTEGER NOT NULL,
    datetime INTEGER NOT NULL,
    asset TEXT NOT NULL,
    price_at_event REAL NOT NULL,
    price_at_fill REAL NOT NULL,
    price_at_close REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS symbol_flags (
    asset TEXT PRIMARY KEY,
    enabled INTEGER DEFAULT 1,
    blacklisted INTEGER DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_id);
CREATE INDEX IF NOT EXISTS idx_orders_server ON orders(server_id);
CREATE INDEX IF NOT EXISTS idx_signal_diff_asset ON signal_price_difference(asset, datetime);
CREATE INDEX IF NOT EXISTS idx_event1_asset ON event_price_change_and_diff(asset, datetime);
`
