// Package db persists the engine's append-only rows through a minimal typed
// surface: insert, update-by-key, select and monotonic id allocation.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("record not found")

// Store wraps the database with typed queries and id allocation.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	counters map[string]uint64
}

// NewStore creates a Store over an open database.
func NewStore(d *Database) *Store {
	return &Store{db: d.DB, counters: make(map[string]uint64)}
}

// NextIndex allocates the next monotonic id for a table. Counters are seeded
// from MAX(id) so restarts continue the sequence.
func (s *Store) NextIndex(ctx context.Context, table string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, seeded := s.counters[table]
	if !seeded {
		var max sql.NullInt64
		// table names come from compile-time constants only
		if err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM "+table).Scan(&max); err != nil {
			return 0, fmt.Errorf("seed counter %s: %w", table, err)
		}
		next = uint64(max.Int64)
	}
	next++
	s.counters[table] = next
	return next, nil
}

// ----------------------------------------
// Signals
// ----------------------------------------

func (s *Store) InsertSignalPriceDifference(ctx context.Context, r SignalPriceDifference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_price_difference
			(id, datetime, asset, binance, hyper, hyper_mark, hyper_oracle, difference, bp, level, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Datetime, r.Asset, r.Binance, r.Hyper, r.HyperMark, r.HyperOracle, r.Difference, r.Bp, r.Level, r.Used)
	if err != nil {
		return fmt.Errorf("insert signal_price_difference: %w", err)
	}
	return nil
}

func (s *Store) InsertSignalPriceChange(ctx context.Context, r SignalPriceChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_price_change
			(id, datetime, asset, exchange, price, high, low, bp, is_rising, level, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Datetime, r.Asset, r.Exchange, r.Price, r.High, r.Low, r.Bp, r.IsRising, r.Level, r.Used)
	if err != nil {
		return fmt.Errorf("insert signal_price_change: %w", err)
	}
	return nil
}

func (s *Store) InsertSignalRatio(ctx context.Context, r SignalBinHypRatio) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_bin_hyp_ratio
			(id, datetime, asset, kind, ratio, bin_price, hyp_price, level, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Datetime, r.Asset, r.Kind, r.Ratio, r.BinPrice, r.HypPrice, r.Level, r.Used)
	if err != nil {
		return fmt.Errorf("insert signal_bin_hyp_ratio: %w", err)
	}
	return nil
}

// ----------------------------------------
// Events
// ----------------------------------------

func (s *Store) InsertEvent1(ctx context.Context, e EventPriceChangeAndDiff) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_price_change_and_diff
			(id, datetime, asset, signal_level, signal_difference_id, signal_change_id, is_rising,
			 price, last_price, binance_price, hyper_price, bp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Datetime, e.Asset, e.SignalLevel, e.SignalDifferenceID, e.SignalChangeID, e.IsRising,
		e.Price, e.LastPrice, e.BinancePrice, e.HyperPrice, e.Bp, e.Status)
	if err != nil {
		return fmt.Errorf("insert event_price_change_and_diff: %w", err)
	}
	return nil
}

func (s *Store) UpdateEvent1Status(ctx context.Context, eventID uint64, status EventStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_price_change_and_diff SET status = ? WHERE id = ?`, status, eventID)
	if err != nil {
		return fmt.Errorf("update event %d status: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update event %d status: unmatched count %d", eventID, n)
	}
	return nil
}

// UpdateEvent1HyperPrices appends the realized Hyperliquid prices to an event.
func (s *Store) UpdateEvent1HyperPrices(ctx context.Context, eventID uint64, atClose, atFill float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_price_change_and_diff
		SET hyper_price_at_order_close = ?, hyper_price_order_fill = ?
		WHERE id = ?
	`, atClose, atFill, eventID)
	if err != nil {
		return fmt.Errorf("update event %d hyper prices: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update event %d hyper prices: unmatched count %d", eventID, n)
	}
	return nil
}

func (s *Store) GetEvent1(ctx context.Context, eventID uint64) (EventPriceChangeAndDiff, error) {
	var (
		e                              EventPriceChangeAndDiff
		hypClose, hypFill, binClose    sql.NullFloat64
		binFill                        sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, datetime, asset, signal_level, signal_difference_id, signal_change_id, is_rising,
		       price, last_price, binance_price, hyper_price, bp,
		       hyper_price_at_order_close, hyper_price_order_fill,
		       bin_price_at_order_close, bin_price_order_fill, status
		FROM event_price_change_and_diff WHERE id = ?
	`, eventID).Scan(&e.ID, &e.Datetime, &e.Asset, &e.SignalLevel, &e.SignalDifferenceID, &e.SignalChangeID,
		&e.IsRising, &e.Price, &e.LastPrice, &e.BinancePrice, &e.HyperPrice, &e.Bp,
		&hypClose, &hypFill, &binClose, &binFill, &e.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("get event %d: %w", eventID, err)
	}
	e.HyperPriceAtOrderClose = hypClose.Float64
	e.HyperPriceOrderFill = hypFill.Float64
	e.BinPriceAtOrderClose = binClose.Float64
	e.BinPriceOrderFill = binFill.Float64
	return e, nil
}

func (s *Store) InsertEventPosition(ctx context.Context, e EventPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_position
			(id, datetime, asset, kind, ba_bid, ba_ask, hl_bid, hl_ask, ba_balance, hl_balance,
			 opportunity_size, expiry, order_ba_side, order_hl_side, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Datetime, e.Asset, e.Kind, e.BaBid, e.BaAsk, e.HlBid, e.HlAsk, e.BaBalance, e.HlBalance,
		e.OpportunitySize, e.Expiry, e.OrderBaSide, e.OrderHlSide, e.Status)
	if err != nil {
		return fmt.Errorf("insert event_position: %w", err)
	}
	return nil
}

func (s *Store) UpdateEventPositionStatus(ctx context.Context, eventID uint64, status EventStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_position SET status = ? WHERE id = ?`, status, eventID)
	if err != nil {
		return fmt.Errorf("update position event %d status: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update position event %d status: unmatched count %d", eventID, n)
	}
	return nil
}

// ----------------------------------------
// Orders / ledger / positions
// ----------------------------------------

func (s *Store) UpsertOrder(ctx context.Context, o OrderRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(local_id, exchange, symbol, client_id, server_id, price, size, filled_size,
			 order_type, side, position_effect, status, tif, create_lt, update_lt, update_tst,
			 strategy_id, event_id, open_order_client_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = excluded.server_id,
			price = excluded.price,
			filled_size = excluded.filled_size,
			status = excluded.status,
			update_lt = excluded.update_lt,
			update_tst = excluded.update_tst
	`, o.LocalID, o.Exchange, o.Symbol, o.ClientID, o.ServerID, o.Price, o.Size, o.FilledSize,
		o.OrderType, o.Side, o.PositionEffect, o.Status, o.TIF, o.CreateLt, o.UpdateLt, o.UpdateTst,
		o.StrategyID, o.EventID, o.OpenOrderClientID)
	if err != nil {
		return fmt.Errorf("upsert order %d: %w", o.LocalID, err)
	}
	return nil
}

func (s *Store) InsertLedger(ctx context.Context, r LedgerRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (id, datetime, exchange, symbol, quantity, order_lid, trade_lid, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Datetime, r.Exchange, r.Symbol, r.Quantity, r.OrderLid, r.TradeLid, r.Reason)
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	return nil
}

func (s *Store) UpsertPosition(ctx context.Context, exchange, symbol string, qty float64, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (exchange, symbol, qty, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
			qty = excluded.qty,
			updated_at = excluded.updated_at
	`, exchange, symbol, qty, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert position %s %s: %w", exchange, symbol, err)
	}
	return nil
}

// ----------------------------------------
// Market data
// ----------------------------------------

func (s *Store) UpsertFundingRate(ctx context.Context, exchange, symbol string, rate float64, datetime int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO funding_rates (exchange, symbol, rate, datetime)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
			rate = excluded.rate,
			datetime = excluded.datetime
	`, exchange, symbol, rate, datetime)
	if err != nil {
		return fmt.Errorf("upsert funding rate %s %s: %w", exchange, symbol, err)
	}
	return nil
}

func (s *Store) UpsertCandlestick(ctx context.Context, c Candlestick) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candlesticks (exchange, symbol, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, symbol, open_time) DO UPDATE SET
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`, c.Exchange, c.Symbol, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("upsert candlestick %s %s: %w", c.Exchange, c.Symbol, err)
	}
	return nil
}

func (s *Store) InsertBestBidAsk(ctx context.Context, r BestBidAskRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO best_bid_ask
			(id, datetime, asset, bin_ask, bin_ask_size, bin_bid, bin_bid_size,
			 hyp_ask, hyp_ask_size, hyp_bid, hyp_bid_size, hyper_oracle, hyper_mark,
			 spread_buy_hyper, spread_sell_hyper)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Datetime, r.Asset, r.BinAsk, r.BinAskSize, r.BinBid, r.BinBidSize,
		r.HypAsk, r.HypAskSize, r.HypBid, r.HypBidSize, r.HyperOracle, r.HyperMark,
		r.SpreadBuyHyper, r.SpreadSellHyper)
	if err != nil {
		return fmt.Errorf("insert best_bid_ask: %w", err)
	}
	return nil
}

func (s *Store) UpsertSpreadMean(ctx context.Context, r SpreadMeanRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spread_mean (asset, mean_buy, mean_sell, samples, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			mean_buy = excluded.mean_buy,
			mean_sell = excluded.mean_sell,
			samples = excluded.samples,
			updated_at = excluded.updated_at
	`, r.Asset, r.MeanBuy, r.MeanSell, r.Samples, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert spread_mean %s: %w", r.Asset, err)
	}
	return nil
}

func (s *Store) InsertAccuracy(ctx context.Context, r AccuracyRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accuracy_log (id, event_id, datetime, asset, price_at_event, price_at_fill, price_at_close)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.EventID, r.Datetime, r.Asset, r.PriceAtEvent, r.PriceAtFill, r.PriceAtClose)
	if err != nil {
		return fmt.Errorf("insert accuracy_log: %w", err)
	}
	return nil
}

// ----------------------------------------
// Symbol flags
// ----------------------------------------

func (s *Store) ListSymbolFlags(ctx context.Context) ([]SymbolFlags, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset, enabled, blacklisted, updated_at FROM symbol_flags`)
	if err != nil {
		return nil, fmt.Errorf("query symbol_flags: %w", err)
	}
	defer rows.Close()

	var out []SymbolFlags
	for rows.Next() {
		var f SymbolFlags
		if err := rows.Scan(&f.Asset, &f.Enabled, &f.Blacklisted, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan symbol_flags: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSymbolFlags(ctx context.Context, f SymbolFlags) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbol_flags (asset, enabled, blacklisted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			enabled = excluded.enabled,
			blacklisted = excluded.blacklisted,
			updated_at = excluded.updated_at
	`, f.Asset, f.Enabled, f.Blacklisted, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert symbol_flags %s: %w", f.Asset, err)
	}
	return nil
}
