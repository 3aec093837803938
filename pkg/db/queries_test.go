package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	d, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func TestNextIndexContinuesAfterRestart(t *testing.T) {
	d, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()

	first := NewStore(d)
	id, err := first.NextIndex(ctx, "event_price_change_and_diff")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	require.NoError(t, first.InsertEvent1(ctx, EventPriceChangeAndDiff{
		ID: id, Datetime: 1_700_000_000_000, Asset: "BTC",
		SignalLevel: LevelHigh, Status: EventGenerated,
	}))

	// a fresh store over the same database seeds from MAX(id)
	second := NewStore(d)
	id, err = second.NextIndex(ctx, "event_price_change_and_diff")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestEvent1Lifecycle(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	e := EventPriceChangeAndDiff{
		ID:                 1,
		Datetime:           1_700_000_000_000,
		Asset:              "ETH",
		SignalLevel:        LevelCritical,
		SignalDifferenceID: 11,
		SignalChangeID:     12,
		IsRising:           true,
		Price:              3000,
		LastPrice:          2990,
		BinancePrice:       3001,
		HyperPrice:         2995,
		Bp:                 20,
		Status:             EventGenerated,
	}
	require.NoError(t, s.InsertEvent1(ctx, e))

	require.NoError(t, s.UpdateEvent1Status(ctx, 1, EventFullyHit))
	require.NoError(t, s.UpdateEvent1HyperPrices(ctx, 1, 3010, 2996))

	got, err := s.GetEvent1(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ETH", got.Asset)
	assert.Equal(t, EventFullyHit, got.Status)
	assert.Equal(t, 3010.0, got.HyperPriceAtOrderClose)
	assert.Equal(t, 2996.0, got.HyperPriceOrderFill)
	assert.True(t, got.IsRising)
}

func TestGetEvent1Missing(t *testing.T) {
	s := memStore(t)

	_, err := s.GetEvent1(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEvent1StatusRequiresRow(t *testing.T) {
	s := memStore(t)

	err := s.UpdateEvent1Status(context.Background(), 7, EventClosing)
	assert.Error(t, err)
}

func TestEventPositionStatusTransitions(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEventPosition(ctx, EventPosition{
		ID:              1,
		Datetime:        1_700_000_000_000,
		Asset:           "SOL",
		Kind:            KindOpenHedged,
		BaBid:           99.9,
		BaAsk:           100.1,
		HlBid:           100.3,
		HlAsk:           100.5,
		BaBalance:       5000,
		HlBalance:       5000,
		OpportunitySize: 10,
		Expiry:          1_700_000_060_000,
		OrderBaSide:     "BUY",
		OrderHlSide:     "SELL",
		Status:          EventGenerated,
	}))

	require.NoError(t, s.UpdateEventPositionStatus(ctx, 1, EventFullyHit))
	require.NoError(t, s.UpdateEventPositionStatus(ctx, 1, EventFullyClosed))
	assert.Error(t, s.UpdateEventPositionStatus(ctx, 2, EventFullyClosed))
}

func TestUpsertOrderOverwritesMutableColumns(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	row := OrderRow{
		LocalID:  42,
		Exchange: "BINANCE_FUTURES",
		Symbol:   "BTCUSDT",
		ClientID: "cid-42",
		Price:    30_000,
		Size:     0.002,
		Side:     "BUY",
		Status:   "NEW",
		CreateLt: 1_700_000_000_000,
	}
	require.NoError(t, s.UpsertOrder(ctx, row))

	row.ServerID = "srv-42"
	row.FilledSize = 0.002
	row.Status = "FILLED"
	row.UpdateTst = 1_700_000_001_000
	require.NoError(t, s.UpsertOrder(ctx, row))

	var (
		status, serverID string
		filled           float64
		count            int
	)
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders`).Scan(&count))
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT status, server_id, filled_size FROM orders WHERE local_id = 42`).
		Scan(&status, &serverID, &filled))
	assert.Equal(t, 1, count)
	assert.Equal(t, "FILLED", status)
	assert.Equal(t, "srv-42", serverID)
	assert.Equal(t, 0.002, filled)
}

func TestSymbolFlagsRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSymbolFlags(ctx, SymbolFlags{Asset: "BTC", Enabled: true, UpdatedAt: 1000}))
	require.NoError(t, s.UpsertSymbolFlags(ctx, SymbolFlags{Asset: "DOGE", Enabled: true, UpdatedAt: 1000}))
	require.NoError(t, s.UpsertSymbolFlags(ctx, SymbolFlags{Asset: "DOGE", Blacklisted: true, UpdatedAt: 2000}))

	flags, err := s.ListSymbolFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)

	byAsset := make(map[string]SymbolFlags, len(flags))
	for _, f := range flags {
		byAsset[f.Asset] = f
	}
	assert.True(t, byAsset["BTC"].Enabled)
	assert.True(t, byAsset["DOGE"].Blacklisted)
	assert.False(t, byAsset["DOGE"].Enabled)
	assert.Equal(t, int64(2000), byAsset["DOGE"].UpdatedAt)
}

func TestInsertAccuracyRow(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAccuracy(ctx, AccuracyRow{
		ID:           1,
		EventID:      9,
		Datetime:     1_700_000_000_000,
		Asset:        "BTC",
		PriceAtEvent: 30_000,
		PriceAtFill:  30_010,
		PriceAtClose: 30_050,
	}))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accuracy_log WHERE event_id = 9`).Scan(&count))
	assert.Equal(t, 1, count)
}
