package balance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/pkg/exchanges/common"
)

func seeded(amount float64) *Manager {
	m := NewManager()
	m.OnPositions(common.UpdatePositions{
		Exchange:   common.ExchangeBinanceFutures,
		Positions:  []common.PositionReport{{Asset: "USDT", Qty: amount}},
		IsSnapshot: true,
	})
	return m
}

func TestSeedFromPositions(t *testing.T) {
	m := seeded(100)
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.True(t, s.Seeded)
	assert.InDelta(t, 100, s.Total, 1e-9)
	assert.InDelta(t, 100, s.Available, 1e-9)

	// non-USD lines never seed
	m2 := NewManager()
	m2.OnPositions(common.UpdatePositions{
		Exchange:  common.ExchangeHyperliquid,
		Positions: []common.PositionReport{{Asset: "BTC", Qty: 2}},
	})
	assert.False(t, m2.Snapshot(common.ExchangeHyperliquid).Seeded)
}

func TestDeductLocksNotional(t *testing.T) {
	m := seeded(100)
	require.True(t, m.TryDeduct(common.ExchangeBinanceFutures, 1, 60))
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 40, s.Available, 1e-9)
	assert.InDelta(t, 60, s.Locked, 1e-9)

	assert.False(t, m.TryDeduct(common.ExchangeBinanceFutures, 2, 50), "insufficient available")
}

func TestCancelledOpenReleasesReservation(t *testing.T) {
	m := seeded(100)
	require.True(t, m.TryDeduct(common.ExchangeBinanceFutures, 1, 30))

	cancel := common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  1, Effect: common.EffectOpen, Status: common.StatusCanceled,
		Price: 30, Size: 1,
	}
	m.OnOrderUpdate(cancel)
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 100, s.Available, 1e-9)
	assert.InDelta(t, 0, s.Locked, 1e-9)

	// duplicate cancel echo releases nothing further
	m.OnOrderUpdate(cancel)
	s = m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 100, s.Available, 1e-9)
	assert.InDelta(t, 0, s.Locked, 1e-9)
}

func TestRejectionWithoutReservationReleasesNothing(t *testing.T) {
	m := seeded(100)

	// locally rejected order: TryDeduct never ran for it
	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  9, Effect: common.EffectOpen, Status: common.StatusRejected,
		Price: 30_000, Size: 1,
	})
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 100, s.Available, 1e-9)
	assert.InDelta(t, 0, s.Locked, 1e-9)
}

func TestFilledOpenSpendsReservation(t *testing.T) {
	m := seeded(100)
	require.True(t, m.TryDeduct(common.ExchangeBinanceFutures, 4, 60))

	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  4, Effect: common.EffectOpen, Status: common.StatusFilled,
		Price: 60, Size: 1, FilledSize: 1,
	})
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 40, s.Available, 1e-9)
	assert.InDelta(t, 0, s.Locked, 1e-9)
}

func TestFilledCloseCreditsFullNotional(t *testing.T) {
	m := seeded(100)
	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  2, Effect: common.EffectClose, Status: common.StatusFilled,
		Price: 10, Size: 3, FilledSize: 3,
	})
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 130, s.Total, 1e-9)
	assert.InDelta(t, 130, s.Available, 1e-9)
}

func TestPartialCloseCreditRules(t *testing.T) {
	m := seeded(100)

	// ratio 0.5 < 0.9: credit price*filled
	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  3, Effect: common.EffectClose, Status: common.StatusPartial,
		Price: 10, Size: 4, FilledSize: 2,
	})
	assert.InDelta(t, 120, m.Snapshot(common.ExchangeBinanceFutures).Available, 1e-9)

	// ratio 0.95 >= 0.9: no partial credit
	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  3, Effect: common.EffectClose, Status: common.StatusPartial,
		Price: 10, Size: 4, FilledSize: 3.8,
	})
	assert.InDelta(t, 120, m.Snapshot(common.ExchangeBinanceFutures).Available, 1e-9)

	// terminal fill tops the credit up to price*size, not double
	m.OnOrderUpdate(common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  3, Effect: common.EffectClose, Status: common.StatusFilled,
		Price: 10, Size: 4, FilledSize: 4,
	})
	assert.InDelta(t, 140, m.Snapshot(common.ExchangeBinanceFutures).Available, 1e-9)
}

func TestDuplicateFilledCloseCreditsOnce(t *testing.T) {
	m := seeded(100)
	fill := common.UpdateOrder{
		Exchange: common.ExchangeBinanceFutures,
		LocalID:  5, Effect: common.EffectClose, Status: common.StatusFilled,
		Price: 10, Size: 2, FilledSize: 2,
	}
	m.OnOrderUpdate(fill)
	assert.InDelta(t, 120, m.Snapshot(common.ExchangeBinanceFutures).Total, 1e-9)

	// the same terminal echo replayed by an order sync
	m.OnOrderUpdate(fill)
	s := m.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 120, s.Total, 1e-9)
	assert.InDelta(t, 120, s.Available, 1e-9)

	// after the sweep forgets the order, a fresh order can reuse the id
	m.Forget(5)
	m.OnOrderUpdate(fill)
	assert.InDelta(t, 140, m.Snapshot(common.ExchangeBinanceFutures).Total, 1e-9)
}

func TestQuerySurface(t *testing.T) {
	m := seeded(55)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go m.Run(ctx)

	s, err := m.Query(ctx, common.ExchangeBinanceFutures)
	require.NoError(t, err)
	assert.InDelta(t, 55, s.Available, 1e-9)
}
