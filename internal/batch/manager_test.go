package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/pkg/exchanges/common"
)

func pairLegs() (common.RequestPlaceOrder, common.RequestPlaceOrder) {
	ba := common.RequestPlaceOrder{
		Exchange: common.ExchangeBinanceFutures, Symbol: "BTCUSDT",
		Side: common.SideBuy, Type: common.OrderTypeMarket, TIF: common.TIFIOC,
		Effect: common.EffectOpen, Price: 30_000, Size: 0.01,
	}
	hl := common.RequestPlaceOrder{
		Exchange: common.ExchangeHyperliquid, Symbol: "BTC",
		Side: common.SideSell, Type: common.OrderTypeMarket, TIF: common.TIFIOC,
		Effect: common.EffectOpen, Price: 30_010, Size: 0.01,
	}
	return ba, hl
}

func newTestManager() (*Manager, chan common.ExecutionRequest) {
	reqs := make(chan common.ExecutionRequest, 32)
	m := NewManager(reqs)
	now := int64(1_000)
	m.nowFn = func() int64 { return now }
	return m, reqs
}

func drain(ch chan common.ExecutionRequest) []common.ExecutionRequest {
	var out []common.ExecutionRequest
	for {
		select {
		case r := <-ch:
			out = append(out, r)
		default:
			return out
		}
	}
}

func TestRegisterDispatchesBothLegs(t *testing.T) {
	m, reqs := newTestManager()
	ba, hl := pairLegs()

	b := m.Register(7, common.StrategyTwo, 0, ba, hl)
	assert.Equal(t, StatusLegsPlaced, b.Status)
	require.Len(t, b.Legs, 2)
	assert.NotEmpty(t, b.CorrelationID)
	assert.NotEqual(t, b.Legs[0].ClientID, b.Legs[1].ClientID)

	sent := drain(reqs)
	require.Len(t, sent, 2)
	first, ok := sent[0].(common.RequestPlaceOrder)
	require.True(t, ok)
	assert.Equal(t, common.StrategyTwo, first.StrategyID)
	assert.EqualValues(t, 7, first.EventID)

	got, ok := m.ByClientID(b.Legs[1].ClientID)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestBothLegsFilledSettles(t *testing.T) {
	m, _ := newTestManager()
	ba, hl := pairLegs()
	b := m.Register(7, common.StrategyTwo, 0, ba, hl)

	m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[0].ClientID, Status: common.StatusFilled, FilledSize: 0.01})
	assert.Equal(t, StatusPartialFill, b.Status)

	m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[1].ClientID, Status: common.StatusFilled, FilledSize: 0.01})
	assert.Equal(t, StatusSettled, b.Status)
}

func TestRejectedLegRetriesWithFreshClientID(t *testing.T) {
	m, reqs := newTestManager()
	ba, hl := pairLegs()
	b := m.Register(7, common.StrategyTwo, 0, ba, hl)
	drain(reqs)
	oldCid := b.Legs[0].ClientID

	m.OnOrderUpdate(common.UpdateOrder{ClientID: oldCid, Status: common.StatusRejected, Reason: "busy"})

	require.Equal(t, 1, b.Legs[0].Retries)
	assert.NotEqual(t, oldCid, b.Legs[0].ClientID)
	assert.Equal(t, common.StatusPending, b.Legs[0].Status)

	sent := drain(reqs)
	require.Len(t, sent, 1)
	re, ok := sent[0].(common.RequestPlaceOrder)
	require.True(t, ok)
	assert.Equal(t, b.Legs[0].ClientID, re.ClientID)

	_, ok = m.ByClientID(oldCid)
	assert.False(t, ok, "dead client id unindexed")
}

func TestExhaustedRetriesInvertSurvivor(t *testing.T) {
	m, reqs := newTestManager()
	ba, hl := pairLegs()
	b := m.Register(7, common.StrategyTwo, 0, ba, hl)
	drain(reqs)

	// survivor fills before the other leg dies
	m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[1].ClientID, Status: common.StatusFilled, FilledSize: 0.01})

	for i := 0; i <= maxLegRetries; i++ {
		m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[0].ClientID, Status: common.StatusRejected, Reason: "margin"})
		drainIf := drain(reqs)
		if i < maxLegRetries {
			require.Len(t, drainIf, 1, "retry %d redispatches", i)
			continue
		}
		// budget spent: compensating market close for the filled survivor
		require.Len(t, drainIf, 1)
		inv, ok := drainIf[0].(common.RequestPlaceOrder)
		require.True(t, ok)
		assert.Equal(t, common.ExchangeHyperliquid, inv.Exchange)
		assert.Equal(t, common.SideBuy, inv.Side, "inverse of the sell leg")
		assert.Equal(t, common.OrderTypeMarket, inv.Type)
		assert.Equal(t, common.EffectClose, inv.Effect)
		assert.True(t, inv.ReduceOnly)
		assert.InDelta(t, 0.01, inv.Size, 1e-12)
	}
	assert.Equal(t, StatusReleased, b.Status)
}

func TestInvertCancelsWorkingSurvivor(t *testing.T) {
	m, reqs := newTestManager()
	ba, hl := pairLegs()
	b := m.Register(7, common.StrategyTwo, 0, ba, hl)
	drain(reqs)

	// survivor acked but unfilled
	m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[1].ClientID, Status: common.StatusNew})

	for i := 0; i <= maxLegRetries; i++ {
		m.OnOrderUpdate(common.UpdateOrder{ClientID: b.Legs[0].ClientID, Status: common.StatusRejected})
		if i < maxLegRetries {
			drain(reqs)
		}
	}
	sent := drain(reqs)
	require.Len(t, sent, 1)
	cancel, ok := sent[0].(common.RequestCancelOrder)
	require.True(t, ok)
	assert.Equal(t, b.Legs[1].ClientID, cancel.ClientID)
}

func TestMaintainExpiresAndDropsBatches(t *testing.T) {
	m, reqs := newTestManager()
	now := int64(1_000)
	m.nowFn = func() int64 { return now }
	ba, hl := pairLegs()

	b := m.Register(7, common.StrategyThree, 5_000, ba, hl)
	drain(reqs)

	now = 7_000
	m.maintain()
	assert.Equal(t, StatusExpired, b.Status, "unfilled batch past expiry")

	done := m.Register(8, common.StrategyTwo, 0, ba, hl)
	drain(reqs)
	m.OnOrderUpdate(common.UpdateOrder{ClientID: done.Legs[0].ClientID, Status: common.StatusFilled, FilledSize: 0.01})
	m.OnOrderUpdate(common.UpdateOrder{ClientID: done.Legs[1].ClientID, Status: common.StatusFilled, FilledSize: 0.01})
	require.Equal(t, StatusSettled, done.Status)

	now += settledLingerMs - 1
	m.maintain()
	_, ok := m.Get(8)
	assert.True(t, ok, "linger window keeps the batch for late echoes")

	now += 2
	m.maintain()
	_, ok = m.Get(8)
	assert.False(t, ok)
	_, ok = m.ByClientID(done.Legs[0].ClientID)
	assert.False(t, ok)
}
