package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/internal/batch"
	"arb-engine/internal/events"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

type hedgedFixture struct {
	strat    *Hedged
	store    *db.Store
	batches  *batch.Manager
	requests chan common.ExecutionRequest
}

func newHedgedFixture(t *testing.T, auto bool) *hedgedFixture {
	t.Helper()
	store := memStore(t)
	requests := make(chan common.ExecutionRequest, 32)
	batches := batch.NewManager(requests)
	s := NewHedged(events.NewBus(), store, config.DefaultStrategyGuards(),
		testCatalog(), batches, requests, auto)
	s.nowFn = func() int64 { return 200_000 }
	return &hedgedFixture{strat: s, store: store, batches: batches, requests: requests}
}

func openHedgedEvent(t *testing.T, f *hedgedFixture) db.EventPosition {
	t.Helper()
	e := db.EventPosition{
		ID:              11,
		Datetime:        199_000,
		Asset:           "BTC",
		Kind:            db.KindOpenHedged,
		BaBid:           29_990,
		BaAsk:           30_000,
		HlBid:           30_100,
		HlAsk:           30_110,
		OpportunitySize: 0.0008,
		Expiry:          205_000,
		OrderBaSide:     string(common.SideBuy),
		OrderHlSide:     string(common.SideSell),
		Status:          db.EventGenerated,
	}
	require.NoError(t, f.store.InsertEventPosition(context.Background(), e))
	return e
}

func drainPlaces(t *testing.T, requests chan common.ExecutionRequest) []common.RequestPlaceOrder {
	t.Helper()
	var out []common.RequestPlaceOrder
	for len(requests) > 0 {
		if place, ok := (<-requests).(common.RequestPlaceOrder); ok {
			out = append(out, place)
		}
	}
	return out
}

func TestAutoOpenRegistersBothLegs(t *testing.T) {
	f := newHedgedFixture(t, true)
	e := openHedgedEvent(t, f)

	f.strat.onEvent(context.Background(), e)

	places := drainPlaces(t, f.requests)
	require.Len(t, places, 2)

	byExchange := map[common.Exchange]common.RequestPlaceOrder{}
	for _, p := range places {
		byExchange[p.Exchange] = p
	}
	ba := byExchange[common.ExchangeBinanceFutures]
	hl := byExchange[common.ExchangeHyperliquid]

	assert.Equal(t, common.SideBuy, ba.Side)
	assert.Equal(t, common.SideSell, hl.Side)
	assert.Equal(t, common.OrderTypeMarket, ba.Type)
	assert.Equal(t, common.TIFIOC, ba.TIF)
	assert.Equal(t, 30_000.0, ba.Price) // buy takes the ask
	assert.Equal(t, 30_100.0, hl.Price) // sell takes the bid
	assert.InDelta(t, 0.0008, ba.Size, 1e-12)
	assert.Equal(t, common.StrategyTwo, ba.StrategyID)
	assert.Equal(t, e.ID, ba.EventID)

	b, ok := f.batches.Get(e.ID)
	require.True(t, ok)
	assert.Len(t, b.Legs, 2)
	assert.Equal(t, ba.ClientID, b.Legs[0].ClientID)
}

func TestLimitMakerLegWhenConfigured(t *testing.T) {
	f := newHedgedFixture(t, true)
	f.strat.guards.PairOrderType = "limit_market"
	e := openHedgedEvent(t, f)

	f.strat.onEvent(context.Background(), e)

	places := drainPlaces(t, f.requests)
	require.Len(t, places, 2)
	for _, p := range places {
		if p.Exchange == common.ExchangeBinanceFutures {
			assert.Equal(t, common.OrderTypeLimit, p.Type)
			assert.Equal(t, common.TIFGTC, p.TIF)
			assert.Equal(t, 29_990.0, p.Price) // resting at the bid
		} else {
			assert.Equal(t, common.OrderTypeMarket, p.Type)
		}
	}
}

func TestManualModeParksUntilCaptured(t *testing.T) {
	f := newHedgedFixture(t, false)
	e := openHedgedEvent(t, f)

	f.strat.onEvent(context.Background(), e)
	assert.Empty(t, f.requests)

	require.NoError(t, f.strat.capture(context.Background(), e.ID))
	places := drainPlaces(t, f.requests)
	require.Len(t, places, 2)
	assert.Equal(t, common.StrategyThree, places[0].StrategyID)

	// a second capture of the same event has nothing to arm
	assert.Error(t, f.strat.capture(context.Background(), e.ID))
}

func TestCaptureRejectsExpiredEvent(t *testing.T) {
	f := newHedgedFixture(t, false)
	e := openHedgedEvent(t, f)
	f.strat.onEvent(context.Background(), e)

	f.strat.nowFn = func() int64 { return e.Expiry + 1 }
	assert.Error(t, f.strat.capture(context.Background(), e.ID))
	assert.Empty(t, f.requests)
}

func TestCloseHedgedEmitsReducingPair(t *testing.T) {
	f := newHedgedFixture(t, true)
	e := openHedgedEvent(t, f)
	e.ID = 12
	e.Kind = db.KindCloseHedged
	e.OrderBaSide = string(common.SideSell)
	e.OrderHlSide = string(common.SideBuy)
	require.NoError(t, f.store.InsertEventPosition(context.Background(), e))

	f.strat.onEvent(context.Background(), e)

	places := drainPlaces(t, f.requests)
	require.Len(t, places, 2)
	for _, p := range places {
		assert.Equal(t, common.EffectClose, p.Effect)
		assert.True(t, p.ReduceOnly)
	}
}

func TestCloseSingleSidedEmitsOneLeg(t *testing.T) {
	f := newHedgedFixture(t, true)
	e := openHedgedEvent(t, f)
	e.ID = 13
	e.Kind = db.KindCloseSingleSided
	e.OrderBaSide = string(common.SideSell)
	e.OrderHlSide = ""
	require.NoError(t, f.store.InsertEventPosition(context.Background(), e))

	f.strat.onEvent(context.Background(), e)

	places := drainPlaces(t, f.requests)
	require.Len(t, places, 1)
	assert.Equal(t, common.ExchangeBinanceFutures, places[0].Exchange)
	assert.Equal(t, common.SideSell, places[0].Side)
	assert.Equal(t, common.EffectClose, places[0].Effect)
}

func TestReleaseClosesFilledAndCancelsWorking(t *testing.T) {
	f := newHedgedFixture(t, true)
	e := openHedgedEvent(t, f)
	f.strat.onEvent(context.Background(), e)
	opens := drainPlaces(t, f.requests)
	require.Len(t, opens, 2)

	// first leg filled, second still working
	f.batches.OnOrderUpdate(common.UpdateOrder{
		ClientID:       opens[0].ClientID,
		Status:         common.StatusFilled,
		FilledSize:     opens[0].Size,
		LastFilledSize: opens[0].Size,
		AvgPrice:       opens[0].Price,
	})
	f.batches.OnOrderUpdate(common.UpdateOrder{
		ClientID: opens[1].ClientID,
		Status:   common.StatusNew,
	})

	require.NoError(t, f.strat.release(e.ID))

	var closes []common.RequestPlaceOrder
	var cancels []common.RequestCancelOrder
	for len(f.requests) > 0 {
		switch req := (<-f.requests).(type) {
		case common.RequestPlaceOrder:
			closes = append(closes, req)
		case common.RequestCancelOrder:
			cancels = append(cancels, req)
		}
	}
	require.Len(t, closes, 1)
	require.Len(t, cancels, 1)
	assert.Equal(t, opens[0].Side.Opposite(), closes[0].Side)
	assert.True(t, closes[0].ReduceOnly)
	assert.InDelta(t, opens[0].Size, closes[0].Size, 1e-12)
	assert.Equal(t, opens[1].ClientID, cancels[0].ClientID)
}
