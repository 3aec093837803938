package sigevent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/internal/balance"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/pricing"
	"arb-engine/internal/signal"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

type stubMeans struct {
	mean signal.SpreadMean
	ok   bool
}

func (s stubMeans) Mean(catalog.Asset) (signal.SpreadMean, bool) { return s.mean, s.ok }

type pairFixture struct {
	gen *PairEventGenerator
	out <-chan any
	pos map[common.Exchange]map[string]float64
}

func newPairFixture(t *testing.T, means stubMeans, usd float64) *pairFixture {
	t.Helper()
	bus := events.NewBus()
	cat := catalog.New()
	cat.Insert(catalog.Instrument{
		Exchange: common.ExchangeBinanceFutures, Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
		Type: catalog.TypePerpetual, SizeUnit: catalog.UnitBase, LotDecimals: 5, TickDecimals: 1,
	})
	cat.Insert(catalog.Instrument{
		Exchange: common.ExchangeHyperliquid, Symbol: "BTC", Base: "BTC", Quote: "USD",
		Type: catalog.TypePerpetual, SizeUnit: catalog.UnitBase, LotDecimals: 5, TickDecimals: 1,
	})

	balances := balance.NewManager()
	for _, ex := range []common.Exchange{common.ExchangeBinanceFutures, common.ExchangeHyperliquid} {
		balances.OnPositions(common.UpdatePositions{
			Exchange:   ex,
			Positions:  []common.PositionReport{{Asset: "USDT", Qty: usd}},
			IsSnapshot: true,
		})
	}

	pos := map[common.Exchange]map[string]float64{
		common.ExchangeBinanceFutures: {},
		common.ExchangeHyperliquid:    {},
	}
	positions := func(ex common.Exchange) map[string]float64 { return pos[ex] }

	g := NewPairEventGenerator(bus, memStore(t), config.DefaultStrategyGuards(), cat, balances, positions, means)
	g.nowFn = func() int64 { return 50_000 }

	out, unsub := bus.Subscribe(events.TopicEventPosition, 8)
	t.Cleanup(unsub)
	return &pairFixture{gen: g, out: out, pos: pos}
}

// spread selling hyper: hyp_bid/bin_ask - 1 = 30100/30000 - 1 ≈ 0.0033
func richSnapshot() pricing.BestBidAsk {
	return pricing.BestBidAsk{
		Asset: "BTC", Datetime: 50_000,
		BinBid: 29_990, BinBidSize: 2, BinAsk: 30_000, BinAskSize: 2,
		HypBid: 30_100, HypBidSize: 2, HypAsk: 30_110, HypAskSize: 2,
	}
}

func (f *pairFixture) event(t *testing.T) db.EventPosition {
	t.Helper()
	select {
	case raw := <-f.out:
		ev, ok := raw.(db.EventPosition)
		require.True(t, ok)
		return ev
	default:
		t.Fatal("expected a pair event")
		return db.EventPosition{}
	}
}

func (f *pairFixture) expectNone(t *testing.T) {
	t.Helper()
	select {
	case raw := <-f.out:
		t.Fatalf("unexpected event: %#v", raw)
	default:
	}
}

func TestOpenHedgedWhenSpreadPays(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0010, Samples: 30}, ok: true}, 10_000)

	f.gen.OnSnapshot(context.Background(), richSnapshot())

	ev := f.event(t)
	assert.Equal(t, db.KindOpenHedged, ev.Kind)
	assert.Equal(t, string(common.SideBuy), ev.OrderBaSide, "buy the cheap venue")
	assert.Equal(t, string(common.SideSell), ev.OrderHlSide)
	assert.Equal(t, db.EventGenerated, ev.Status)
	// clamped by MaxSizeNotional (25 USD) then lot-rounded
	guards := config.DefaultStrategyGuards()
	assert.LessOrEqual(t, ev.OpportunitySize*30_000, guards.MaxSizeNotional+1)
	assert.EqualValues(t, 50_000+guards.Strategy3EventExpiryMs, ev.Expiry)
}

func TestOpenBlockedWithoutMean(t *testing.T) {
	f := newPairFixture(t, stubMeans{ok: false}, 10_000)
	f.gen.OnSnapshot(context.Background(), richSnapshot())
	f.expectNone(t)
}

func TestOpenBlockedBelowMeanOffset(t *testing.T) {
	// mean so high the offset can't be beaten
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0050, MeanBuy: 0.0050, Samples: 30}, ok: true}, 10_000)
	f.gen.OnSnapshot(context.Background(), richSnapshot())
	f.expectNone(t)
}

func TestOpenBlockedByInsufficientFunds(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0010, Samples: 30}, ok: true}, 0.01)
	f.gen.OnSnapshot(context.Background(), richSnapshot())
	// persisted as InsufficientFund, never published
	f.expectNone(t)
}

func TestOpenAllowedWithExistingHedgedPair(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0010, Samples: 30}, ok: true}, 10_000)
	// a small balanced pair already on: ~30 USD per leg, under the 40 USD cap
	f.pos[common.ExchangeBinanceFutures]["BTCUSDT"] = 0.001
	f.pos[common.ExchangeHyperliquid]["BTC"] = -0.001

	f.gen.OnSnapshot(context.Background(), richSnapshot())

	ev := f.event(t)
	assert.Equal(t, db.KindOpenHedged, ev.Kind)
	assert.Equal(t, db.EventGenerated, ev.Status)
	assert.Equal(t, 0.001, ev.BaBalance)
	assert.Equal(t, -0.001, ev.HlBalance)
}

func TestOpenBlockedByLegNotionalCap(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0010, Samples: 30}, ok: true}, 10_000)
	// ~60 USD per leg, over the 40 USD cap: no further opens
	f.pos[common.ExchangeBinanceFutures]["BTCUSDT"] = 0.002
	f.pos[common.ExchangeHyperliquid]["BTC"] = -0.002

	f.gen.OnSnapshot(context.Background(), richSnapshot())
	f.expectNone(t)
}

func TestCloseHedgedOnCollapsedSpread(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{Samples: 30}, ok: true}, 10_000)
	f.pos[common.ExchangeBinanceFutures]["BTCUSDT"] = 0.001
	f.pos[common.ExchangeHyperliquid]["BTC"] = -0.001

	// sell-hyper spread now negative: pair opened short hyper should close
	snap := richSnapshot()
	snap.HypBid, snap.HypAsk = 29_980, 29_990

	f.gen.OnSnapshot(context.Background(), snap)
	ev := f.event(t)
	assert.Equal(t, db.KindCloseHedged, ev.Kind)
	assert.Equal(t, string(common.SideSell), ev.OrderBaSide)
	assert.Equal(t, string(common.SideBuy), ev.OrderHlSide)
	assert.InDelta(t, 0.001, ev.OpportunitySize, 1e-12)
}

func TestCloseSingleSidedOnLopsidedHedge(t *testing.T) {
	f := newPairFixture(t, stubMeans{ok: true}, 10_000)
	// long binance with no hyper leg: unhedged ≈ 0.02 * 30k = 600 USD
	f.pos[common.ExchangeBinanceFutures]["BTCUSDT"] = 0.02

	f.gen.OnSnapshot(context.Background(), richSnapshot())
	ev := f.event(t)
	assert.Equal(t, db.KindCloseSingleSided, ev.Kind)
	assert.Equal(t, string(common.SideSell), ev.OrderBaSide, "flatten the long")
	assert.InDelta(t, 0.02, ev.OpportunitySize, 1e-12)
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	f := newPairFixture(t, stubMeans{mean: signal.SpreadMean{MeanSell: 0.0010, Samples: 30}, ok: true}, 10_000)
	ctx := context.Background()

	f.gen.OnSnapshot(ctx, richSnapshot())
	f.event(t)

	f.gen.OnSnapshot(ctx, richSnapshot())
	f.expectNone(t)
}
