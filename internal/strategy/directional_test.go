package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/order"
	"arb-engine/internal/pricing"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

func memStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return db.NewStore(database)
}

func testCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.Insert(catalog.Instrument{
		Exchange:     common.ExchangeBinanceFutures,
		Symbol:       "BTCUSDT",
		Base:         "BTC",
		Quote:        "USDT",
		Type:         catalog.TypePerpetual,
		SizeUnit:     catalog.UnitBase,
		LotDecimals:  4,
		TickDecimals: 1,
	})
	cat.Insert(catalog.Instrument{
		Exchange:     common.ExchangeHyperliquid,
		Symbol:       "BTC",
		Base:         "BTC",
		Quote:        "USDC",
		Type:         catalog.TypePerpetual,
		SizeUnit:     catalog.UnitBase,
		LotDecimals:  4,
		TickDecimals: 1,
	})
	return cat
}

type directionalFixture struct {
	strat    *Directional
	store    *db.Store
	orders   *order.Table
	requests chan common.ExecutionRequest
}

func newDirectionalFixture(t *testing.T) *directionalFixture {
	t.Helper()
	store := memStore(t)
	orders := order.NewTable(nil)
	requests := make(chan common.ExecutionRequest, 32)
	s := NewDirectional(events.NewBus(), store, config.DefaultStrategyGuards(),
		testCatalog(), orders, requests)
	s.nowFn = func() int64 { return 100_000 }
	s.quotes["BTC"] = pricing.BestBidAsk{
		Asset:      "BTC",
		BinAsk:     30_000,
		BinAskSize: 2,
		BinBid:     29_990,
		BinBidSize: 2,
		HypAsk:     30_010,
		HypBid:     30_000,
	}
	return &directionalFixture{strat: s, store: store, orders: orders, requests: requests}
}

func risingEvent(t *testing.T, f *directionalFixture) db.EventPriceChangeAndDiff {
	t.Helper()
	e := db.EventPriceChangeAndDiff{
		ID:          7,
		Datetime:    99_000,
		Asset:       "BTC",
		SignalLevel: db.LevelCritical,
		IsRising:    true,
		Price:       30_000,
		Bp:          15,
		Status:      db.EventGenerated,
	}
	require.NoError(t, f.store.InsertEvent1(context.Background(), e))
	return e
}

func (f *directionalFixture) nextPlace(t *testing.T) common.RequestPlaceOrder {
	t.Helper()
	select {
	case req := <-f.requests:
		place, ok := req.(common.RequestPlaceOrder)
		require.True(t, ok, "expected a place request, got %T", req)
		return place
	default:
		t.Fatal("no request emitted")
		return common.RequestPlaceOrder{}
	}
}

func (f *directionalFixture) eventStatus(t *testing.T, id uint64) db.EventStatus {
	t.Helper()
	row, err := f.store.GetEvent1(context.Background(), id)
	require.NoError(t, err)
	return row.Status
}

func TestRisingEventOpensBuyAtTopOfBook(t *testing.T) {
	f := newDirectionalFixture(t)
	e := risingEvent(t, f)

	f.strat.onEvent(context.Background(), e)

	open := f.nextPlace(t)
	assert.Equal(t, common.SideBuy, open.Side)
	assert.Equal(t, common.OrderTypeLimit, open.Type)
	assert.Equal(t, common.TIFGTC, open.TIF)
	assert.Equal(t, common.EffectOpen, open.Effect)
	assert.Equal(t, 30_000.0, open.Price)
	// min(top size, 15 USD notional / price)
	assert.InDelta(t, 0.0005, open.Size, 1e-12)
	assert.Equal(t, common.StrategyOne, open.StrategyID)
	assert.Equal(t, db.EventCaptured, f.eventStatus(t, e.ID))
}

func TestFilledOpenSpawnsProfitClose(t *testing.T) {
	f := newDirectionalFixture(t)
	e := risingEvent(t, f)
	f.strat.onEvent(context.Background(), e)
	open := f.nextPlace(t)

	f.strat.onOrderUpdate(context.Background(), common.UpdateOrder{
		Exchange:       common.ExchangeBinanceFutures,
		Symbol:         "BTCUSDT",
		ClientID:       open.ClientID,
		Side:           common.SideBuy,
		Size:           open.Size,
		FilledSize:     open.Size,
		LastFilledSize: open.Size,
		AvgPrice:       30_000,
		Status:         common.StatusFilled,
		StrategyID:     common.StrategyOne,
		EventID:        e.ID,
	})

	closeReq := f.nextPlace(t)
	assert.Equal(t, common.SideSell, closeReq.Side)
	assert.Equal(t, common.EffectClose, closeReq.Effect)
	assert.Equal(t, open.ClientID, closeReq.OpenClientID)
	assert.InDelta(t, open.Size, closeReq.Size, 1e-12)
	// best ask times the profit ratio, truncated to the tick
	assert.InDelta(t, 30_015.0, closeReq.Price, 0.1)
	assert.Equal(t, db.EventClosing, f.eventStatus(t, e.ID))
}

func TestCloseFillCompletesTheRoundTrip(t *testing.T) {
	f := newDirectionalFixture(t)
	e := risingEvent(t, f)
	f.strat.onEvent(context.Background(), e)
	open := f.nextPlace(t)

	fill := common.UpdateOrder{
		Exchange:       common.ExchangeBinanceFutures,
		Symbol:         "BTCUSDT",
		ClientID:       open.ClientID,
		Side:           common.SideBuy,
		Size:           open.Size,
		FilledSize:     open.Size,
		LastFilledSize: open.Size,
		AvgPrice:       30_000,
		Status:         common.StatusFilled,
		StrategyID:     common.StrategyOne,
		EventID:        e.ID,
	}
	f.strat.onOrderUpdate(context.Background(), fill)
	closeReq := f.nextPlace(t)

	f.strat.onOrderUpdate(context.Background(), common.UpdateOrder{
		Exchange:       common.ExchangeBinanceFutures,
		Symbol:         "BTCUSDT",
		ClientID:       closeReq.ClientID,
		Side:           common.SideSell,
		Size:           closeReq.Size,
		FilledSize:     closeReq.Size,
		LastFilledSize: closeReq.Size,
		AvgPrice:       closeReq.Price,
		Status:         common.StatusFilled,
		StrategyID:     common.StrategyOne,
		EventID:        e.ID,
	})

	assert.Equal(t, db.EventFullyClosed, f.eventStatus(t, e.ID))
	assert.Empty(t, f.strat.runs)
}

func TestPartialFillClosesEachSlice(t *testing.T) {
	f := newDirectionalFixture(t)
	e := risingEvent(t, f)
	f.strat.onEvent(context.Background(), e)
	open := f.nextPlace(t)

	f.strat.onOrderUpdate(context.Background(), common.UpdateOrder{
		Exchange:       common.ExchangeBinanceFutures,
		Symbol:         "BTCUSDT",
		ClientID:       open.ClientID,
		Side:           common.SideBuy,
		Size:           open.Size,
		FilledSize:     0.0002,
		LastFilledSize: 0.0002,
		AvgPrice:       30_000,
		Status:         common.StatusPartial,
		StrategyID:     common.StrategyOne,
		EventID:        e.ID,
	})

	closeReq := f.nextPlace(t)
	assert.InDelta(t, 0.0002, closeReq.Size, 1e-12)
	assert.Equal(t, common.EffectClose, closeReq.Effect)

	// the unfilled remainder cancels without further closes
	f.strat.onOrderUpdate(context.Background(), common.UpdateOrder{
		ClientID:   open.ClientID,
		Status:     common.StatusCanceled,
		StrategyID: common.StrategyOne,
		EventID:    e.ID,
	})
	select {
	case req := <-f.requests:
		t.Fatalf("unexpected request %T after cancel", req)
	default:
	}
}

func TestTooSmallTopOfBookIsSkipped(t *testing.T) {
	f := newDirectionalFixture(t)
	e := risingEvent(t, f)
	q := f.strat.quotes["BTC"]
	q.BinAskSize = 0.0001 // 3 USD visible, below the minimum notional
	f.strat.quotes["BTC"] = q

	f.strat.onEvent(context.Background(), e)

	assert.Empty(t, f.requests)
	assert.Equal(t, db.EventTooSmallOpportunity, f.eventStatus(t, e.ID))
}

func TestCancelSweepAgesOutWorkingOrders(t *testing.T) {
	f := newDirectionalFixture(t)

	staleOpen := f.orders.Insert(order.Order{
		ClientID:   "open-1",
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     "BTCUSDT",
		Side:       common.SideBuy,
		Type:       common.OrderTypeLimit,
		Effect:     common.EffectOpen,
		Price:      30_000,
		Size:       0.0005,
		Status:     common.StatusNew,
		StrategyID: common.StrategyOne,
		CreateLt:   100_000 - 2_000,
	})
	f.orders.Insert(order.Order{
		ClientID:   "close-1",
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     "BTCUSDT",
		Side:       common.SideSell,
		Type:       common.OrderTypeLimit,
		Effect:     common.EffectClose,
		Price:      30_015,
		Size:       0.0005,
		Status:     common.StatusNew,
		StrategyID: common.StrategyOne,
		CreateLt:   100_000 - 6_000,
	})

	f.strat.cancelSweep()

	var cancels []common.RequestCancelOrder
	var places []common.RequestPlaceOrder
	for len(f.requests) > 0 {
		switch req := (<-f.requests).(type) {
		case common.RequestCancelOrder:
			cancels = append(cancels, req)
		case common.RequestPlaceOrder:
			places = append(places, req)
		}
	}
	require.Len(t, cancels, 2)
	require.Len(t, places, 1)

	cancelled := map[uint64]bool{cancels[0].LocalID: true, cancels[1].LocalID: true}
	assert.True(t, cancelled[staleOpen])

	reissue := places[0]
	assert.Equal(t, common.OrderTypeMarket, reissue.Type)
	assert.Equal(t, common.TIFIOC, reissue.TIF)
	assert.True(t, reissue.ReduceOnly)
	assert.Equal(t, common.SideSell, reissue.Side)
	assert.InDelta(t, 0.0005, reissue.Size, 1e-12)
	assert.Equal(t, 29_990.0, reissue.Price) // current bid for a sell exit
}
