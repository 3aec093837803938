package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/internal/balance"
	"arb-engine/internal/batch"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/order"
	"arb-engine/pkg/config"
	"arb-engine/pkg/exchanges/common"
)

type stubClient struct {
	mu        sync.Mutex
	exchange  common.Exchange
	positions common.UpdatePositions
	open      common.SyncOrdersReport
	submitted []common.RequestPlaceOrder
	cancelled []common.RequestCancelOrder
}

func (s *stubClient) Exchange() common.Exchange { return s.exchange }

func (s *stubClient) SubmitOrder(_ context.Context, r common.RequestPlaceOrder) (common.UpdateOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, r)
	return common.UpdateOrder{
		Exchange:  s.exchange,
		Symbol:    r.Symbol,
		LocalID:   r.LocalID,
		ClientID:  r.ClientID,
		ServerID:  "srv-1",
		Side:      r.Side,
		Effect:    r.Effect,
		Price:     r.Price,
		Size:      r.Size,
		Status:    common.StatusNew,
		UpdateTst: 50_000,
	}, nil
}

func (s *stubClient) CancelOrder(_ context.Context, r common.RequestCancelOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, r)
	return nil
}

func (s *stubClient) SyncOrders(context.Context, common.RequestSyncOrders) (common.SyncOrdersReport, error) {
	return s.open, nil
}

func (s *stubClient) QueryAssets(context.Context) (common.UpdatePositions, error) {
	return s.positions, nil
}

func (s *stubClient) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

type fixture struct {
	router   *Router
	client   *stubClient
	orders   *order.Table
	balances *balance.Manager
	bus      *events.Bus
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	cat := catalog.New()
	cat.Insert(catalog.Instrument{
		Exchange:     common.ExchangeBinanceFutures,
		Symbol:       "BTCUSDT",
		Base:         "BTC",
		Quote:        "USDT",
		Type:         catalog.TypePerpetual,
		SizeUnit:     catalog.UnitBase,
		LotDecimals:  3,
		TickDecimals: 1,
	})

	client := &stubClient{
		exchange: common.ExchangeBinanceFutures,
		positions: common.UpdatePositions{
			Exchange: common.ExchangeBinanceFutures,
			Positions: []common.PositionReport{
				{Exchange: common.ExchangeBinanceFutures, Asset: "USDT", Qty: 1000, Available: 1000},
			},
			ExchangeTime: 40_000,
			IsSnapshot:   true,
		},
	}

	bus := events.NewBus()
	orders := order.NewTable(nil)
	balances := balance.NewManager()

	r := New(cfg, bus, cat, orders, balances, client)
	r.AttachBatches(batch.NewManager(r.Requests()))
	r.nowFn = func() int64 { return 50_000 }
	return &fixture{router: r, client: client, orders: orders, balances: balances, bus: bus}
}

func enabledAll() *config.Config {
	return &config.Config{StrategiesEnabled: []string{"0", "1", "2", "3"}}
}

func placeRequest() common.RequestPlaceOrder {
	return common.RequestPlaceOrder{
		ClientID:   "cid-1",
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     "BTCUSDT",
		Side:       common.SideBuy,
		Type:       common.OrderTypeLimit,
		TIF:        common.TIFGTC,
		Effect:     common.EffectOpen,
		Price:      30_000,
		Size:       0.002,
		StrategyID: common.StrategyOne,
	}
}

func TestBootstrapSeedsAccounts(t *testing.T) {
	f := newFixture(t, enabledAll())
	f.client.positions.Positions = append(f.client.positions.Positions,
		common.PositionReport{Exchange: common.ExchangeBinanceFutures, Symbol: "BTCUSDT", Qty: 0.5})
	f.client.open = common.SyncOrdersReport{
		Exchange: common.ExchangeBinanceFutures,
		Orders: []common.UpdateOrder{{
			Exchange:  common.ExchangeBinanceFutures,
			Symbol:    "BTCUSDT",
			ClientID:  "resting-1",
			ServerID:  "900",
			Side:      common.SideBuy,
			Type:      common.OrderTypeLimit,
			Price:     29_000,
			Size:      0.01,
			Status:    common.StatusNew,
			UpdateTst: 39_000,
		}},
	}

	require.NoError(t, f.router.Bootstrap(context.Background()))

	snap := f.balances.Snapshot(common.ExchangeBinanceFutures)
	assert.True(t, snap.Seeded)
	assert.Equal(t, 1000.0, snap.Total)

	account := f.router.Account(common.ExchangeBinanceFutures)
	assert.Equal(t, 0.5, account.Position("BTCUSDT"))

	adopted, ok := f.orders.GetByServerID("900")
	require.True(t, ok)
	assert.Equal(t, "resting-1", adopted.ClientID)
}

func TestDisabledStrategyIsRejectedLocally(t *testing.T) {
	f := newFixture(t, &config.Config{StrategiesEnabled: []string{"1"}})
	require.NoError(t, f.router.Bootstrap(context.Background()))

	q := placeRequest()
	q.StrategyID = common.StrategyTwo
	require.NoError(t, f.router.handlePlace(context.Background(), q))

	o, ok := f.orders.GetByClientID("cid-1")
	require.True(t, ok)
	assert.Equal(t, common.StatusRejected, o.Status)
	assert.Equal(t, "strategy not enabled", o.Reason)
	assert.Zero(t, f.client.submitCount())
}

func TestLocalRejectionFoldsWithoutResponseChannel(t *testing.T) {
	f := newFixture(t, &config.Config{StrategiesEnabled: []string{"1"}})
	require.NoError(t, f.router.Bootstrap(context.Background()))

	// saturate the response channel; a router-synthesized rejection must not
	// queue behind the venue streams it is itself responsible for draining
	for i := 0; i < cap(f.router.responses); i++ {
		f.router.responses <- common.UpdatePositions{Exchange: common.ExchangeBinanceFutures}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q := placeRequest()
		q.StrategyID = common.StrategyTwo
		assert.NoError(t, f.router.handlePlace(context.Background(), q))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("local rejection blocked on the response channel")
	}

	o, ok := f.orders.GetByClientID("cid-1")
	require.True(t, ok)
	assert.Equal(t, common.StatusRejected, o.Status)
}

func TestConfiguredDesyncWindowReachesAccounts(t *testing.T) {
	cfg := enabledAll()
	cfg.MaxDesyncMs = 1234
	f := newFixture(t, cfg)

	account := f.router.Account(common.ExchangeBinanceFutures)
	assert.Equal(t, int64(1234), account.MaxDesyncMs())
}

func TestInsufficientBalanceIsRejectedLocally(t *testing.T) {
	f := newFixture(t, enabledAll())
	require.NoError(t, f.router.Bootstrap(context.Background()))

	q := placeRequest()
	q.Size = 1 // 30k notional against a 1k book
	require.NoError(t, f.router.handlePlace(context.Background(), q))

	o, ok := f.orders.GetByClientID("cid-1")
	require.True(t, ok)
	assert.Equal(t, common.StatusRejected, o.Status)
	assert.Equal(t, "insufficient balance", o.Reason)
	assert.Zero(t, f.client.submitCount())

	snap := f.balances.Snapshot(common.ExchangeBinanceFutures)
	assert.Equal(t, 1000.0, snap.Available)
	assert.Zero(t, snap.Locked)
}

func TestOpenPlacementLocksNotional(t *testing.T) {
	f := newFixture(t, enabledAll())
	require.NoError(t, f.router.Bootstrap(context.Background()))

	require.NoError(t, f.router.handlePlace(context.Background(), placeRequest()))

	snap := f.balances.Snapshot(common.ExchangeBinanceFutures)
	assert.InDelta(t, 1000-60, snap.Available, 1e-9)
	assert.InDelta(t, 60, snap.Locked, 1e-9)
}

func TestDryRunAcksWithoutDispatch(t *testing.T) {
	cfg := enabledAll()
	cfg.DryRun = true
	f := newFixture(t, cfg)
	require.NoError(t, f.router.Bootstrap(context.Background()))

	require.NoError(t, f.router.handlePlace(context.Background(), placeRequest()))

	o, ok := f.orders.GetByClientID("cid-1")
	require.True(t, ok)
	assert.Equal(t, common.StatusNew, o.Status)
	assert.Equal(t, "dry-1", o.ServerID)
	assert.Zero(t, f.client.submitCount())
}

func TestFillFlowsIntoReconciledPositions(t *testing.T) {
	f := newFixture(t, enabledAll())
	require.NoError(t, f.router.Bootstrap(context.Background()))

	books, cancel := f.bus.Subscribe(events.TopicAccountingBook, 8)
	defer cancel()

	require.NoError(t, f.router.handlePlace(context.Background(), placeRequest()))
	o, ok := f.orders.GetByClientID("cid-1")
	require.True(t, ok)

	ack := common.UpdateOrder{
		Exchange:  common.ExchangeBinanceFutures,
		Symbol:    "BTCUSDT",
		ClientID:  "cid-1",
		ServerID:  "srv-1",
		Side:      common.SideBuy,
		Effect:    common.EffectOpen,
		Price:     30_000,
		Size:      0.002,
		Status:    common.StatusNew,
		UpdateTst: 50_100,
	}
	require.NoError(t, f.router.handleResponse(ack))

	trade := common.UpdateTrade{
		Exchange:     common.ExchangeBinanceFutures,
		Symbol:       "BTCUSDT",
		TradeID:      "t-1",
		ClientID:     "cid-1",
		Side:         common.SideBuy,
		Price:        30_000,
		Size:         0.002,
		Fee:          0.01,
		FeeAsset:     "USDT",
		ExchangeTime: 50_200,
	}
	require.NoError(t, f.router.handleResponse(trade))

	filled := ack
	filled.FilledSize = 0.002
	filled.FilledCost = 60
	filled.AvgPrice = 30_000
	filled.Status = common.StatusFilled
	filled.UpdateTst = 50_300
	require.NoError(t, f.router.handleResponse(filled))

	account := f.router.Account(common.ExchangeBinanceFutures)
	assert.InDelta(t, 0.002, account.Position("BTCUSDT"), 1e-9)
	assert.InDelta(t, 0.002, f.router.Positions(common.ExchangeBinanceFutures)["BTCUSDT"], 1e-9)
	assert.InDelta(t, 1000-0.01, account.Position("USDT"), 1e-9)

	got, ok := f.orders.Get(o.LocalID)
	require.True(t, ok)
	assert.Equal(t, common.StatusFilled, got.Status)

	// at least one book crossed the bus
	select {
	case b := <-books:
		require.NotNil(t, b)
	default:
		t.Fatal("no accounting book published")
	}
}
