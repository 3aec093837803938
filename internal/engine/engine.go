package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"arb-engine/internal/balance"
	"arb-engine/internal/batch"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/feed"
	"arb-engine/internal/monitor"
	"arb-engine/internal/order"
	"arb-engine/internal/pricemap"
	"arb-engine/internal/pricing"
	"arb-engine/internal/router"
	"arb-engine/internal/sigevent"
	"arb-engine/internal/signal"
	"arb-engine/internal/strategy"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	binfutures "arb-engine/pkg/exchanges/binance/futures"
	"arb-engine/pkg/exchanges/common"
	"arb-engine/pkg/exchanges/hyperliquid"
	binmarket "arb-engine/pkg/market/binance"
	hypmarket "arb-engine/pkg/market/hyperliquid"
)

const (
	hyperliquidSyncEvery  = 2 * time.Second
	hyperliquidAssetEvery = 10 * time.Second
	fundingFetchEvery     = time.Minute
)

// Registry holds every constructed component so callers (main, the manual
// strategy-3 surface, tests) can reach them after Run starts.
type Registry struct {
	Bus      *events.Bus
	Store    *db.Store
	Catalog  *catalog.Catalog
	Prices   *pricemap.Map
	Pricing  *pricing.Manager
	Orders   *order.Table
	Balances *balance.Manager
	Batches  *batch.Manager
	Router   *router.Router

	Directional *strategy.Directional
	HedgedAuto  *strategy.Hedged
	HedgedS3    *strategy.Hedged
}

// Engine wires the whole trading stack together.
type Engine struct {
	cfg      *config.Config
	hlSigner hyperliquid.Signer

	Registry *Registry
}

func New(cfg *config.Config, hlSigner hyperliquid.Signer) *Engine {
	return &Engine{cfg: cfg, hlSigner: hlSigner}
}

// Run builds the registry, bootstraps venue state, and supervises every
// component until the context ends or a task fails.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.cfg

	database, err := db.Open(cfg.DatabaseDirectory)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	store := db.NewStore(database)

	guards, err := config.LoadStrategyGuards(cfg.StrategyConfigPath)
	if err != nil {
		return fmt.Errorf("strategy guards: %w", err)
	}

	cat := catalog.New()
	binRest := binmarket.NewRestClient(cfg.BinanceTestnet)
	hypInfo := hypmarket.NewInfoClient(false)
	if err := feed.LoadBinanceInstruments(ctx, binRest, cat); err != nil {
		return err
	}
	if err := feed.LoadHyperliquidInstruments(ctx, hypInfo, cat); err != nil {
		return err
	}

	assets := e.universe(cat)
	if len(assets) == 0 {
		return fmt.Errorf("no tradable cross-venue assets")
	}
	binSymbols, hypCoins := venueSymbols(cat, assets)
	log.Printf("✓ universe: %d assets (%d binance symbols, %d hyperliquid coins)",
		len(assets), len(binSymbols), len(hypCoins))

	bus := events.NewBus()
	prices := pricemap.New()
	priceManager := pricing.NewManager(bus, store, prices)

	orders := order.NewTable(store)
	balances := balance.NewManager()

	clients, binClient, hlClient := e.buildClients()
	if hlClient != nil {
		if err := loadHyperliquidAssetIndexes(ctx, hypInfo, hlClient); err != nil {
			return err
		}
	}
	rt := router.New(cfg, bus, cat, orders, balances, clients...)
	batches := batch.NewManager(rt.Requests())
	rt.AttachBatches(batches)

	signals := signal.NewGenerator(bus, store, guards, priceManager.Active)
	spreads := signal.NewSpreadAccumulator(bus, store)
	event1 := sigevent.NewEvent1Generator(bus, store)
	pairEvents := sigevent.NewPairEventGenerator(bus, store, guards, cat, balances, rt.Positions, spreads)

	directional := strategy.NewDirectional(bus, store, guards, cat, orders, rt.Requests())
	hedgedAuto := strategy.NewHedged(bus, store, guards, cat, batches, rt.Requests(), true)
	hedgedS3 := strategy.NewHedged(bus, store, guards, cat, batches, rt.Requests(), false)

	e.Registry = &Registry{
		Bus:         bus,
		Store:       store,
		Catalog:     cat,
		Prices:      prices,
		Pricing:     priceManager,
		Orders:      orders,
		Balances:    balances,
		Batches:     batches,
		Router:      rt,
		Directional: directional,
		HedgedAuto:  hedgedAuto,
		HedgedS3:    hedgedS3,
	}

	if len(clients) > 0 {
		if err := rt.Bootstrap(ctx); err != nil {
			return err
		}
	} else {
		log.Printf("⚠️ no venue credentials configured, running market-data only")
	}

	var sup Supervisor
	sup.Add("price-manager", priceManager.Run)
	sup.Add("binance-feed", feed.NewBinanceFeed(
		binmarket.NewStreamClient(cfg.BinanceTestnet), cat, bus, binSymbols, cfg.SymbolsPerConnection).Run)
	sup.Add("hyperliquid-feed", feed.NewHyperliquidFeed(
		hypmarket.NewStreamClient(false), cat, bus, hypCoins).Run)
	sup.Add("signal-generator", signals.Run)
	sup.Add("spread-accumulator", spreads.Run)
	sup.Add("event1-generator", event1.Run)
	sup.Add("pair-event-generator", pairEvents.Run)
	sup.Add("balance-manager", func(ctx context.Context) error {
		balances.Run(ctx)
		return ctx.Err()
	})
	sup.Add("batch-manager", func(ctx context.Context) error {
		batches.Run(ctx)
		return ctx.Err()
	})
	sup.Add("router", rt.Run)
	sup.Add("monitor", monitor.New(bus, priceManager.Active,
		func() []catalog.Asset { return assets }).Run)

	if binClient != nil {
		stream := binfutures.NewUserStream(binClient, rt.Responses())
		sup.Add("binance-user-stream", stream.Run)
		sup.Add("binance-funding", e.fundingLoop(binClient, rt))
	}
	if hlClient != nil {
		sup.Add("hyperliquid-poller", e.hyperliquidPoller(rt))
	}

	if cfg.StrategyEnabled(1) {
		sup.Add("strategy-1", directional.Run)
	}
	if cfg.StrategyEnabled(2) {
		sup.Add("strategy-2", hedgedAuto.Run)
	}
	if cfg.StrategyEnabled(3) {
		sup.Add("strategy-3", hedgedS3.Run)
	}

	return sup.Run(ctx)
}

// universe intersects both venues, optionally restricted to configured
// assets.
func (e *Engine) universe(cat *catalog.Catalog) []catalog.Asset {
	all := cat.Assets(common.ExchangeBinanceFutures, common.ExchangeHyperliquid)
	if len(e.cfg.Symbols) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(e.cfg.Symbols))
	for _, s := range e.cfg.Symbols {
		wanted[s] = true
	}
	var out []catalog.Asset
	for _, a := range all {
		if wanted[string(a)] {
			out = append(out, a)
		}
	}
	return out
}

func venueSymbols(cat *catalog.Catalog, assets []catalog.Asset) (binSymbols, hypCoins []string) {
	for _, a := range assets {
		if ins, ok := cat.ByBase(a, common.ExchangeBinanceFutures); ok {
			binSymbols = append(binSymbols, ins.Symbol)
		}
		if ins, ok := cat.ByBase(a, common.ExchangeHyperliquid); ok {
			hypCoins = append(hypCoins, ins.Symbol)
		}
	}
	return binSymbols, hypCoins
}

// buildClients constructs the venue execution clients the credentials
// allow.
func (e *Engine) buildClients() ([]router.VenueClient, *binfutures.Client, *hyperliquid.Client) {
	var clients []router.VenueClient
	var binClient *binfutures.Client
	var hlClient *hyperliquid.Client
	if e.cfg.BinanceKey != "" && e.cfg.BinanceSecret != "" {
		binClient = binfutures.NewClient(binfutures.Config{
			APIKey:    e.cfg.BinanceKey,
			APISecret: e.cfg.BinanceSecret,
			Testnet:   e.cfg.BinanceTestnet,
		})
		clients = append(clients, binClient)
	}
	if e.cfg.HyperliquidAddress != "" && e.hlSigner != nil {
		hlClient = hyperliquid.NewClient(hyperliquid.Config{
			Address: e.cfg.HyperliquidAddress,
			Chain:   hyperliquid.Chain(e.cfg.HyperliquidChain),
		}, e.hlSigner)
		clients = append(clients, hlClient)
	}
	return clients, binClient, hlClient
}

// hyperliquidPoller stands in for a user stream: order state and balances
// come from periodic info queries.
func (e *Engine) hyperliquidPoller(rt *router.Router) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		syncTick := time.NewTicker(hyperliquidSyncEvery)
		defer syncTick.Stop()
		assetTick := time.NewTicker(hyperliquidAssetEvery)
		defer assetTick.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-syncTick.C:
				rt.Requests() <- common.RequestSyncOrders{Exchange: common.ExchangeHyperliquid}
			case <-assetTick.C:
				rt.Requests() <- common.RequestQueryAssets{Exchange: common.ExchangeHyperliquid}
			}
		}
	}
}

// fundingLoop pulls funding payments from the income endpoint; the user
// stream's funding events carry no amount.
func (e *Engine) fundingLoop(client *binfutures.Client, rt *router.Router) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		tick := time.NewTicker(fundingFetchEvery)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick.C:
				rows, err := client.FetchFunding(ctx, 100)
				if err != nil {
					log.Printf("⚠️ funding fetch failed: %v", err)
					continue
				}
				for _, f := range rows {
					rt.Responses() <- f
				}
			}
		}
	}
}

func loadHyperliquidAssetIndexes(ctx context.Context, info *hypmarket.InfoClient, client *hyperliquid.Client) error {
	metas, err := info.GetMeta(ctx)
	if err != nil {
		return fmt.Errorf("hyperliquid asset indexes: %w", err)
	}
	indexes := make(map[string]int, len(metas))
	for i, m := range metas {
		indexes[m.Name] = i
	}
	client.SetAssetIndexes(indexes)
	return nil
}
