package pricing

import (
	"context"
	"log"
	"time"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/feed"
	"arb-engine/internal/pricemap"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

// BestBidAsk is the per-asset cross-venue snapshot fanned out to signal
// generators. Emitted only when every contributing feed is present.
type BestBidAsk struct {
	Asset       catalog.Asset
	Datetime    int64 // max of contributing timestamps
	BinAsk      float64
	BinAskSize  float64
	BinBid      float64
	BinBidSize  float64
	HypAsk      float64
	HypAskSize  float64
	HypBid      float64
	HypBidSize  float64
	HyperOracle float64
	HyperMark   float64
}

// SpreadSellHyper is hyper_bid/binance_ask - 1: the edge selling on
// Hyperliquid and buying on Binance.
func (b BestBidAsk) SpreadSellHyper() float64 {
	if b.BinAsk == 0 {
		return 0
	}
	return b.HypBid/b.BinAsk - 1
}

// SpreadBuyHyper is binance_bid/hyper_ask - 1: the edge buying on
// Hyperliquid and selling on Binance.
func (b BestBidAsk) SpreadBuyHyper() float64 {
	if b.HypAsk == 0 {
		return 0
	}
	return b.BinBid/b.HypAsk - 1
}

// Manager folds raw market events into the price map, emits cross-venue
// snapshots, and maintains the funding-rate and candlestick tables.
type Manager struct {
	bus    *events.Bus
	store  *db.Store
	prices *pricemap.Map

	// db write throttle per asset
	lastPersist map[catalog.Asset]int64
}

func NewManager(bus *events.Bus, store *db.Store, prices *pricemap.Map) *Manager {
	return &Manager{
		bus:         bus,
		store:       store,
		prices:      prices,
		lastPersist: make(map[catalog.Asset]int64),
	}
}

const idleWarnInterval = 10 * time.Second

// Run consumes market events until the context ends.
func (m *Manager) Run(ctx context.Context) error {
	in, unsub := m.bus.Subscribe(events.TopicMarketEvent, 400)
	defer unsub()

	watchdog := time.NewTicker(idleWarnInterval)
	defer watchdog.Stop()
	lastEvent := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchdog.C:
			if since := time.Since(lastEvent); since > idleWarnInterval {
				log.Printf("⚠️ price manager idle for %v", since.Round(time.Second))
			}
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			ev, isMarket := raw.(feed.MarketEvent)
			if !isMarket {
				continue
			}
			lastEvent = time.Now()
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev feed.MarketEvent) {
	switch ev.Kind {
	case feed.KindQuote:
		m.prices.SetQuote(ev.Asset, ev.Exchange, ev.Ask, ev.AskSize, ev.Bid, ev.BidSize, ev.Datetime)
		m.emitSnapshot(ctx, ev.Asset)

	case feed.KindOracle:
		m.prices.Set(pricemap.Key{Asset: ev.Asset, Exchange: ev.Exchange, Type: pricemap.TypeOracle}, ev.Price, ev.Datetime)

	case feed.KindMark:
		m.prices.Set(pricemap.Key{Asset: ev.Asset, Exchange: ev.Exchange, Type: pricemap.TypeMark}, ev.Price, ev.Datetime)

	case feed.KindTrade:
		m.prices.Set(pricemap.Key{Asset: ev.Asset, Exchange: ev.Exchange, Type: pricemap.TypeLast}, ev.Price, ev.Datetime)

	case feed.KindFundingRate:
		if err := m.store.UpsertFundingRate(ctx, string(ev.Exchange), ev.Symbol, ev.Rate, ev.Datetime); err != nil {
			log.Printf("funding rate upsert: %v", err)
		}

	case feed.KindOHLCVT:
		err := m.store.UpsertCandlestick(ctx, db.Candlestick{
			Exchange: string(ev.Exchange),
			Symbol:   ev.Symbol,
			OpenTime: ev.OpenTime,
			Open:     ev.Open,
			High:     ev.High,
			Low:      ev.Low,
			Close:    ev.Close,
			Volume:   ev.Volume,
		})
		if err != nil {
			log.Printf("candlestick upsert: %v", err)
		}
	}
}

// emitSnapshot converts the price map into a cross-venue snapshot. Emission
// requires every contributing feed to be present for the asset.
func (m *Manager) emitSnapshot(ctx context.Context, asset catalog.Asset) {
	snap, ok := m.Snapshot(asset)
	if !ok {
		return
	}

	m.bus.Publish(events.TopicBestBidAsk, snap)

	// persist at most one row per second per asset
	now := time.Now().UnixMilli()
	if now-m.lastPersist[asset] < 1000 {
		return
	}
	m.lastPersist[asset] = now

	id, err := m.store.NextIndex(ctx, "best_bid_ask")
	if err != nil {
		log.Printf("best_bid_ask id: %v", err)
		return
	}
	row := db.BestBidAskRow{
		ID:              id,
		Datetime:        snap.Datetime,
		Asset:           string(snap.Asset),
		BinAsk:          snap.BinAsk,
		BinAskSize:      snap.BinAskSize,
		BinBid:          snap.BinBid,
		BinBidSize:      snap.BinBidSize,
		HypAsk:          snap.HypAsk,
		HypAskSize:      snap.HypAskSize,
		HypBid:          snap.HypBid,
		HypBidSize:      snap.HypBidSize,
		HyperOracle:     snap.HyperOracle,
		HyperMark:       snap.HyperMark,
		SpreadBuyHyper:  snap.SpreadBuyHyper(),
		SpreadSellHyper: snap.SpreadSellHyper(),
	}
	if err := m.store.InsertBestBidAsk(ctx, row); err != nil {
		log.Printf("best_bid_ask insert: %v", err)
	}
}

// Snapshot assembles the current cross-venue view for an asset; ok is false
// until all contributing feeds have reported.
func (m *Manager) Snapshot(asset catalog.Asset) (BestBidAsk, bool) {
	type probe struct {
		exchange common.Exchange
		typ      pricemap.PriceType
		dst      *float64
	}
	snap := BestBidAsk{Asset: asset}
	probes := []probe{
		{common.ExchangeBinanceFutures, pricemap.TypeAsk, &snap.BinAsk},
		{common.ExchangeBinanceFutures, pricemap.TypeAskSize, &snap.BinAskSize},
		{common.ExchangeBinanceFutures, pricemap.TypeBid, &snap.BinBid},
		{common.ExchangeBinanceFutures, pricemap.TypeBidSize, &snap.BinBidSize},
		{common.ExchangeHyperliquid, pricemap.TypeAsk, &snap.HypAsk},
		{common.ExchangeHyperliquid, pricemap.TypeAskSize, &snap.HypAskSize},
		{common.ExchangeHyperliquid, pricemap.TypeBid, &snap.HypBid},
		{common.ExchangeHyperliquid, pricemap.TypeBidSize, &snap.HypBidSize},
		{common.ExchangeHyperliquid, pricemap.TypeOracle, &snap.HyperOracle},
		{common.ExchangeHyperliquid, pricemap.TypeMark, &snap.HyperMark},
	}
	for _, p := range probes {
		e, ok := m.prices.Get(pricemap.Key{Asset: asset, Exchange: p.exchange, Type: p.typ})
		if !ok {
			return BestBidAsk{}, false
		}
		*p.dst = e.Value
		if e.Datetime > snap.Datetime {
			snap.Datetime = e.Datetime
		}
	}
	return snap, true
}

// Active reports whether both venues' quote feeds are currently live for the
// asset. Downstream uses this to suppress signals on stale feeds.
func (m *Manager) Active(asset catalog.Asset) bool {
	return m.prices.Active(pricemap.Key{Asset: asset, Exchange: common.ExchangeBinanceFutures, Type: pricemap.TypeBid}) &&
		m.prices.Active(pricemap.Key{Asset: asset, Exchange: common.ExchangeHyperliquid, Type: pricemap.TypeBid})
}
