package sigevent

import (
	"context"
	"log"
	"math"
	"time"

	"arb-engine/internal/balance"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/pricing"
	"arb-engine/internal/signal"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

const flagsRefreshEvery = 30 * time.Second

// PositionFunc reads the reconciled positions of one exchange.
type PositionFunc func(common.Exchange) map[string]float64

// SpreadMeanSource serves the rolling per-asset spread means.
type SpreadMeanSource interface {
	Mean(asset catalog.Asset) (signal.SpreadMean, bool)
}

// PairEventGenerator watches the cross-venue book and the reconciled
// positions and emits hedged-pair events: OpenHedged when the spread pays,
// CloseHedged when it collapses, CloseSingleSided when the hedge is lopsided.
type PairEventGenerator struct {
	bus       *events.Bus
	store     *db.Store
	guards    config.StrategyGuards
	cat       *catalog.Catalog
	balances  *balance.Manager
	positions PositionFunc
	spreads   SpreadMeanSource

	cooldown map[catalog.Asset]int64
	flags    map[string]db.SymbolFlags

	nowFn func() int64
}

func NewPairEventGenerator(bus *events.Bus, store *db.Store, guards config.StrategyGuards,
	cat *catalog.Catalog, balances *balance.Manager, positions PositionFunc,
	spreads SpreadMeanSource) *PairEventGenerator {
	return &PairEventGenerator{
		bus:       bus,
		store:     store,
		guards:    guards,
		cat:       cat,
		balances:  balances,
		positions: positions,
		spreads:   spreads,
		cooldown:  make(map[catalog.Asset]int64),
		flags:     make(map[string]db.SymbolFlags),
		nowFn:     func() int64 { return time.Now().UnixMilli() },
	}
}

func (g *PairEventGenerator) Run(ctx context.Context) error {
	in, unsub := g.bus.Subscribe(events.TopicBestBidAsk, 200)
	defer unsub()

	g.refreshFlags(ctx)
	flagsTicker := time.NewTicker(flagsRefreshEvery)
	defer flagsTicker.Stop()

	log.Println("✓ pair event generator started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flagsTicker.C:
			g.refreshFlags(ctx)
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			if snap, ok := raw.(pricing.BestBidAsk); ok {
				g.OnSnapshot(ctx, snap)
			}
		}
	}
}

func (g *PairEventGenerator) refreshFlags(ctx context.Context) {
	rows, err := g.store.ListSymbolFlags(ctx)
	if err != nil {
		log.Printf("⚠️ pair events: symbol flags refresh failed: %v", err)
		return
	}
	flags := make(map[string]db.SymbolFlags, len(rows))
	for _, r := range rows {
		flags[r.Asset] = r
	}
	g.flags = flags
}

func (g *PairEventGenerator) tradable(asset catalog.Asset) bool {
	f, ok := g.flags[string(asset)]
	if !ok {
		return true // unflagged assets trade by default
	}
	return f.Enabled && !f.Blacklisted
}

// OnSnapshot evaluates one cross-venue snapshot.
func (g *PairEventGenerator) OnSnapshot(ctx context.Context, snap pricing.BestBidAsk) {
	if !g.tradable(snap.Asset) {
		return
	}
	now := g.nowFn()
	if until, ok := g.cooldown[snap.Asset]; ok && now < until {
		return
	}
	if snap.BinBid <= 0 || snap.BinAsk <= 0 || snap.HypBid <= 0 || snap.HypAsk <= 0 {
		return
	}

	baIns, okB := g.cat.ByBase(snap.Asset, common.ExchangeBinanceFutures)
	hlIns, okH := g.cat.ByBase(snap.Asset, common.ExchangeHyperliquid)
	if !okB || !okH {
		return
	}

	baPos := g.positions(common.ExchangeBinanceFutures)[baIns.Symbol]
	hlPos := g.positions(common.ExchangeHyperliquid)[hlIns.Symbol]
	price := (snap.BinBid + snap.HypAsk) / 2
	unhedged := math.Abs(math.Abs(hlPos)-math.Abs(baPos)) * price

	if unhedged > g.guards.MaxUnhedgedNotional && (baPos != 0 || hlPos != 0) {
		g.emitCloseSingleSided(ctx, snap, baPos, hlPos)
		return
	}
	if baPos != 0 && hlPos != 0 && g.maybeCloseHedged(ctx, snap, baPos, hlPos) {
		return
	}
	g.maybeOpenHedged(ctx, snap, baIns, hlIns, price, baPos, hlPos)
}

// maybeCloseHedged fires when the spread that opened the pair has collapsed.
// It reports whether a close was emitted.
func (g *PairEventGenerator) maybeCloseHedged(ctx context.Context, snap pricing.BestBidAsk, baPos, hlPos float64) bool {
	// hl short means the pair was opened selling Hyperliquid
	var spread float64
	var baSide, hlSide common.Side
	if hlPos < 0 {
		spread = snap.SpreadSellHyper()
		baSide, hlSide = common.SideSell, common.SideBuy // closing sides
	} else {
		spread = snap.SpreadBuyHyper()
		baSide, hlSide = common.SideBuy, common.SideSell
	}
	if spread >= g.guards.SpreadThresholdClose+g.guards.SpreadThresholdCloseOffset {
		return false
	}
	size := math.Min(math.Abs(baPos), math.Abs(hlPos))
	g.emit(ctx, snap, db.KindCloseHedged, baSide, hlSide, size, baPos, hlPos, db.EventGenerated)
	return true
}

func (g *PairEventGenerator) emitCloseSingleSided(ctx context.Context, snap pricing.BestBidAsk, baPos, hlPos float64) {
	var baSide, hlSide common.Side
	var size float64
	if math.Abs(baPos) > math.Abs(hlPos) {
		size = math.Abs(baPos) - math.Abs(hlPos)
		baSide = common.SideSell
		if baPos < 0 {
			baSide = common.SideBuy
		}
	} else {
		size = math.Abs(hlPos) - math.Abs(baPos)
		hlSide = common.SideSell
		if hlPos < 0 {
			hlSide = common.SideBuy
		}
	}
	g.emit(ctx, snap, db.KindCloseSingleSided, baSide, hlSide, size, baPos, hlPos, db.EventGenerated)
}

// maybeOpenHedged arms an opening pair when either direction's spread beats
// its rolling mean by the configured offset and all size and fund guards
// pass. Existing exposure does not bar a new pair as long as each leg stays
// under the per-leg notional cap.
func (g *PairEventGenerator) maybeOpenHedged(ctx context.Context, snap pricing.BestBidAsk,
	baIns, hlIns catalog.Instrument, price, baPos, hlPos float64) {

	mean, haveMean := g.spreads.Mean(snap.Asset)
	if !haveMean {
		return
	}

	sellEdge := snap.SpreadSellHyper()
	buyEdge := snap.SpreadBuyHyper()

	var baSide, hlSide common.Side
	var edge, topBa, topHl float64
	switch {
	case sellEdge >= g.guards.SpreadThresholdOpen && sellEdge >= mean.MeanSell+g.guards.SpreadThresholdOpenOffset:
		// sell Hyperliquid, buy Binance
		baSide, hlSide = common.SideBuy, common.SideSell
		edge = sellEdge
		topBa, topHl = snap.BinAskSize, snap.HypBidSize
	case buyEdge >= g.guards.SpreadThresholdOpen && buyEdge >= mean.MeanBuy+g.guards.SpreadThresholdOpenOffset:
		baSide, hlSide = common.SideSell, common.SideBuy
		edge = buyEdge
		topBa, topHl = snap.BinBidSize, snap.HypAskSize
	default:
		return
	}

	if math.Abs(hlPos)*snap.HypAsk > g.guards.MaxPositionNotionalSize ||
		math.Abs(baPos)*snap.BinAsk > g.guards.MaxPositionNotionalSize {
		return
	}
	if g.positionCount(common.ExchangeBinanceFutures, price) >= g.guards.MaxPositionCount ||
		g.positionCount(common.ExchangeHyperliquid, price) >= g.guards.MaxPositionCount {
		return
	}

	size := math.Min(topBa, topHl)
	size = math.Min(size, g.guards.MaxSizeNotional/price)
	size = baIns.RoundSize(size)
	size = hlIns.RoundSize(size)
	if size*price < g.guards.MinSizeNotional {
		g.emit(ctx, snap, db.KindOpenHedged, baSide, hlSide, size, baPos, hlPos, db.EventTooSmallOpportunity)
		return
	}

	need := size * price
	if g.balances.Snapshot(common.ExchangeBinanceFutures).Available < need ||
		g.balances.Snapshot(common.ExchangeHyperliquid).Available < need {
		g.emit(ctx, snap, db.KindOpenHedged, baSide, hlSide, size, baPos, hlPos, db.EventInsufficientFund)
		return
	}

	log.Printf("📈 pair events: %s open %s/%s, spread %.4f over mean, size %v",
		snap.Asset, baSide, hlSide, edge, size)
	g.emit(ctx, snap, db.KindOpenHedged, baSide, hlSide, size, baPos, hlPos, db.EventGenerated)
}

// positionCount counts instruments whose notional exceeds the counting
// threshold on one venue.
func (g *PairEventGenerator) positionCount(exchange common.Exchange, price float64) int {
	n := 0
	for _, qty := range g.positions(exchange) {
		if math.Abs(qty)*price > g.guards.PositionCountThresholdSize {
			n++
		}
	}
	return n
}

func (g *PairEventGenerator) emit(ctx context.Context, snap pricing.BestBidAsk, kind db.PositionEventKind,
	baSide, hlSide common.Side, size, baPos, hlPos float64, status db.EventStatus) {

	now := g.nowFn()
	id, err := g.store.NextIndex(ctx, "event_position")
	if err != nil {
		log.Printf("❌ pair events: index allocation failed: %v", err)
		return
	}
	ev := db.EventPosition{
		ID:              id,
		Datetime:        now,
		Asset:           string(snap.Asset),
		Kind:            kind,
		BaBid:           snap.BinBid,
		BaAsk:           snap.BinAsk,
		HlBid:           snap.HypBid,
		HlAsk:           snap.HypAsk,
		BaBalance:       baPos,
		HlBalance:       hlPos,
		OpportunitySize: size,
		Expiry:          now + g.guards.Strategy3EventExpiryMs,
		OrderBaSide:     string(baSide),
		OrderHlSide:     string(hlSide),
		Status:          status,
	}
	if err := g.store.InsertEventPosition(ctx, ev); err != nil {
		log.Printf("❌ pair events: persist failed: %v", err)
		return
	}
	if status == db.EventGenerated {
		g.bus.Publish(events.TopicEventPosition, ev)
	}
	g.cooldown[snap.Asset] = now + g.guards.SignalCooldownMs
}
