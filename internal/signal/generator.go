package signal

import (
	"context"
	"log"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/pricing"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
)

// ratio thresholds for the instantaneous paired-venue signals
const (
	ratioLow  = 0.997
	ratioHigh = 1.003
)

// price-change rolling window
const (
	changeWindowMs    = 60_000
	changeThresholdBp = 30.0
)

// Generator turns cross-venue snapshots into persisted, broadcast signals:
// basis-point divergence, paired-venue ratio breaches, and rolling-window
// price changes.
type Generator struct {
	bus    *events.Bus
	store  *db.Store
	guards config.StrategyGuards

	// active suppresses signals on stale feeds
	active func(catalog.Asset) bool

	cooldown map[catalog.Asset]int64
	windows  map[catalog.Asset]*changeWindow
}

func NewGenerator(bus *events.Bus, store *db.Store, guards config.StrategyGuards, active func(catalog.Asset) bool) *Generator {
	if active == nil {
		active = func(catalog.Asset) bool { return true }
	}
	return &Generator{
		bus:      bus,
		store:    store,
		guards:   guards,
		active:   active,
		cooldown: make(map[catalog.Asset]int64),
		windows:  make(map[catalog.Asset]*changeWindow),
	}
}

// Run consumes snapshots until the context ends.
func (g *Generator) Run(ctx context.Context) error {
	in, unsub := g.bus.Subscribe(events.TopicBestBidAsk, 200)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			snap, isSnap := raw.(pricing.BestBidAsk)
			if !isSnap {
				continue
			}
			g.OnSnapshot(ctx, snap)
		}
	}
}

// OnSnapshot evaluates every generator against one snapshot.
func (g *Generator) OnSnapshot(ctx context.Context, snap pricing.BestBidAsk) {
	if !g.active(snap.Asset) {
		return
	}
	g.basisPointDiff(ctx, snap)
	g.venueRatios(ctx, snap)
	g.priceChange(ctx, snap)
}

// level grades |bp| against the configured thresholds.
func (g *Generator) level(bp float64) db.SignalLevel {
	abs := bp
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < g.guards.BpThresholdHigh:
		return db.LevelNormal
	case abs < g.guards.BpThresholdCritical:
		return db.LevelHigh
	default:
		return db.LevelCritical
	}
}

// basisPointDiff emits the hyper-bid vs hyper-mark divergence, subject to
// the per-asset cooldown.
func (g *Generator) basisPointDiff(ctx context.Context, snap pricing.BestBidAsk) {
	if snap.HyperMark == 0 {
		return
	}
	if last, ok := g.cooldown[snap.Asset]; ok && snap.Datetime-last < g.guards.SignalCooldownMs {
		return
	}

	bp := 10000 * (snap.HypBid - snap.HyperMark) / snap.HyperMark
	id, err := g.store.NextIndex(ctx, "signal_price_difference")
	if err != nil {
		log.Printf("signal id: %v", err)
		return
	}
	row := db.SignalPriceDifference{
		ID:          id,
		Datetime:    snap.Datetime,
		Asset:       string(snap.Asset),
		Binance:     snap.BinBid,
		Hyper:       snap.HypBid,
		HyperMark:   snap.HyperMark,
		HyperOracle: snap.HyperOracle,
		Difference:  snap.HypBid - snap.HyperMark,
		Bp:          bp,
		Level:       g.level(bp),
	}
	if err := g.store.InsertSignalPriceDifference(ctx, row); err != nil {
		log.Printf("signal insert: %v", err)
		return
	}
	g.cooldown[snap.Asset] = snap.Datetime
	g.bus.Publish(events.TopicSignalDifference, row)
}

// venueRatios emits BinAskHypBid / BinBidHypAsk breaches.
func (g *Generator) venueRatios(ctx context.Context, snap pricing.BestBidAsk) {
	if snap.HypBid > 0 {
		ratio := snap.BinAsk / snap.HypBid
		if ratio < ratioLow || ratio > ratioHigh {
			g.emitRatio(ctx, snap, db.RatioBinAskHypBid, ratio, snap.BinAsk, snap.HypBid)
		}
	}
	if snap.HypAsk > 0 {
		ratio := snap.BinBid / snap.HypAsk
		if ratio < ratioLow || ratio > ratioHigh {
			g.emitRatio(ctx, snap, db.RatioBinBidHypAsk, ratio, snap.BinBid, snap.HypAsk)
		}
	}
}

func (g *Generator) emitRatio(ctx context.Context, snap pricing.BestBidAsk, kind db.RatioKind, ratio, binPrice, hypPrice float64) {
	id, err := g.store.NextIndex(ctx, "signal_bin_hyp_ratio")
	if err != nil {
		log.Printf("signal id: %v", err)
		return
	}
	bp := 10000 * (ratio - 1)
	row := db.SignalBinHypRatio{
		ID:       id,
		Datetime: snap.Datetime,
		Asset:    string(snap.Asset),
		Kind:     kind,
		Ratio:    ratio,
		BinPrice: binPrice,
		HypPrice: hypPrice,
		Level:    g.level(bp),
	}
	if err := g.store.InsertSignalRatio(ctx, row); err != nil {
		log.Printf("signal insert: %v", err)
		return
	}
	g.bus.Publish(events.TopicSignalRatio, row)
}

// changeWindow tracks the rolling high/low of one feed.
type changeWindow struct {
	samples []sample
}

type sample struct {
	price    float64
	datetime int64
}

func (w *changeWindow) push(price float64, datetime int64) (high, low float64) {
	w.samples = append(w.samples, sample{price, datetime})
	cutoff := datetime - changeWindowMs
	idx := 0
	for idx < len(w.samples) && w.samples[idx].datetime < cutoff {
		idx++
	}
	w.samples = w.samples[idx:]

	high, low = w.samples[0].price, w.samples[0].price
	for _, s := range w.samples[1:] {
		if s.price > high {
			high = s.price
		}
		if s.price < low {
			low = s.price
		}
	}
	return high, low
}

// priceChange emits direction + magnitude once the rolling window's
// high/low span crosses the threshold.
func (g *Generator) priceChange(ctx context.Context, snap pricing.BestBidAsk) {
	w := g.windows[snap.Asset]
	if w == nil {
		w = &changeWindow{}
		g.windows[snap.Asset] = w
	}
	price := snap.HypBid
	high, low := w.push(price, snap.Datetime)
	if low == 0 {
		return
	}
	bp := 10000 * (high - low) / low
	if bp < changeThresholdBp {
		return
	}

	id, err := g.store.NextIndex(ctx, "signal_price_change")
	if err != nil {
		log.Printf("signal id: %v", err)
		return
	}
	// rising when the latest price sits in the upper half of the span
	isRising := price-low > high-price
	row := db.SignalPriceChange{
		ID:       id,
		Datetime: snap.Datetime,
		Asset:    string(snap.Asset),
		Exchange: "Hyperliquid",
		Price:    price,
		High:     high,
		Low:      low,
		Bp:       bp,
		IsRising: isRising,
		Level:    g.level(bp),
	}
	if err := g.store.InsertSignalPriceChange(ctx, row); err != nil {
		log.Printf("signal insert: %v", err)
		return
	}
	// window resets after an emission so one move yields one signal
	w.samples = w.samples[:0]
	g.bus.Publish(events.TopicSignalChange, row)
}
