// Package sigevent joins raw signals into strategy-consumable events: the
// directional event for strategy 1 and the hedged-pair events for
// strategies 2 and 3.
package sigevent

import (
	"context"
	"log"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/pkg/db"
)

// joinWindowMs bounds how far apart the two legs of a strategy-1 event may
// have been observed.
const joinWindowMs = 1_000

// Event1Generator pairs a price-difference signal with a price-change signal
// on the same asset. Both legs must point the same way: a rising trend with
// a positive basis-point gap, or a falling trend with a negative one.
type Event1Generator struct {
	bus   *events.Bus
	store *db.Store

	diffs   map[catalog.Asset]db.SignalPriceDifference
	changes map[catalog.Asset]db.SignalPriceChange
}

func NewEvent1Generator(bus *events.Bus, store *db.Store) *Event1Generator {
	return &Event1Generator{
		bus:     bus,
		store:   store,
		diffs:   make(map[catalog.Asset]db.SignalPriceDifference),
		changes: make(map[catalog.Asset]db.SignalPriceChange),
	}
}

func (g *Event1Generator) Run(ctx context.Context) error {
	diffs, unsubD := g.bus.Subscribe(events.TopicSignalDifference, 100)
	defer unsubD()
	changes, unsubC := g.bus.Subscribe(events.TopicSignalChange, 100)
	defer unsubC()

	log.Println("✓ event1 generator started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-diffs:
			if !ok {
				return nil
			}
			if s, ok := raw.(db.SignalPriceDifference); ok {
				g.onDifference(ctx, s)
			}
		case raw, ok := <-changes:
			if !ok {
				return nil
			}
			if s, ok := raw.(db.SignalPriceChange); ok {
				g.onChange(ctx, s)
			}
		}
	}
}

func (g *Event1Generator) onDifference(ctx context.Context, s db.SignalPriceDifference) {
	g.diffs[catalog.Asset(s.Asset)] = s
	g.tryJoin(ctx, catalog.Asset(s.Asset))
}

func (g *Event1Generator) onChange(ctx context.Context, s db.SignalPriceChange) {
	g.changes[catalog.Asset(s.Asset)] = s
	g.tryJoin(ctx, catalog.Asset(s.Asset))
}

func (g *Event1Generator) tryJoin(ctx context.Context, asset catalog.Asset) {
	diff, okD := g.diffs[asset]
	change, okC := g.changes[asset]
	if !okD || !okC {
		return
	}
	gap := diff.Datetime - change.Datetime
	if gap < -joinWindowMs || gap > joinWindowMs {
		return
	}
	// directions must agree
	if change.IsRising != (diff.Bp > 0) {
		return
	}

	level := diff.Level
	if weaker(change.Level, diff.Level) {
		level = change.Level
	}
	datetime := diff.Datetime
	if change.Datetime > datetime {
		datetime = change.Datetime
	}
	lastPrice := change.High
	if change.IsRising {
		lastPrice = change.Low
	}

	id, err := g.store.NextIndex(ctx, "event_price_change_and_diff")
	if err != nil {
		log.Printf("❌ event1: index allocation failed: %v", err)
		return
	}
	ev := db.EventPriceChangeAndDiff{
		ID:                 id,
		Datetime:           datetime,
		Asset:              string(asset),
		SignalLevel:        level,
		SignalDifferenceID: diff.ID,
		SignalChangeID:     change.ID,
		IsRising:           change.IsRising,
		Price:              change.Price,
		LastPrice:          lastPrice,
		BinancePrice:       diff.Binance,
		HyperPrice:         diff.Hyper,
		Bp:                 diff.Bp,
		Status:             db.EventGenerated,
	}
	if err := g.store.InsertEvent1(ctx, ev); err != nil {
		log.Printf("❌ event1: persist failed: %v", err)
		return
	}
	g.bus.Publish(events.TopicEventOne, ev)

	// each signal joins at most once
	delete(g.diffs, asset)
	delete(g.changes, asset)
}

func weaker(a, b db.SignalLevel) bool {
	rank := map[db.SignalLevel]int{db.LevelNormal: 0, db.LevelHigh: 1, db.LevelCritical: 2}
	return rank[a] < rank[b]
}
