package signal

import (
	"context"
	"log"
	"sync"
	"time"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/pricing"
	"arb-engine/pkg/db"
)

const (
	spreadWindow          = 5 * time.Minute
	spreadSummaryInterval = 10 * time.Second
)

// SpreadMean is the per-asset rolling mean of the two venue spreads,
// queried by the pair event generator for threshold arming.
type SpreadMean struct {
	MeanBuy  float64
	MeanSell float64
	Samples  int
}

type spreadSample struct {
	buy      float64
	sell     float64
	datetime int64
}

// SpreadAccumulator maintains a 5-minute window of spread observations per
// asset and summarizes it into a mean table every 10 seconds.
type SpreadAccumulator struct {
	bus   *events.Bus
	store *db.Store

	mu      sync.RWMutex
	samples map[catalog.Asset][]spreadSample
	means   map[catalog.Asset]SpreadMean
}

func NewSpreadAccumulator(bus *events.Bus, store *db.Store) *SpreadAccumulator {
	return &SpreadAccumulator{
		bus:     bus,
		store:   store,
		samples: make(map[catalog.Asset][]spreadSample),
		means:   make(map[catalog.Asset]SpreadMean),
	}
}

// Mean returns the current rolling mean for an asset.
func (a *SpreadAccumulator) Mean(asset catalog.Asset) (SpreadMean, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.means[asset]
	return m, ok
}

// Run consumes snapshots and ticks summaries until the context ends.
func (a *SpreadAccumulator) Run(ctx context.Context) error {
	in, unsub := a.bus.Subscribe(events.TopicBestBidAsk, 200)
	defer unsub()

	ticker := time.NewTicker(spreadSummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.summarize(ctx)
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			snap, isSnap := raw.(pricing.BestBidAsk)
			if !isSnap {
				continue
			}
			a.observe(snap)
		}
	}
}

func (a *SpreadAccumulator) observe(snap pricing.BestBidAsk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples[snap.Asset] = append(a.samples[snap.Asset], spreadSample{
		buy:      snap.SpreadBuyHyper(),
		sell:     snap.SpreadSellHyper(),
		datetime: snap.Datetime,
	})
}

func (a *SpreadAccumulator) summarize(ctx context.Context) {
	cutoff := time.Now().Add(-spreadWindow).UnixMilli()
	now := time.Now().UnixMilli()

	a.mu.Lock()
	for asset, samples := range a.samples {
		idx := 0
		for idx < len(samples) && samples[idx].datetime < cutoff {
			idx++
		}
		samples = samples[idx:]
		a.samples[asset] = samples
		if len(samples) == 0 {
			delete(a.means, asset)
			continue
		}
		var sumBuy, sumSell float64
		for _, s := range samples {
			sumBuy += s.buy
			sumSell += s.sell
		}
		a.means[asset] = SpreadMean{
			MeanBuy:  sumBuy / float64(len(samples)),
			MeanSell: sumSell / float64(len(samples)),
			Samples:  len(samples),
		}
	}
	snapshot := make(map[catalog.Asset]SpreadMean, len(a.means))
	for asset, m := range a.means {
		snapshot[asset] = m
	}
	a.mu.Unlock()

	for asset, m := range snapshot {
		err := a.store.UpsertSpreadMean(ctx, db.SpreadMeanRow{
			Asset:     string(asset),
			MeanBuy:   m.MeanBuy,
			MeanSell:  m.MeanSell,
			Samples:   m.Samples,
			UpdatedAt: now,
		})
		if err != nil {
			log.Printf("spread mean upsert: %v", err)
		}
	}
}
