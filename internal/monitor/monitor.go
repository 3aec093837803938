// Package monitor watches engine health: bus back-pressure and market-data
// staleness surface as periodic warnings instead of silent degradation.
package monitor

import (
	"context"
	"log"
	"time"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
)

const checkEvery = 10 * time.Second

// watched topics in fan-out order
var topics = []events.Topic{
	events.TopicMarketEvent,
	events.TopicBestBidAsk,
	events.TopicSignalDifference,
	events.TopicSignalChange,
	events.TopicSignalRatio,
	events.TopicEventOne,
	events.TopicEventPosition,
	events.TopicExecutionResponse,
	events.TopicOrderUpdate,
	events.TopicAccountingBook,
}

// Monitor reports dropped bus messages and stale price assets.
type Monitor struct {
	bus    *events.Bus
	active func(catalog.Asset) bool
	assets func() []catalog.Asset

	lastDropped map[events.Topic]uint64
}

func New(bus *events.Bus, active func(catalog.Asset) bool, assets func() []catalog.Asset) *Monitor {
	return &Monitor{
		bus:         bus,
		active:      active,
		assets:      assets,
		lastDropped: make(map[events.Topic]uint64),
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	tick := time.NewTicker(checkEvery)
	defer tick.Stop()

	log.Printf("✓ monitor started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	for _, t := range topics {
		dropped := m.bus.Dropped(t)
		if delta := dropped - m.lastDropped[t]; delta > 0 {
			log.Printf("⚠️ monitor: %s dropped %d messages, slow consumer", t, delta)
		}
		m.lastDropped[t] = dropped
	}

	if m.active == nil || m.assets == nil {
		return
	}
	stale := 0
	for _, a := range m.assets() {
		if !m.active(a) {
			stale++
		}
	}
	if stale > 0 {
		log.Printf("⚠️ monitor: %d assets without fresh quotes", stale)
	}
}
