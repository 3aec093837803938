package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"arb-engine/internal/batch"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

// manualKind is the strategy-3 operator surface.
type manualKind int

const (
	manualCapture manualKind = iota
	manualRelease
)

type manualCmd struct {
	kind    manualKind
	eventID uint64
	reply   chan error
}

// Hedged opens delta-neutral pairs across Binance and Hyperliquid from
// position events. Strategy 2 acts on every generated event; strategy 3
// only on events an operator explicitly captures.
type Hedged struct {
	bus      *events.Bus
	store    *db.Store
	guards   config.StrategyGuards
	cat      *catalog.Catalog
	batches  *batch.Manager
	requests chan<- common.ExecutionRequest

	auto    bool // strategy 2 behavior: act without manual capture
	pending map[uint64]db.EventPosition
	manual  chan manualCmd

	nowFn func() int64
}

func NewHedged(bus *events.Bus, store *db.Store, guards config.StrategyGuards,
	cat *catalog.Catalog, batches *batch.Manager, requests chan<- common.ExecutionRequest,
	auto bool) *Hedged {

	return &Hedged{
		bus:      bus,
		store:    store,
		guards:   guards,
		cat:      cat,
		batches:  batches,
		requests: requests,
		auto:     auto,
		pending:  make(map[uint64]db.EventPosition),
		manual:   make(chan manualCmd, 8),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *Hedged) strategyID() common.StrategyID {
	if s.auto {
		return common.StrategyTwo
	}
	return common.StrategyThree
}

func (s *Hedged) Run(ctx context.Context) error {
	evs, unsub := s.bus.Subscribe(events.TopicEventPosition, 50)
	defer unsub()

	log.Printf("✓ strategy %d started", s.strategyID())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-evs:
			if e, ok := msg.(db.EventPosition); ok {
				s.onEvent(ctx, e)
			}
		case cmd := <-s.manual:
			switch cmd.kind {
			case manualCapture:
				cmd.reply <- s.capture(ctx, cmd.eventID)
			case manualRelease:
				cmd.reply <- s.release(cmd.eventID)
			}
		}
	}
}

// CaptureEvent arms a still-valid open event (strategy 3 only).
func (s *Hedged) CaptureEvent(ctx context.Context, eventID uint64) error {
	cmd := manualCmd{kind: manualCapture, eventID: eventID, reply: make(chan error, 1)}
	select {
	case s.manual <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleasePosition unwinds a captured pair: filled legs close at the book,
// working legs are cancelled.
func (s *Hedged) ReleasePosition(ctx context.Context, eventID uint64) error {
	cmd := manualCmd{kind: manualRelease, eventID: eventID, reply: make(chan error, 1)}
	select {
	case s.manual <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Hedged) onEvent(ctx context.Context, e db.EventPosition) {
	switch e.Kind {
	case db.KindOpenHedged:
		if s.auto {
			s.openPair(ctx, e)
			return
		}
		// parked for manual capture until expiry
		s.pending[e.ID] = e
		s.dropExpired()
	case db.KindCloseHedged, db.KindCloseSingleSided:
		s.closePair(ctx, e)
	}
}

func (s *Hedged) dropExpired() {
	now := s.nowFn()
	for id, e := range s.pending {
		if e.Expiry != 0 && now > e.Expiry {
			delete(s.pending, id)
		}
	}
}

func (s *Hedged) capture(ctx context.Context, eventID uint64) error {
	e, ok := s.pending[eventID]
	if !ok {
		return fmt.Errorf("event %d not pending", eventID)
	}
	if e.Expiry != 0 && s.nowFn() > e.Expiry {
		delete(s.pending, eventID)
		return fmt.Errorf("event %d expired", eventID)
	}
	delete(s.pending, eventID)
	s.openPair(ctx, e)
	return nil
}

func (s *Hedged) release(eventID uint64) error {
	b, ok := s.batches.Get(eventID)
	if !ok {
		return fmt.Errorf("event %d has no batch", eventID)
	}
	for _, leg := range b.Legs {
		switch {
		case leg.FilledSize > 0:
			r := leg.Request
			s.requests <- common.RequestPlaceOrder{
				ClientID:     uuid.NewString(),
				Exchange:     r.Exchange,
				Symbol:       r.Symbol,
				Side:         r.Side.Opposite(),
				Type:         common.OrderTypeMarket,
				TIF:          common.TIFIOC,
				Effect:       common.EffectClose,
				Price:        r.Price,
				Size:         leg.FilledSize,
				StrategyID:   b.StrategyID,
				EventID:      eventID,
				OpenClientID: leg.ClientID,
				ReduceOnly:   true,
				CreateLt:     s.nowFn(),
			}
		case !leg.Status.Closed():
			s.requests <- common.RequestCancelOrder{
				Exchange: leg.Request.Exchange,
				Symbol:   leg.Request.Symbol,
				ClientID: leg.ClientID,
			}
		}
	}
	return nil
}

// openPair registers the two opening legs as one batch under the event id.
func (s *Hedged) openPair(ctx context.Context, e db.EventPosition) {
	legs, err := s.buildLegs(e, common.EffectOpen)
	if err != nil {
		log.Printf("⚠️ strategy %d: event %d: %v", s.strategyID(), e.ID, err)
		return
	}
	s.batches.Register(e.ID, s.strategyID(), s.guards.Strategy3EventExpiryMs, legs...)
	s.markPosition(ctx, e.ID, db.EventCaptured)
	log.Printf("✓ strategy %d: opened pair for %s, size %v", s.strategyID(), e.Asset, e.OpportunitySize)
}

// closePair emits the closing legs. The generator already oriented the
// sides toward flattening, so effect is Close on both.
func (s *Hedged) closePair(ctx context.Context, e db.EventPosition) {
	legs, err := s.buildLegs(e, common.EffectClose)
	if err != nil {
		log.Printf("⚠️ strategy %d: event %d: %v", s.strategyID(), e.ID, err)
		return
	}
	s.batches.Register(e.ID, s.strategyID(), 0, legs...)
	s.markPosition(ctx, e.ID, db.EventClosing)
}

func (s *Hedged) buildLegs(e db.EventPosition, effect common.PositionEffect) ([]common.RequestPlaceOrder, error) {
	var legs []common.RequestPlaceOrder

	if e.OrderBaSide != "" {
		ins, ok := s.cat.ByBase(catalog.Asset(e.Asset), common.ExchangeBinanceFutures)
		if !ok {
			return nil, fmt.Errorf("no binance instrument for %s", e.Asset)
		}
		leg, err := s.buildLeg(ins, common.Side(e.OrderBaSide), e.BaBid, e.BaAsk, e.OpportunitySize, effect, true)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	if e.OrderHlSide != "" {
		ins, ok := s.cat.ByBase(catalog.Asset(e.Asset), common.ExchangeHyperliquid)
		if !ok {
			return nil, fmt.Errorf("no hyperliquid instrument for %s", e.Asset)
		}
		leg, err := s.buildLeg(ins, common.Side(e.OrderHlSide), e.HlBid, e.HlAsk, e.OpportunitySize, effect, false)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("event carries no sides")
	}
	return legs, nil
}

// buildLeg prices one leg per the configured pair order type: in
// limit_market mode the Binance leg rests as a maker order at the bid
// offset while Hyperliquid takes; in market_market both take.
func (s *Hedged) buildLeg(ins catalog.Instrument, side common.Side, bid, ask, size float64,
	effect common.PositionEffect, binanceLeg bool) (common.RequestPlaceOrder, error) {

	price := ask
	if side == common.SideSell {
		price = bid
	}
	if price <= 0 || size <= 0 {
		return common.RequestPlaceOrder{}, fmt.Errorf("zero price or size on %s", ins.Symbol)
	}

	r := common.RequestPlaceOrder{
		Exchange:   ins.Exchange,
		Symbol:     ins.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		TIF:        common.TIFIOC,
		Effect:     effect,
		Price:      ins.RoundPrice(price),
		Size:       ins.RoundSize(size),
		ReduceOnly: effect == common.EffectClose,
	}
	if s.guards.PairOrderType == "limit_market" && binanceLeg {
		maker := bid * s.guards.BidOffset
		if side == common.SideSell {
			maker = ask * s.guards.BidOffset
		}
		r.Type = common.OrderTypeLimit
		r.TIF = common.TIFGTC
		r.Price = ins.RoundPrice(maker)
	}
	return r, nil
}

func (s *Hedged) markPosition(ctx context.Context, eventID uint64, status db.EventStatus) {
	if err := s.store.UpdateEventPositionStatus(ctx, eventID, status); err != nil {
		log.Printf("❌ strategy %d: event %d status %s not persisted: %v", s.strategyID(), eventID, status, err)
	}
}
