// Package strategy turns generated events into execution requests and walks
// each event through its order lifecycle.
package strategy

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/order"
	"arb-engine/internal/pricing"
	"arb-engine/pkg/config"
	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

const sweepEvery = 250 * time.Millisecond

// eventRun tracks one captured event's open/close progress.
type eventRun struct {
	event     db.EventPriceChangeAndDiff
	status    db.EventStatus
	openCid   string
	openDone  bool // open order reached a terminal status
	openSize  float64
	closed    float64 // close size confirmed filled
	closing   float64 // close size requested
	binAtFill float64
	hypAtFill float64
}

// Directional is the single-venue momentum strategy: it chases the event
// side on Binance and exits at a fixed profit ratio.
type Directional struct {
	bus      *events.Bus
	store    *db.Store
	guards   config.StrategyGuards
	cat      *catalog.Catalog
	orders   *order.Table
	requests chan<- common.ExecutionRequest

	quotes map[catalog.Asset]pricing.BestBidAsk
	runs   map[uint64]*eventRun

	nowFn func() int64
}

func NewDirectional(bus *events.Bus, store *db.Store, guards config.StrategyGuards,
	cat *catalog.Catalog, orders *order.Table, requests chan<- common.ExecutionRequest) *Directional {

	return &Directional{
		bus:      bus,
		store:    store,
		guards:   guards,
		cat:      cat,
		orders:   orders,
		requests: requests,
		quotes:   make(map[catalog.Asset]pricing.BestBidAsk),
		runs:     make(map[uint64]*eventRun),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *Directional) Run(ctx context.Context) error {
	evs, unsubEvs := s.bus.Subscribe(events.TopicEventOne, 50)
	defer unsubEvs()
	updates, unsubUpd := s.bus.Subscribe(events.TopicOrderUpdate, 200)
	defer unsubUpd()
	quotes, unsubQ := s.bus.Subscribe(events.TopicBestBidAsk, 200)
	defer unsubQ()

	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	log.Printf("✓ strategy 1 started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-quotes:
			if snap, ok := msg.(pricing.BestBidAsk); ok {
				s.quotes[snap.Asset] = snap
			}
		case msg := <-evs:
			if e, ok := msg.(db.EventPriceChangeAndDiff); ok {
				s.onEvent(ctx, e)
			}
		case msg := <-updates:
			if u, ok := msg.(common.UpdateOrder); ok {
				s.onOrderUpdate(ctx, u)
			}
		case <-sweep.C:
			s.cancelSweep()
		}
	}
}

// onEvent opens at the event-side top of book, capped by the visible size
// and the configured notional.
func (s *Directional) onEvent(ctx context.Context, e db.EventPriceChangeAndDiff) {
	ins, ok := s.cat.ByBase(catalog.Asset(e.Asset), common.ExchangeBinanceFutures)
	if !ok {
		return
	}
	snap, ok := s.quotes[catalog.Asset(e.Asset)]
	if !ok {
		s.mark(ctx, e.ID, db.EventNotReady)
		return
	}

	side := common.SideSell
	price, topSize := snap.BinBid, snap.BinBidSize
	if e.IsRising {
		side = common.SideBuy
		price, topSize = snap.BinAsk, snap.BinAskSize
	}
	if price <= 0 || topSize <= 0 {
		s.mark(ctx, e.ID, db.EventZeroPriceOrSize)
		return
	}

	size := ins.RoundSize(math.Min(topSize, s.guards.OpenOrderNotional/price))
	if size*price < s.guards.MinOrderNotional {
		s.mark(ctx, e.ID, db.EventTooSmallOpportunity)
		return
	}

	cid := uuid.NewString()
	s.runs[e.ID] = &eventRun{
		event:   e,
		status:  db.EventCaptured,
		openCid: cid,
	}
	s.mark(ctx, e.ID, db.EventCaptured)
	s.requests <- common.RequestPlaceOrder{
		ClientID:   cid,
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     ins.Symbol,
		Side:       side,
		Type:       common.OrderTypeLimit,
		TIF:        common.TIFGTC,
		Effect:     common.EffectOpen,
		Price:      ins.RoundPrice(price),
		Size:       size,
		StrategyID: common.StrategyOne,
		EventID:    e.ID,
		CreateLt:   s.nowFn(),
	}
}

func (s *Directional) onOrderUpdate(ctx context.Context, u common.UpdateOrder) {
	if u.StrategyID != common.StrategyOne {
		return
	}
	run, ok := s.runs[u.EventID]
	if !ok {
		return
	}
	if u.ClientID == run.openCid {
		s.onOpenUpdate(ctx, run, u)
	} else {
		s.onCloseUpdate(ctx, run, u)
	}
}

func (s *Directional) onOpenUpdate(ctx context.Context, run *eventRun, u common.UpdateOrder) {
	if run.openDone {
		return
	}
	if u.LastFilledSize > 0 {
		if run.binAtFill == 0 {
			run.binAtFill = u.AvgPrice
			if snap, ok := s.quotes[catalog.Asset(run.event.Asset)]; ok {
				run.hypAtFill = (snap.HypBid + snap.HypAsk) / 2
			}
		}
		run.openSize += u.LastFilledSize
	}

	switch u.Status {
	case common.StatusFilled:
		run.openDone = true
		s.mark(ctx, run.event.ID, db.EventFullyHit)
	case common.StatusPartial:
		s.mark(ctx, run.event.ID, db.EventPartialHit)
	case common.StatusCanceled, common.StatusExpired:
		run.openDone = true
		if run.openSize == 0 {
			s.mark(ctx, run.event.ID, db.EventMissedOpportunity)
			delete(s.runs, run.event.ID)
		} else {
			s.mark(ctx, run.event.ID, db.EventPartialHit)
		}
	case common.StatusRejected:
		run.openDone = true
		s.mark(ctx, run.event.ID, db.EventErrored)
		delete(s.runs, run.event.ID)
		return
	}

	// every fill slice gets its own exit order
	if u.LastFilledSize > 0 {
		s.placeClose(ctx, run, u, u.LastFilledSize)
	}
}

// placeClose exits one fill slice at the profit-ratio price.
func (s *Directional) placeClose(ctx context.Context, run *eventRun, open common.UpdateOrder, size float64) {
	ins, ok := s.cat.Lookup(open.Exchange, open.Symbol)
	if !ok {
		return
	}
	snap, haveQuote := s.quotes[ins.Base]

	closeSide := open.Side.Opposite()
	var price float64
	if open.Side == common.SideBuy {
		base := open.AvgPrice
		if haveQuote && snap.BinAsk > 0 {
			base = snap.BinAsk
		}
		price = base * s.guards.ClosePositionLimitProfitRatio
	} else {
		base := open.AvgPrice
		if haveQuote && snap.BinBid > 0 {
			base = snap.BinBid
		}
		price = base / s.guards.ClosePositionLimitProfitRatio
	}

	run.closing += size
	s.mark(ctx, run.event.ID, db.EventClosing)
	s.requests <- common.RequestPlaceOrder{
		ClientID:     uuid.NewString(),
		Exchange:     open.Exchange,
		Symbol:       open.Symbol,
		Side:         closeSide,
		Type:         common.OrderTypeLimit,
		TIF:          common.TIFGTC,
		Effect:       common.EffectClose,
		Price:        ins.RoundPrice(price),
		Size:         size,
		StrategyID:   common.StrategyOne,
		EventID:      run.event.ID,
		OpenClientID: run.openCid,
		CreateLt:     s.nowFn(),
	}
}

func (s *Directional) onCloseUpdate(ctx context.Context, run *eventRun, u common.UpdateOrder) {
	if u.LastFilledSize > 0 {
		run.closed += u.LastFilledSize
	}
	if !u.Status.Closed() || !run.openDone {
		return
	}
	if run.closed+1e-9 < run.closing {
		// another close order is still working
		if active := s.activeCloses(run); active > 0 {
			return
		}
	}
	s.finish(ctx, run)
}

func (s *Directional) activeCloses(run *eventRun) int {
	n := 0
	for _, o := range s.orders.ByStrategy(common.StrategyOne) {
		if o.EventID == run.event.ID && o.Effect == common.EffectClose && o.Active() {
			n++
		}
	}
	return n
}

// finish records the realized outcome and the accuracy row.
func (s *Directional) finish(ctx context.Context, run *eventRun) {
	status := db.EventFullyClosed
	if run.closed+1e-9 < run.openSize {
		status = db.EventPartialClosed
	}
	s.mark(ctx, run.event.ID, status)

	var binAtClose, hypAtClose float64
	if snap, ok := s.quotes[catalog.Asset(run.event.Asset)]; ok {
		if run.event.IsRising {
			binAtClose = snap.BinBid
		} else {
			binAtClose = snap.BinAsk
		}
		hypAtClose = (snap.HypBid + snap.HypAsk) / 2
	}
	if err := s.store.UpdateEvent1HyperPrices(ctx, run.event.ID, hypAtClose, run.hypAtFill); err != nil {
		log.Printf("❌ strategy 1: hyper price update failed: %v", err)
	}
	id, err := s.store.NextIndex(ctx, "accuracy")
	if err == nil {
		err = s.store.InsertAccuracy(ctx, db.AccuracyRow{
			ID:           id,
			EventID:      run.event.ID,
			Datetime:     s.nowFn(),
			Asset:        run.event.Asset,
			PriceAtEvent: run.event.Price,
			PriceAtFill:  run.binAtFill,
			PriceAtClose: binAtClose,
		})
	}
	if err != nil {
		log.Printf("❌ strategy 1: accuracy row failed: %v", err)
	}
	delete(s.runs, run.event.ID)
}

// cancelSweep ages out working orders: stale opens are cancelled, stale
// closes are cancelled and reissued as Market IOC at the touch.
func (s *Directional) cancelSweep() {
	now := s.nowFn()
	for _, o := range s.orders.ByStrategy(common.StrategyOne) {
		if !o.Active() || o.Status == common.StatusPending {
			continue
		}
		age := o.AgeMs(now)
		switch {
		case o.Effect == common.EffectOpen && age > s.guards.OpenOrderCancelAgeMs:
			s.requests <- common.RequestCancelOrder{
				Exchange: o.Exchange,
				Symbol:   o.Symbol,
				LocalID:  o.LocalID,
				ClientID: o.ClientID,
				ServerID: o.ServerID,
			}
		case o.Effect == common.EffectClose && age > s.guards.CloseOrderCancelAgeMs:
			s.requests <- common.RequestCancelOrder{
				Exchange: o.Exchange,
				Symbol:   o.Symbol,
				LocalID:  o.LocalID,
				ClientID: o.ClientID,
				ServerID: o.ServerID,
			}
			s.reissueCloseAtMarket(o)
		}
	}
}

func (s *Directional) reissueCloseAtMarket(o order.Order) {
	remaining := o.Size - o.FilledSize
	if remaining <= 0 {
		return
	}
	price := o.Price
	if snap, ok := s.quotes[s.baseOf(o)]; ok {
		if o.Side == common.SideSell && snap.BinBid > 0 {
			price = snap.BinBid
		} else if o.Side == common.SideBuy && snap.BinAsk > 0 {
			price = snap.BinAsk
		}
	}
	s.placeMarketClose(o, price, remaining)
}

func (s *Directional) placeMarketClose(o order.Order, price, size float64) {
	s.requests <- common.RequestPlaceOrder{
		ClientID:     uuid.NewString(),
		Exchange:     o.Exchange,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Type:         common.OrderTypeMarket,
		TIF:          common.TIFIOC,
		Effect:       common.EffectClose,
		Price:        price,
		Size:         size,
		StrategyID:   common.StrategyOne,
		EventID:      o.EventID,
		OpenClientID: o.OpenOrderClientID,
		ReduceOnly:   true,
		CreateLt:     s.nowFn(),
	}
}

func (s *Directional) baseOf(o order.Order) catalog.Asset {
	if ins, ok := s.cat.Lookup(o.Exchange, o.Symbol); ok {
		return ins.Base
	}
	return catalog.Asset(o.Symbol)
}

func (s *Directional) mark(ctx context.Context, eventID uint64, status db.EventStatus) {
	if run, ok := s.runs[eventID]; ok {
		run.status = status
	}
	if err := s.store.UpdateEvent1Status(ctx, eventID, status); err != nil {
		log.Printf("❌ strategy 1: event %d status %s not persisted: %v", eventID, status, err)
	}
}
