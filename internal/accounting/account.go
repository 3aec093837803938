package accounting

import (
	"log"
	"math"

	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// SnapshotOrder is one open order carried by an account snapshot, together
// with the fills already attached to it at snapshot time.
type SnapshotOrder struct {
	Update OrderUpdate
	Trades []Trade
}

// SourceAccount reconciles one exchange account. A snapshot must be loaded
// before updates are processed; afterwards every exchange message is folded
// in exactly once, whatever order or session it arrives from.
type SourceAccount struct {
	exchange    common.Exchange
	maxDesyncMs int64

	snapshotLoaded bool
	snapshotTime   int64
	cleanupTime    int64

	positions      map[string]float64
	volatileOrders map[uint64]*OrderState
	settledOrders  map[uint64]*OrderState
	// fills that arrived before their order did, grouped by order lid
	volatileTrades map[uint64][]Trade
	seenTrades     map[string]Trade
	seenFunding    map[string]Funding
}

func NewSourceAccount(exchange common.Exchange, maxDesyncMs int64) *SourceAccount {
	return &SourceAccount{
		exchange:       exchange,
		maxDesyncMs:    maxDesyncMs,
		positions:      make(map[string]float64),
		volatileOrders: make(map[uint64]*OrderState),
		settledOrders:  make(map[uint64]*OrderState),
		volatileTrades: make(map[uint64][]Trade),
		seenTrades:     make(map[string]Trade),
		seenFunding:    make(map[string]Funding),
	}
}

// MaxDesyncMs is the configured clock-desync warning window.
func (a *SourceAccount) MaxDesyncMs() int64 { return a.maxDesyncMs }

// isLive reports whether a source timestamp belongs to the current session:
// after the snapshot and not already swept by cleanup.
func (a *SourceAccount) isLive(ts int64) bool {
	return ts > a.snapshotTime && ts > a.cleanupTime
}

// Position returns the reconciled quantity for a key, zero when absent.
func (a *SourceAccount) Position(key string) float64 { return a.positions[key] }

// Positions copies the current position view.
func (a *SourceAccount) Positions() map[string]float64 {
	out := make(map[string]float64, len(a.positions))
	for k, v := range a.positions {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces the position view with the exchange's own and seeds
// the open-order set. Fills already attached to snapshot orders become
// known, so re-reports of them are idempotent no-ops.
func (a *SourceAccount) LoadSnapshot(ts int64, positions map[string]float64, orders []SnapshotOrder) error {
	a.snapshotLoaded = true
	a.snapshotTime = ts
	a.positions = make(map[string]float64, len(positions))
	for k, v := range positions {
		a.positions[k] = v
	}
	for _, so := range orders {
		st := newOrderState(so.Update)
		for _, t := range so.Trades {
			if _, dup := st.Trades[t.TradeLid]; dup {
				return invariantf("snapshot order %d: trade %s listed twice", st.OrderLid, t.TradeLid)
			}
			st.Trades[t.TradeLid] = t
			st.FilledQuantity += tradeQty(st.Instrument, t)
			st.FilledCost += t.Cost
			a.seenTrades[t.TradeLid] = t
		}
		if so.Update.Closed {
			st.CloseTimestamp = so.Update.SourceTimestamp
		}
		a.volatileOrders[st.OrderLid] = st
	}
	return nil
}

// ProcessUpdates folds a batch of exchange messages into one UpdateBook.
// Returns nil when the batch changed nothing.
func (a *SourceAccount) ProcessUpdates(updates []Update) (*UpdateBook, error) {
	if !a.snapshotLoaded {
		return nil, invariantf("%s: updates before snapshot", a.exchange)
	}
	book := newUpdateBook()
	for _, u := range updates {
		var err error
		switch v := u.(type) {
		case OrderUpdate:
			err = a.onOrderUpdate(book, v)
		case Trade:
			err = a.onTrade(book, v)
		case Funding:
			err = a.onFunding(book, v)
		default:
			err = invariantf("%s: unknown update %T", a.exchange, u)
		}
		if err != nil {
			return nil, err
		}
	}
	if book.Empty() {
		return nil, nil
	}
	return book, nil
}

func (a *SourceAccount) onOrderUpdate(book *UpdateBook, u OrderUpdate) error {
	if st, ok := a.settledOrders[u.OrderLid]; ok {
		// a late closed echo must agree with what settled; a stale open
		// echo is just an out-of-order replay and carries nothing new
		if !u.Closed {
			return nil
		}
		reportedQty := u.FilledQuantity
		if st.Instrument.SizeUnit == catalog.UnitQuote {
			reportedQty = u.FilledCost
		}
		if u.TotalQuantity != st.TotalQuantity ||
			math.Abs(reportedQty-st.FilledQuantity) > epsilon ||
			math.Abs(u.FilledCost-st.FilledCost) > epsilon {
			return invariantf("order %d: settled echo disagrees, total %v/%v filled %v/%v cost %v/%v",
				u.OrderLid, u.TotalQuantity, st.TotalQuantity,
				reportedQty, st.FilledQuantity, u.FilledCost, st.FilledCost)
		}
		return nil
	}

	st, ok := a.volatileOrders[u.OrderLid]
	if !ok {
		if !a.isLive(u.SourceTimestamp) {
			// historical order: its fills are already in the snapshot
			log.Printf("⚠️ accounting: %s order %d update predates the snapshot, ignored",
				a.exchange, u.OrderLid)
			return nil
		}
		st = newOrderState(u)
		// fills that beat the order here already moved positions on arrival
		for _, t := range a.volatileTrades[u.OrderLid] {
			st.Trades[t.TradeLid] = t
			st.FilledQuantity += tradeQty(st.Instrument, t)
			st.FilledCost += t.Cost
		}
		delete(a.volatileTrades, u.OrderLid)
		a.volatileOrders[u.OrderLid] = st
	}

	preQty, preCost, postQty, postCost, err := st.applyUpdate(u)
	if err != nil {
		return err
	}
	deltas, err := computeDeltas(st.Instrument, st.Side, preQty, preCost, postQty, postCost, "", 0)
	if err != nil {
		return err
	}
	deltas.apply(a.positions, book.Positions)
	return a.checkSettlement(book, st)
}

func (a *SourceAccount) onTrade(book *UpdateBook, t Trade) error {
	if t.Size == 0 {
		return invariantf("trade %s: zero size", t.TradeLid)
	}
	if t.Price <= 0 {
		return invariantf("trade %s: price %v", t.TradeLid, t.Price)
	}
	if t.ExchangeTime < a.cleanupTime {
		return nil
	}
	if a.maxDesyncMs > 0 && absI64(t.ExchangeTime-a.snapshotTime) > a.maxDesyncMs {
		log.Printf("⚠️ accounting: %s trade %s is %dms from snapshot, clock desync?",
			a.exchange, t.TradeLid, absI64(t.ExchangeTime-a.snapshotTime))
	}

	if prev, seen := a.seenTrades[t.TradeLid]; seen {
		if !prev.samePayload(t) {
			return invariantf("trade %s: duplicate with contradictory payload", t.TradeLid)
		}
		return nil
	}
	if _, settled := a.settledOrders[t.OrderLid]; settled {
		return invariantf("trade %s: new fill for settled order %d", t.TradeLid, t.OrderLid)
	}

	if st, ok := a.volatileOrders[t.OrderLid]; ok {
		preQty, preCost, postQty, postCost, err := st.applyNewTrade(t)
		if err != nil {
			return err
		}
		deltas, err := computeDeltas(st.Instrument, st.Side, preQty, preCost, postQty, postCost, t.FeeAsset, t.Fee)
		if err != nil {
			return err
		}
		deltas.apply(a.positions, book.Positions)
		a.seenTrades[t.TradeLid] = t
		book.Trades = append(book.Trades, t)
		return a.checkSettlement(book, st)
	}

	if t.ExchangeTime < a.snapshotTime {
		// predates the snapshot: already reflected in the loaded positions
		a.seenTrades[t.TradeLid] = t
		book.HistoricalTrades = append(book.HistoricalTrades, t)
		return nil
	}

	// fill raced ahead of its order: move positions now, park the fill
	postQty := t.Size
	if t.Instrument.SizeUnit == catalog.UnitQuote {
		postQty = t.Cost
	}
	deltas, err := computeDeltas(t.Instrument, t.Side, 0, 0, postQty, t.Cost, t.FeeAsset, t.Fee)
	if err != nil {
		return err
	}
	deltas.apply(a.positions, book.Positions)
	a.seenTrades[t.TradeLid] = t
	a.volatileTrades[t.OrderLid] = append(a.volatileTrades[t.OrderLid], t)
	book.Trades = append(book.Trades, t)
	return nil
}

func (a *SourceAccount) onFunding(book *UpdateBook, f Funding) error {
	if prev, seen := a.seenFunding[f.FundingLid]; seen {
		if !prev.samePayload(f) {
			return invariantf("funding %s: duplicate with contradictory payload", f.FundingLid)
		}
		return nil
	}
	a.seenFunding[f.FundingLid] = f
	if f.SourceTimestamp < a.snapshotTime {
		// predates the snapshot: already reflected in the loaded positions
		book.HistoricalFunding = append(book.HistoricalFunding, f)
		return nil
	}
	if f.Quantity != 0 {
		key := string(f.Asset)
		a.positions[key] += f.Quantity
		book.Positions[key] = a.positions[key]
	}
	book.Funding = append(book.Funding, f)
	return nil
}

// checkSettlement retires a closed order once every fill has been matched
// against it. Closed orders that never filled vanish without a settlement
// entry.
func (a *SourceAccount) checkSettlement(book *UpdateBook, st *OrderState) error {
	if !st.Closed() {
		return nil
	}
	if math.Abs(st.FilledQuantity-st.tradesSize()) > epsilon {
		return nil // fills still in flight
	}
	delete(a.volatileOrders, st.OrderLid)
	a.settledOrders[st.OrderLid] = st
	if st.FilledQuantity <= epsilon {
		// never filled: remembered for trade busts but not reported
		return nil
	}
	book.SettledOrders = append(book.SettledOrders, SettledOrder{Exchange: a.exchange, OrderLid: st.OrderLid})
	return nil
}

// AdvanceCleanupTime drops settlement and dedup state older than t. Anything
// older than t that the reconciler still depends on is a fatal limbo.
func (a *SourceAccount) AdvanceCleanupTime(t int64) error {
	if t <= a.cleanupTime {
		return invariantf("%s: cleanup time not advancing, %d <= %d", a.exchange, t, a.cleanupTime)
	}
	for lid, st := range a.volatileOrders {
		if st.Closed() && st.CloseTimestamp < t {
			return invariantf("order %d: closed at %d but unsettled past cleanup %d", lid, st.CloseTimestamp, t)
		}
	}
	for lid, group := range a.volatileTrades {
		for _, tr := range group {
			if tr.ExchangeTime < t {
				return invariantf("trade %s: parked for order %d past cleanup %d", tr.TradeLid, lid, t)
			}
		}
	}
	for lid, st := range a.settledOrders {
		if st.CloseTimestamp < t {
			delete(a.settledOrders, lid)
		}
	}
	for lid, tr := range a.seenTrades {
		if tr.ExchangeTime < t {
			delete(a.seenTrades, lid)
		}
	}
	for lid, f := range a.seenFunding {
		if f.SourceTimestamp < t {
			delete(a.seenFunding, lid)
		}
	}
	a.cleanupTime = t
	return nil
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
