package accounting

import (
	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// OrderState is the reconciler's view of one order. Filled quantity and cost
// are monotone non-decreasing; once the close timestamp is set, side and
// total quantity are frozen.
type OrderState struct {
	OrderLid       uint64
	Instrument     catalog.Instrument
	Side           common.Side
	TotalQuantity  float64
	FilledQuantity float64
	FilledCost     float64
	SourceCreation int64
	// CloseTimestamp is non-zero iff the order is terminal.
	CloseTimestamp int64
	Trades         map[string]Trade
}

func newOrderState(u OrderUpdate) *OrderState {
	return &OrderState{
		OrderLid:       u.OrderLid,
		Instrument:     u.Instrument,
		Side:           u.Side,
		TotalQuantity:  u.TotalQuantity,
		SourceCreation: u.SourceTimestamp,
		Trades:         make(map[string]Trade),
	}
}

// Closed reports whether the order is terminal.
func (o *OrderState) Closed() bool { return o.CloseTimestamp != 0 }

// tradesSize sums the attached trades in the position-affecting dimension.
func (o *OrderState) tradesSize() float64 {
	var sum float64
	for _, t := range o.Trades {
		sum += tradeQty(o.Instrument, t)
	}
	return sum
}

// tradesCost sums the cash cost of the attached trades.
func (o *OrderState) tradesCost() float64 {
	var sum float64
	for _, t := range o.Trades {
		sum += t.Cost
	}
	return sum
}

// tradeQty picks the position-affecting dimension of a trade: cash-quoted
// instruments count cost, everything else counts size.
func tradeQty(ins catalog.Instrument, t Trade) float64 {
	if ins.SizeUnit == catalog.UnitQuote {
		return t.Cost
	}
	return t.Size
}

// applyUpdate folds an exchange report in. Filled figures take
// max(reported, current) so stale reports cannot roll progress back.
// Returns the pre/post (quantity, cost) pair for delta computation.
func (o *OrderState) applyUpdate(u OrderUpdate) (preQty, preCost, postQty, postCost float64, err error) {
	if o.Closed() {
		if !u.Closed {
			return 0, 0, 0, 0, invariantf("order %d: update reopens a closed order", o.OrderLid)
		}
		if u.TotalQuantity != o.TotalQuantity {
			return 0, 0, 0, 0, invariantf("order %d: closed total quantity changed %v -> %v",
				o.OrderLid, o.TotalQuantity, u.TotalQuantity)
		}
	}
	if u.Side != o.Side {
		return 0, 0, 0, 0, invariantf("order %d: side changed %s -> %s", o.OrderLid, o.Side, u.Side)
	}

	preQty, preCost = o.FilledQuantity, o.FilledCost

	reportedQty := u.FilledQuantity
	reportedCost := u.FilledCost
	if o.Instrument.SizeUnit == catalog.UnitQuote {
		reportedQty = u.FilledCost
	}
	if reportedQty > o.FilledQuantity {
		o.FilledQuantity = reportedQty
	}
	if reportedCost > o.FilledCost {
		o.FilledCost = reportedCost
	}
	if !o.Closed() && u.TotalQuantity > 0 {
		o.TotalQuantity = u.TotalQuantity
	}
	if o.FilledQuantity > o.TotalQuantity+epsilon {
		return 0, 0, 0, 0, invariantf("order %d: filled %v exceeds total %v",
			o.OrderLid, o.FilledQuantity, o.TotalQuantity)
	}
	if u.Closed && !o.Closed() {
		o.CloseTimestamp = u.SourceTimestamp
	}

	return preQty, preCost, o.FilledQuantity, o.FilledCost, nil
}

// applyNewTrade attaches a fill. The trade id must be new, the side must
// match, and the trade sum may never exceed the order total. A fill the
// order update already reported moves nothing further. When the filled
// quantity reaches the total the order closes opportunistically.
func (o *OrderState) applyNewTrade(t Trade) (preQty, preCost, postQty, postCost float64, err error) {
	if t.Side != o.Side {
		return 0, 0, 0, 0, invariantf("order %d: trade %s side %s against order side %s",
			o.OrderLid, t.TradeLid, t.Side, o.Side)
	}
	if _, dup := o.Trades[t.TradeLid]; dup {
		return 0, 0, 0, 0, invariantf("order %d: trade %s attached twice", o.OrderLid, t.TradeLid)
	}

	qtyAfter := o.tradesSize() + tradeQty(o.Instrument, t)
	costAfter := o.tradesCost() + t.Cost
	if o.TotalQuantity > 0 && qtyAfter > o.TotalQuantity+epsilon {
		return 0, 0, 0, 0, invariantf("order %d: trades sum %v exceeds total %v after %s",
			o.OrderLid, qtyAfter, o.TotalQuantity, t.TradeLid)
	}

	preQty, preCost = o.FilledQuantity, o.FilledCost
	o.Trades[t.TradeLid] = t
	if o.FilledQuantity < qtyAfter {
		o.FilledQuantity = qtyAfter
	}
	if o.FilledCost < costAfter {
		o.FilledCost = costAfter
	}

	if !o.Closed() && o.FilledQuantity >= o.TotalQuantity-epsilon && o.TotalQuantity > 0 {
		o.CloseTimestamp = t.ExchangeTime
	}

	return preQty, preCost, o.FilledQuantity, o.FilledCost, nil
}

// float comparisons tolerate accumulated rounding on filled sums
const epsilon = 1e-9
