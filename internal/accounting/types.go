// Package accounting folds exchange-reported order updates, trade fills and
// funding payments into a consistent per-(account, exchange) position view.
// It tolerates duplicate, out-of-order and cross-session messages, and fails
// loudly on anything that contradicts already-reconciled state.
package accounting

import (
	"fmt"

	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// InvariantError is a consistency breach inside the reconciler. It is fatal
// for the owning account task: the supervisor reacts by cancelling the
// engine rather than trading on corrupt state.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "accounting invariant: " + e.Msg }

func invariantf(format string, args ...any) error {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

// OrderUpdate is an exchange-reported order status.
type OrderUpdate struct {
	OrderLid        uint64
	Instrument      catalog.Instrument
	Side            common.Side
	TotalQuantity   float64
	FilledQuantity  float64
	FilledCost      float64
	Closed          bool
	SourceTimestamp int64 // exchange ts, ms
}

// Trade is an exchange-reported fill.
type Trade struct {
	TradeLid     string
	OrderLid     uint64
	Instrument   catalog.Instrument
	Side         common.Side
	Price        float64
	Size         float64
	Cost         float64 // price*size
	Fee          float64
	FeeAsset     catalog.Asset
	ExchangeTime int64 // ms
}

// samePayload reports whether two reports of one trade id agree.
func (t Trade) samePayload(other Trade) bool {
	return t.OrderLid == other.OrderLid &&
		t.Side == other.Side &&
		t.Price == other.Price &&
		t.Size == other.Size &&
		t.Fee == other.Fee &&
		t.FeeAsset == other.FeeAsset
}

// Funding is an exchange-reported funding payment, idempotent by lid.
type Funding struct {
	FundingLid      string
	Instrument      catalog.Instrument
	Asset           catalog.Asset
	Quantity        float64 // signed
	SourceTimestamp int64
}

// samePayload reports whether two reports of one funding id agree.
func (f Funding) samePayload(other Funding) bool {
	return f.Asset == other.Asset &&
		f.Quantity == other.Quantity &&
		f.SourceTimestamp == other.SourceTimestamp
}

// Update is the tagged input vocabulary of the reconciler.
type Update interface{ isAccountingUpdate() }

func (OrderUpdate) isAccountingUpdate() {}
func (Trade) isAccountingUpdate()       {}
func (Funding) isAccountingUpdate()     {}

// SettledOrder names one order that settled during a batch.
type SettledOrder struct {
	Exchange common.Exchange
	OrderLid uint64
}

// UpdateBook is the delta produced by one batch of updates. Positions carry
// only the keys whose quantity changed.
type UpdateBook struct {
	Positions         map[string]float64
	SettledOrders     []SettledOrder
	Trades            []Trade // current-session
	HistoricalTrades  []Trade // predate the snapshot
	Funding           []Funding
	HistoricalFunding []Funding // predate the snapshot
}

func newUpdateBook() *UpdateBook {
	return &UpdateBook{Positions: make(map[string]float64)}
}

// Empty reports whether the batch changed nothing.
func (b *UpdateBook) Empty() bool {
	return len(b.Positions) == 0 &&
		len(b.SettledOrders) == 0 &&
		len(b.Trades) == 0 &&
		len(b.HistoricalTrades) == 0 &&
		len(b.Funding) == 0 &&
		len(b.HistoricalFunding) == 0
}
