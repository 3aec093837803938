package feed

import (
	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// Kind classifies a normalized market event.
type Kind string

const (
	KindQuote       Kind = "QUOTE"
	KindDepth       Kind = "DEPTH"
	KindTrade       Kind = "TRADE"
	KindOHLCVT      Kind = "OHLCVT"
	KindFundingRate Kind = "FUNDING_RATE"
	KindOracle      Kind = "ORACLE"
	KindMark        Kind = "MARK"
)

// MarketEvent is the single normalized shape all venue feeds produce.
type MarketEvent struct {
	Kind     Kind
	Exchange common.Exchange
	Symbol   string
	Asset    catalog.Asset
	Datetime int64 // exchange timestamp, ms

	// Quote
	Ask     float64
	AskSize float64
	Bid     float64
	BidSize float64

	// Depth (top 5, price/size pairs)
	Bids [][2]float64
	Asks [][2]float64

	// Trade / Oracle / Mark
	Price float64
	Size  float64

	// FundingRate
	Rate float64

	// OHLCVT
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	OpenTime int64
}
