package db

// SignalLevel grades signal severity.
type SignalLevel string

const (
	LevelNormal   SignalLevel = "NORMAL"
	LevelHigh     SignalLevel = "HIGH"
	LevelCritical SignalLevel = "CRITICAL"
)

// SignalPriceDifference is a cross-venue basis-point divergence observation.
type SignalPriceDifference struct {
	ID          uint64
	Datetime    int64
	Asset       string
	Binance     float64
	Hyper       float64
	HyperMark   float64
	HyperOracle float64
	Difference  float64
	Bp          float64
	Level       SignalLevel
	Used        bool
}

// SignalPriceChange is a rolling-window trend observation on one feed.
type SignalPriceChange struct {
	ID       uint64
	Datetime int64
	Asset    string
	Exchange string
	Price    float64
	High     float64
	Low      float64
	Bp       float64
	IsRising bool
	Level    SignalLevel
	Used     bool
}

// RatioKind distinguishes the two paired-venue ratio signals.
type RatioKind string

const (
	RatioBinAskHypBid RatioKind = "BIN_ASK_HYP_BID"
	RatioBinBidHypAsk RatioKind = "BIN_BID_HYP_ASK"
)

// SignalBinHypRatio is an instantaneous paired-venue price ratio breach.
type SignalBinHypRatio struct {
	ID       uint64
	Datetime int64
	Asset    string
	Kind     RatioKind
	Ratio    float64
	BinPrice float64
	HypPrice float64
	Level    SignalLevel
	Used     bool
}

// EventStatus is the lifecycle of a strategy event.
type EventStatus string

const (
	EventGenerated             EventStatus = "GENERATED"
	EventTooSmallOpportunity   EventStatus = "TOO_SMALL_OPPORTUNITY_SIZE"
	EventInsufficientFund      EventStatus = "INSUFFICIENT_FUND"
	EventBelowTriggerThreshold EventStatus = "BELOW_TRIGGER_THRESHOLD"
	EventCaptured              EventStatus = "CAPTURED"
	EventMissedOpportunity     EventStatus = "MISSED_OPPORTUNITY"
	EventPartialHit            EventStatus = "PARTIAL_HIT"
	EventFullyHit              EventStatus = "FULLY_HIT"
	EventClosing               EventStatus = "CLOSING"
	EventPartialClosed         EventStatus = "PARTIAL_CLOSED"
	EventFullyClosed           EventStatus = "FULLY_CLOSED"
	EventThrottled             EventStatus = "THROTTLED"
	EventNotReady              EventStatus = "NOT_READY"
	EventZeroPriceOrSize       EventStatus = "ZERO_PRICE_OR_SIZE"
	EventErrored               EventStatus = "ERRORED"
)

// EventPriceChangeAndDiff is the strategy-1 event row: a price-change and a
// price-difference signal joined on one asset.
type EventPriceChangeAndDiff struct {
	ID                 uint64
	Datetime           int64
	Asset              string
	SignalLevel        SignalLevel
	SignalDifferenceID uint64
	SignalChangeID     uint64
	IsRising           bool
	Price              float64
	LastPrice          float64
	BinancePrice       float64
	HyperPrice         float64
	Bp                 float64
	// appended after the order lifecycle completes
	HyperPriceAtOrderClose float64
	HyperPriceOrderFill    float64
	BinPriceAtOrderClose   float64
	BinPriceOrderFill      float64
	Status                 EventStatus
}

// PositionEventKind classifies strategy-2/3 pair events.
type PositionEventKind string

const (
	KindOpenHedged       PositionEventKind = "OPEN_HEDGED"
	KindCloseHedged      PositionEventKind = "CLOSE_HEDGED"
	KindCloseSingleSided PositionEventKind = "CLOSE_SINGLE_SIDED"
)

// EventPosition is the strategy-2/3 event row: both venues' BBA plus current
// balances and the proposed pair.
type EventPosition struct {
	ID              uint64
	Datetime        int64
	Asset           string
	Kind            PositionEventKind
	BaBid           float64
	BaAsk           float64
	HlBid           float64
	HlAsk           float64
	BaBalance       float64
	HlBalance       float64
	OpportunitySize float64
	Expiry          int64
	OrderBaSide     string
	OrderHlSide     string
	Status          EventStatus
}

// OrderRow mirrors one work-table order for persistence.
type OrderRow struct {
	LocalID           uint64
	Exchange          string
	Symbol            string
	ClientID          string
	ServerID          string
	Price             float64
	Size              float64
	FilledSize        float64
	OrderType         string
	Side              string
	PositionEffect    string
	Status            string
	TIF               string
	CreateLt          int64
	UpdateLt          int64
	UpdateTst         int64
	StrategyID        int
	EventID           uint64
	OpenOrderClientID string
}

// LedgerRow is one applied position delta.
type LedgerRow struct {
	ID       uint64
	Datetime int64
	Exchange string
	Symbol   string
	Quantity float64
	OrderLid uint64
	TradeLid string
	Reason   string
}

// BestBidAskRow is a persisted cross-venue snapshot.
type BestBidAskRow struct {
	ID              uint64
	Datetime        int64
	Asset           string
	BinAsk          float64
	BinAskSize      float64
	BinBid          float64
	BinBidSize      float64
	HypAsk          float64
	HypAskSize      float64
	HypBid          float64
	HypBidSize      float64
	HyperOracle     float64
	HyperMark       float64
	SpreadBuyHyper  float64
	SpreadSellHyper float64
}

// SpreadMeanRow is the per-asset rolling spread summary.
type SpreadMeanRow struct {
	Asset     string
	MeanBuy   float64
	MeanSell  float64
	Samples   int
	UpdatedAt int64
}

// AccuracyRow records realized prices against an event's prediction.
type AccuracyRow struct {
	ID           uint64
	EventID      uint64
	Datetime     int64
	Asset        string
	PriceAtEvent float64
	PriceAtFill  float64
	PriceAtClose float64
}

// SymbolFlags gates an asset in or out of trading.
type SymbolFlags struct {
	Asset       string
	Enabled     bool
	Blacklisted bool
	UpdatedAt   int64
}

// Candlestick is one 1-minute OHLCV bar.
type Candlestick struct {
	Exchange string
	Symbol   string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
